package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sparcs-kamf/backend/internal/auth"
	"github.com/sparcs-kamf/backend/internal/config"
	"github.com/sparcs-kamf/backend/internal/database"
	"github.com/sparcs-kamf/backend/internal/festival"
	"github.com/sparcs-kamf/backend/internal/logging"
	"github.com/sparcs-kamf/backend/internal/safety"
	"github.com/sparcs-kamf/backend/internal/server"
	"github.com/sparcs-kamf/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kamf-api",
		Short: "KAMF festival backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("access-ttl-minutes", defaults.GetInt("auth.access_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().Int("refresh-ttl-minutes", defaults.GetInt("auth.refresh_ttl_minutes"), "Refresh token TTL in minutes")
	cmd.PersistentFlags().String("cors-origins", defaults.GetString("cors.origins"), "Comma-separated allowed CORS origins")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.access_ttl_minutes", "access-ttl-minutes")
	bindFlag(cmd, "auth.refresh_ttl_minutes", "refresh-ttl-minutes")
	bindFlag(cmd, "cors.origins", "cors-origins")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// A local .env is optional; environment variables win either way.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		AccessTTL:     appConfig.AccessTTL,
		RefreshTTL:    appConfig.RefreshTTL,
	})

	codeService, err := auth.NewCodeService(auth.CodeServiceConfig{
		Database: db,
		Sender:   auth.NewLogSender(logger),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
	})
	if err != nil {
		return err
	}

	countStore, err := safety.NewRepository(safety.RepositoryConfig{
		IDProvider: safety.NewUUIDProvider(),
	})
	if err != nil {
		return err
	}

	safetyService, err := safety.NewService(safety.ServiceConfig{
		Database: db,
		Store:    countStore,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	festivalService, err := festival.NewService(festival.ServiceConfig{
		Database: db,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		CodeService:     codeService,
		TokenManager:    tokenManager,
		UsersService:    usersService,
		SafetyService:   safetyService,
		FestivalService: festivalService,
		CORSOrigins:     appConfig.CORSOrigins,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
