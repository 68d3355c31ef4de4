package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sparcs-kamf/backend/internal/auth"
	"github.com/sparcs-kamf/backend/internal/festival"
	"github.com/sparcs-kamf/backend/internal/safety"
	"github.com/sparcs-kamf/backend/internal/users"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "kamf_user_id"
	rolesContextKey  = "kamf_user_roles"
)

var (
	errMissingCodeService     = errors.New("code service dependency required")
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingUsersService    = errors.New("users service dependency required")
	errMissingSafetyService   = errors.New("safety service dependency required")
	errMissingFestivalService = errors.New("festival service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// CodeVerifier drives the SMS verification flow.
type CodeVerifier interface {
	RequestCode(ctx context.Context, phoneNumber string) error
	VerifyCode(ctx context.Context, phoneNumber, code string) (bool, error)
}

// TokenManager issues and validates backend tokens.
type TokenManager interface {
	IssueTokenPair(ctx context.Context, userID string, roles []string) (auth.TokenPair, error)
	ValidateAccessToken(token string) (string, []string, error)
	ValidateRefreshToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the application services.
type Dependencies struct {
	CodeService     CodeVerifier
	TokenManager    TokenManager
	UsersService    *users.Service
	SafetyService   *safety.Service
	FestivalService *festival.Service
	CORSOrigins     []string
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin router for the festival API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.CodeService == nil {
		return nil, errMissingCodeService
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.SafetyService == nil {
		return nil, errMissingSafetyService
	}
	if deps.FestivalService == nil {
		return nil, errMissingFestivalService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		codes:    deps.CodeService,
		tokens:   deps.TokenManager,
		users:    deps.UsersService,
		safety:   deps.SafetyService,
		festival: deps.FestivalService,
		logger:   logger,
	}

	router.POST("/auth/send-code", handler.handleSendCode)
	router.POST("/auth/verify", handler.handleVerifyCode)
	router.POST("/auth/refresh", handler.handleRefreshToken)

	router.GET("/booths", handler.handleListBooths)
	router.GET("/booths/:id", handler.handleGetBooth)
	router.GET("/stages", handler.handleListStages)
	router.GET("/stages/:id", handler.handleGetStage)

	router.GET("/safety/health", handler.handleSafetyHealth)

	protected := router.Group("/safety")
	protected.Use(handler.authorizeRequest)
	staffOnly := protected.Group("/")
	staffOnly.Use(handler.requireRoles(users.RoleSafety, users.RoleAdmin))
	staffOnly.POST("/count", handler.handleUpdateCount)
	staffOnly.GET("/stats", handler.handleSafetyStats)
	staffOnly.GET("/history", handler.handleSafetyHistory)

	adminOnly := protected.Group("/admin")
	adminOnly.Use(handler.requireRoles(users.RoleAdmin))
	adminOnly.DELETE("/users/:userId", handler.handleResetUserData)
	adminOnly.DELETE("/dates/:date", handler.handleResetDateData)

	return router, nil
}

type httpHandler struct {
	codes    CodeVerifier
	tokens   TokenManager
	users    *users.Service
	safety   *safety.Service
	festival *festival.Service
	logger   *zap.Logger
}

type sendCodePayload struct {
	PhoneNumber string `json:"phoneNumber"`
}

func (h *httpHandler) handleSendCode(c *gin.Context) {
	var request sendCodePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PhoneNumber) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.codes.RequestCode(c.Request.Context(), request.PhoneNumber); err != nil {
		if errors.Is(err, auth.ErrInvalidPhoneNumber) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_phone_number"})
			return
		}
		h.logger.Error("failed to issue verification code", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "code_request_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "verification code sent"})
}

type verifyCodePayload struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
}

type userPayload struct {
	ID          string   `json:"id"`
	PhoneNumber string   `json:"phoneNumber"`
	Name        string   `json:"name"`
	Roles       []string `json:"roles"`
}

type authResponsePayload struct {
	auth.TokenPair
	User userPayload `json:"user"`
}

func (h *httpHandler) handleVerifyCode(c *gin.Context) {
	var request verifyCodePayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.PhoneNumber) == "" || strings.TrimSpace(request.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	verified, err := h.codes.VerifyCode(c.Request.Context(), request.PhoneNumber, request.Code)
	if err != nil {
		h.logger.Error("code verification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification_failed"})
		return
	}
	if !verified {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_code"})
		return
	}

	account, err := h.users.FindOrCreateByPhone(c.Request.Context(), request.PhoneNumber)
	if err != nil {
		h.logger.Error("failed to resolve account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account_resolution_failed"})
		return
	}

	pair, err := h.tokens.IssueTokenPair(c.Request.Context(), account.ID, account.RoleList())
	if err != nil {
		h.logger.Error("failed to issue tokens", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		TokenPair: pair,
		User: userPayload{
			ID:          account.ID,
			PhoneNumber: account.PhoneNumber,
			Name:        account.Name,
			Roles:       account.RoleList(),
		},
	})
}

type refreshTokenPayload struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *httpHandler) handleRefreshToken(c *gin.Context) {
	var request refreshTokenPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.RefreshToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	userID, err := h.tokens.ValidateRefreshToken(request.RefreshToken)
	if err != nil {
		h.logger.Warn("refresh token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	account, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to load account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account_resolution_failed"})
		return
	}

	pair, err := h.tokens.IssueTokenPair(c.Request.Context(), account.ID, account.RoleList())
	if err != nil {
		h.logger.Error("failed to issue tokens", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, pair)
}

type countRequestPayload struct {
	Increment int `json:"increment"`
	Decrement int `json:"decrement"`
}

func (h *httpHandler) handleUpdateCount(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request countRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.safety.UpdateCount(c.Request.Context(), userID, request.Increment, request.Decrement)
	if err != nil {
		h.writeSafetyError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleSafetyStats(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result, err := h.safety.GetStats(c.Request.Context(), userID, c.Query("date"))
	if err != nil {
		h.writeSafetyError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleSafetyHistory(c *gin.Context) {
	result, err := h.safety.GetHistory(
		c.Request.Context(),
		c.Query("startDate"),
		c.Query("endDate"),
		c.Query("userId"),
	)
	if err != nil {
		h.writeSafetyError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleSafetyHealth(c *gin.Context) {
	status := h.safety.HealthStatus(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *httpHandler) handleResetUserData(c *gin.Context) {
	result, err := h.safety.ResetUserData(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.writeSafetyError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleResetDateData(c *gin.Context) {
	result, err := h.safety.ResetDateData(c.Request.Context(), c.Param("date"))
	if err != nil {
		h.writeSafetyError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleListBooths(c *gin.Context) {
	booths, err := h.festival.ListBooths(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list booths", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"booths": booths})
}

func (h *httpHandler) handleGetBooth(c *gin.Context) {
	booth, err := h.festival.GetBooth(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, festival.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to load booth", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"booth": booth})
}

func (h *httpHandler) handleListStages(c *gin.Context) {
	stages, err := h.festival.ListStages(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list stages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": stages})
}

func (h *httpHandler) handleGetStage(c *gin.Context) {
	stage, err := h.festival.GetStage(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, festival.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("failed to load stage", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage": stage})
}

// writeSafetyError maps the safety error taxonomy to HTTP statuses. The three
// categories (fix your input, retry later, something broke) must stay distinct.
func (h *httpHandler) writeSafetyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, safety.ErrInvalidCount),
		errors.Is(err, safety.ErrInvalidDate),
		errors.Is(err, safety.ErrInvalidRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, safety.ErrWriteConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "too many concurrent updates, please retry shortly",
		})
	default:
		h.logger.Error("safety request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, roles, err := h.tokens.ValidateAccessToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Set(rolesContextKey, roles)
	c.Next()
}

func (h *httpHandler) requireRoles(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, _ := c.Get(rolesContextKey)
		granted, _ := roles.([]string)
		for _, role := range granted {
			for _, want := range allowed {
				if role == want {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}
