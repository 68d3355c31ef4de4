package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour

	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	errWrongTokenUse        = errors.New("token use claim mismatch")
)

// TokenClaims is the backend JWT payload: subject plus role names and a
// token-use discriminator so refresh tokens cannot be replayed as access tokens.
type TokenClaims struct {
	Roles    []string `json:"roles,omitempty"`
	TokenUse string   `json:"token_use"`
	jwt.RegisteredClaims
}

// TokenPair bundles the credentials handed to a verified client.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates backend JWTs after SMS verification.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg.Clock = clock
	return &TokenIssuer{config: cfg, clock: clock}
}

// IssueTokenPair produces signed access and refresh tokens for the verified user.
func (i *TokenIssuer) IssueTokenPair(_ context.Context, userID string, roles []string) (TokenPair, error) {
	if len(i.config.SigningSecret) == 0 {
		return TokenPair{}, errMissingSigningSecret
	}
	if userID == "" {
		return TokenPair{}, errMissingSubjectClaim
	}

	access, expiresIn, err := i.sign(userID, roles, tokenUseAccess, i.config.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := i.sign(userID, nil, tokenUseRefresh, i.config.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

// ValidateAccessToken ensures an access JWT is well formed and returns the
// subject and its role names.
func (i *TokenIssuer) ValidateAccessToken(tokenString string) (string, []string, error) {
	claims, err := i.parse(tokenString, tokenUseAccess)
	if err != nil {
		return "", nil, err
	}
	return claims.Subject, claims.Roles, nil
}

// ValidateRefreshToken ensures a refresh JWT is well formed and returns the subject.
func (i *TokenIssuer) ValidateRefreshToken(tokenString string) (string, error) {
	claims, err := i.parse(tokenString, tokenUseRefresh)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (i *TokenIssuer) sign(userID string, roles []string, use string, ttl time.Duration) (string, int64, error) {
	now := i.clock().UTC()
	expiresAt := now.Add(ttl)

	claims := TokenClaims{
		Roles:    roles,
		TokenUse: use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

func (i *TokenIssuer) parse(tokenString, expectedUse string) (*TokenClaims, error) {
	if len(i.config.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}

	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errMissingSubjectClaim
	}
	if claims.TokenUse != expectedUse {
		return nil, fmt.Errorf("%w: expected %s", errWrongTokenUse, expectedUse)
	}
	return claims, nil
}
