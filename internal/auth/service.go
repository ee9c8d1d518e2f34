package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abduss/gomedia/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer   = "gomedia"
	tokenAudience = "gomedia-api"
)

// accessClaims is the JWT body of an access token.
type accessClaims struct {
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// Service validates and issues access tokens. Accounts live in the
// surrounding application; the media API only has to recognise their tokens.
type Service struct {
	cfg     config.AuthConfig
	nowFunc func() time.Time
	parser  *jwt.Parser
}

// NewService creates a Service.
func NewService(cfg config.AuthConfig) *Service {
	s := &Service{cfg: cfg, nowFunc: time.Now}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.nowFunc() }),
	)
	return s
}

// ValidateAccessToken verifies the token and extracts user claims. Every
// failure is reported as ErrUnauthorized.
func (s *Service) ValidateAccessToken(tokenString string) (UserClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return UserClaims{}, ErrUnauthorized
	}

	var claims accessClaims
	if _, err := s.parser.ParseWithClaims(tokenString, &claims, s.key); err != nil {
		return UserClaims{}, ErrUnauthorized
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return UserClaims{}, ErrUnauthorized
	}

	out := UserClaims{
		UserID:    userID,
		Email:     claims.Email,
		IsAdmin:   claims.IsAdmin,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

func (s *Service) key(token *jwt.Token) (interface{}, error) {
	if s.cfg.AccessTokenSecret == "" {
		return nil, errors.New("access token secret is not configured")
	}
	return []byte(s.cfg.AccessTokenSecret), nil
}

// IssueAccessToken signs a token for the given identity. ttl <= 0 uses the
// configured access token TTL. mediactl uses it to mint operator tokens.
func (s *Service) IssueAccessToken(userID uuid.UUID, email string, isAdmin bool, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.cfg.AccessTokenTTL
	}
	now := s.nowFunc()
	expiresAt := now.Add(ttl)
	claims := accessClaims{
		Email:   email,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}
