package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/yungbote/questline-backend/internal/pkg/errors"
	"github.com/yungbote/questline-backend/internal/platform/ctxutil"
	"github.com/yungbote/questline-backend/internal/platform/logger"
)

// JWTClaims are the claims issued by the identity provider in front of the services.
type JWTClaims struct {
	Email             string `json:"email,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Name              string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity is who a token is issued for.
type Identity struct {
	UserID      string
	Email       string
	Username    string
	DisplayName string
}

type AuthService interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	IssueToken(id Identity, ttl time.Duration) (string, error)
}

type authService struct {
	log      *logger.Logger
	secret   []byte
	issuer   string
	audience string
}

func NewAuthService(log *logger.Logger, jwtSecretKey, issuer, audience string) AuthService {
	serviceLog := log.With("service", "AuthService")
	return &authService{
		log:      serviceLog,
		secret:   []byte(jwtSecretKey),
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
	}
}

func (as *authService) IssueToken(id Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return "", fmt.Errorf("user id required")
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := JWTClaims{
		Email:             id.Email,
		PreferredUsername: id.Username,
		Name:              id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    as.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if as.audience != "" {
		claims.Audience = jwt.ClaimStrings{as.audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(as.secret)
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, fmt.Errorf("%w: missing token", apperrors.ErrUnauthorized)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if as.issuer != "" {
		opts = append(opts, jwt.WithIssuer(as.issuer))
	}
	if as.audience != "" {
		opts = append(opts, jwt.WithAudience(as.audience))
	}
	parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return as.secret, nil
	}, opts...)
	if err != nil {
		return ctx, fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err)
	}
	claims, ok := parsedToken.Claims.(*JWTClaims)
	if !ok || !parsedToken.Valid {
		return ctx, fmt.Errorf("%w: invalid or expired token", apperrors.ErrUnauthorized)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return ctx, fmt.Errorf("%w: token has no subject", apperrors.ErrUnauthorized)
	}
	rd := &ctxutil.RequestData{
		TokenString: tokenString,
		UserID:      claims.Subject,
		Email:       claims.Email,
		Username:    claims.PreferredUsername,
		DisplayName: claims.Name,
	}
	return ctxutil.WithRequestData(ctx, rd), nil
}
