package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-realtime/internal/models"
	"chat-realtime/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the access token payload issued by the auth service.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func GenerateJWT(secret string, userID int64, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenVerifier maps a bearer credential to a user identity.
type TokenVerifier struct {
	secret string
	users  store.UserDirectory
	log    *zap.Logger
}

func NewTokenVerifier(secret string, users store.UserDirectory, log *zap.Logger) *TokenVerifier {
	return &TokenVerifier{secret: secret, users: users, log: log}
}

// Verify validates the token and loads the user it names. The user must
// still exist in the directory.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (models.Identity, error) {
	if token == "" {
		return models.Anonymous(), ErrInvalidToken
	}
	claims, err := ValidateToken(v.secret, token)
	if err != nil {
		return models.Anonymous(), err
	}
	user, err := v.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Anonymous(), fmt.Errorf("%w: unknown user %d", ErrInvalidToken, claims.UserID)
		}
		return models.Anonymous(), err
	}
	if err := v.users.TouchLastSeen(ctx, user.ID); err != nil {
		v.log.Warn("touch last seen", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	return *user, nil
}

// Authenticate never fails: a missing or bad credential yields the
// anonymous identity and the membership gate decides what happens next.
func (v *TokenVerifier) Authenticate(ctx context.Context, token string) models.Identity {
	who, err := v.Verify(ctx, token)
	if err != nil && token != "" {
		v.log.Debug("token rejected, continuing as anonymous", zap.Error(err))
	}
	return who
}
