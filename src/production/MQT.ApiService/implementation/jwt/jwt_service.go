package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
	mqtmodels "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models"
	api_models "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Models/api"
)

// Service verifies viewer bearer tokens (HS256)
type Service struct {
	config api_models.Config
}

// NewService creates a new JWT service
func NewService(config api_models.Config) *Service {
	return &Service{
		config: config,
	}
}

// IssueAccessToken signs a token for user valid for ttl. Tokens are normally
// issued by the account service; this exists for tooling and tests.
func (s *Service) IssueAccessToken(user mqtmodels.UserInfo, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := api_models.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.config.Issuer,
		},
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.SecretKey))
}

// ValidateAccessToken validates an access token and returns the claims
func (s *Service) ValidateAccessToken(tokenString string) (*api_models.AccessClaims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &api_models.AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.SecretKey), nil
	}, opts...)

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*api_models.AccessClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// Verify checks a bearer token and returns the identity it carries. Every
// failure is an *mqtmodels.AuthError.
func (s *Service) Verify(tokenString string) (mqtmodels.UserInfo, error) {
	if tokenString == "" {
		return mqtmodels.UserInfo{}, &mqtmodels.AuthError{Message: mqtmodels.MsgTokenRequired}
	}
	claims, err := s.ValidateAccessToken(tokenString)
	if err != nil {
		return mqtmodels.UserInfo{}, &mqtmodels.AuthError{Message: mqtmodels.MsgInvalidToken, Err: err}
	}
	if claims.UserID == 0 {
		return mqtmodels.UserInfo{}, &mqtmodels.AuthError{Message: mqtmodels.MsgInvalidToken, Err: fmt.Errorf("token carries no user id")}
	}
	return mqtmodels.UserInfo{ID: claims.UserID, Username: claims.Username, Email: claims.Email}, nil
}
