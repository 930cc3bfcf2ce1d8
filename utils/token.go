package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenMetadata struct to describe metadata in JWT.
type TokenMetadata struct {
	Id  string
	Otp bool
	Exp int64
}

// UserID is the numeric user id carried by the token.
func (m TokenMetadata) UserID() (uint, error) {
	id, err := strconv.ParseUint(m.Id, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, m.Id)
	}
	return uint(id), nil
}

// GenerateToken signs an HS512 token for id with the secret key, valid for ttl.
// Tokens are normally issued by the auth service; this serves tooling and tests.
func GenerateToken(id string, otp bool, ttl time.Duration, key string) (string, error) {
	claims := jwt.MapClaims{}

	claims["id"] = id
	claims["otp"] = otp
	claims["exp"] = time.Now().Add(ttl).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	t, err := token.SignedString([]byte(key))
	if err != nil {
		return "", err
	}

	return t, nil
}

// CheckAndExtractTokenMetadata verifies token against the secret key and reads its claims.
func CheckAndExtractTokenMetadata(token string, key string) (*TokenMetadata, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: no signing key configured", ErrInvalidToken)
	}
	t, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return nil, ErrInvalidToken
	}
	return MetadataFromClaims(claims)
}

// MetadataFromClaims reads the messenger claims of an already verified token.
func MetadataFromClaims(claims jwt.MapClaims) (*TokenMetadata, error) {
	id, ok := claims["id"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing id claim", ErrInvalidToken)
	}
	otp, _ := claims["otp"].(bool)
	exp, _ := claims["exp"].(float64)
	return &TokenMetadata{Id: id, Otp: otp, Exp: int64(exp)}, nil
}
