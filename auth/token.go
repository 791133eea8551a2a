package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Validator is the token-checking boundary the control channel
// delegates to. The core never inspects credentials beyond these two
// operations.
type Validator interface {
	Validate(token string) bool
	Subject(token string) (string, error)
}

// JWTValidator validates HS256 bearer tokens against the shared
// secret this host received from the identity service.
type JWTValidator struct {
	key []byte
}

func NewJWTValidator(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret must not be empty")
	}
	return &JWTValidator{key: []byte(secret)}, nil
}

func (v *JWTValidator) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %q", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Validate reports whether the token is well-formed, correctly signed
// and unexpired.
func (v *JWTValidator) Validate(token string) bool {
	if token == "" {
		return false
	}
	_, err := v.parse(token)
	return err == nil
}

// Subject returns the account identity the token was issued to.
func (v *JWTValidator) Subject(token string) (string, error) {
	claims, err := v.parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
