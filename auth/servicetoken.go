// Package auth issues and verifies the service-to-service JWT that Courier
// presents to Intelligence's wire protocol (SPEC_FULL.md §6.1), grounded
// on custodia-labs-sercha-core's HS256 JWT adapter.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceClaims identifies the calling service (always "courier" today,
// but kept generic for future callers).
type ServiceClaims struct {
	Service string `json:"service"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies service tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a short-lived token for serviceName.
func (i *Issuer) Issue(serviceName string) (string, error) {
	now := time.Now()
	claims := ServiceClaims{
		Service: serviceName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify validates tokenString and returns the embedded service name.
func (i *Issuer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid service token")
	}
	return claims.Service, nil
}
