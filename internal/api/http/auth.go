package httpapi

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingToken = errors.New("missing bearer token")

// OwnerClaims identifies the owner a token was issued to; the owner id is
// the subject.
type OwnerClaims struct {
	jwt.RegisteredClaims
}

// Authenticator resolves the owner of a request from an HS256 bearer token.
// With auth disabled the owner is taken from the X-Owner-ID header.
type Authenticator struct {
	secret   []byte
	issuer   string
	disabled bool
	now      func() time.Time
}

func NewAuthenticator(secret, issuer string, disabled bool) *Authenticator {
	return &Authenticator{
		secret:   []byte(secret),
		issuer:   issuer,
		disabled: disabled,
		now:      time.Now,
	}
}

// IssueToken signs a token for ownerID valid for ttl.
func (a *Authenticator) IssueToken(ownerID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := a.now()
	claims := &OwnerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken validates tokenStr and returns the owner id.
func (a *Authenticator) ParseToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &OwnerClaims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*OwnerClaims)
	if !ok || !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	owner := strings.TrimSpace(claims.Subject)
	if owner == "" {
		return "", errors.New("token has no subject")
	}
	return owner, nil
}
