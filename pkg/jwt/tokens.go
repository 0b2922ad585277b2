package jwt

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims defines the session JWT payload.
type Claims struct {
	UserID string `json:"user_id"`
	jwtlib.RegisteredClaims
}

// ShareClaims defines the payload of a share-link token scoped to one project.
type ShareClaims struct {
	ProjectID string `json:"project_id"`
	jwtlib.RegisteredClaims
}

// GenerateToken issues a signed session JWT with provided secret and ttl.
func GenerateToken(userID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "bffless",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts session claims from token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}

// GenerateShareToken issues a token granting read access to a single project.
func GenerateShareToken(projectID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ShareClaims{
		ProjectID: projectID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "bffless",
			Subject:   "share",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseShareToken validates a share-link token and returns its claims.
func ParseShareToken(token string, secret string) (*ShareClaims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &ShareClaims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*ShareClaims)
	if !ok || !parsed.Valid || claims.Subject != "share" {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
