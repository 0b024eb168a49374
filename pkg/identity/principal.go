package identity

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// BearerSubject returns a PrincipalFunc that verifies an HS256 bearer token
// signed with secret and yields its subject. Missing, malformed, expired or
// forged tokens yield no principal, so the request is keyed by address alone.
func BearerSubject(secret []byte) PrincipalFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(_ *jwt.Token) (any, error) {
		return secret, nil
	}

	return func(r *http.Request) string {
		tokenString, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || tokenString == "" {
			return ""
		}

		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, keyFunc)
		if err != nil || !token.Valid {
			return ""
		}
		return claims.Subject
	}
}
