package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

type ownerKey struct{}

// OwnerFromContext returns the restaurant id of the authenticated owner.
func OwnerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerKey{}).(string)
	return id, ok
}

// SecurityHandler authenticates restaurant owners by HS256 bearer tokens
// whose subject is the restaurant id.
type SecurityHandler struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewSecurityHandler creates a SecurityHandler. An empty issuer disables
// the issuer check.
func NewSecurityHandler(secret []byte, issuer string) *SecurityHandler {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &SecurityHandler{
		secret: secret,
		issuer: issuer,
		parser: jwt.NewParser(opts...),
	}
}

// IssueToken signs an owner token for restaurantID valid for ttl.
func (s *SecurityHandler) IssueToken(restaurantID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   restaurantID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return token, nil
}

// Authenticate validates the bearer token of r and returns its subject.
func (s *SecurityHandler) Authenticate(r *http.Request) (string, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return "", errUnauthorized
	}

	var claims jwt.RegisteredClaims
	token, err := s.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", errUnauthorized
	}
	return claims.Subject, nil
}

// RequireOwner rejects requests without a valid token (401) and requests
// for a restaurant other than the token subject (403). The restaurant is the
// {id} path value.
func (s *SecurityHandler) RequireOwner(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := s.Authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="qrmenu"`)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if r.PathValue("id") != owner {
			writeError(w, http.StatusForbidden, errForbidden.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}
