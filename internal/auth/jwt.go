package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrKeyNotConfigured is returned when a session token is presented but no
// verification key is configured.
var ErrKeyNotConfigured = errors.New("auth: session verification key not configured")

// AdminRole is the role claim an admin credential must carry.
const AdminRole = "admin"

// Claims represents the JWT claims understood by the gateway.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

// SessionTokens verifies HMAC-signed session access tokens (Supabase-style)
// carried in a cookie or an Authorization bearer header.
type SessionTokens struct {
	secret     []byte
	cookieName string
}

// NewSessionTokens creates a session provider. An empty secret makes every
// presented token an internal error rather than an anonymous request.
func NewSessionTokens(secret, cookieName string) *SessionTokens {
	return &SessionTokens{secret: []byte(secret), cookieName: cookieName}
}

// Session implements SessionProvider.
func (s *SessionTokens) Session(r *http.Request) (*Identity, error) {
	token := s.token(r)
	if token == "" {
		return nil, nil
	}
	if len(s.secret) == 0 {
		return nil, ErrKeyNotConfigured
	}

	claims, err := parseHMAC(token, s.secret)
	if err != nil || claims.Subject == "" {
		return nil, nil
	}
	return &Identity{UserID: claims.Subject, Method: MethodSession}, nil
}

func (s *SessionTokens) token(r *http.Request) string {
	if s.cookieName != "" {
		if c, err := r.Cookie(s.cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return bearerToken(r.Header.Get("Authorization"))
}

// AdminTokens verifies admin credentials: HMAC-signed JWTs with role=admin
// carried in a dedicated header.
type AdminTokens struct {
	secret []byte
	header string
}

// NewAdminTokens creates an admin verifier. With an empty secret no
// credential ever verifies.
func NewAdminTokens(secret, header string) *AdminTokens {
	if header == "" {
		header = "X-Admin-Token"
	}
	return &AdminTokens{secret: []byte(secret), header: header}
}

// Verify implements AdminVerifier. The derived user id is "admin:<subject>".
func (a *AdminTokens) Verify(r *http.Request) (*Identity, bool) {
	if len(a.secret) == 0 {
		return nil, false
	}
	raw := strings.TrimSpace(r.Header.Get(a.header))
	if t := bearerToken(raw); t != "" {
		raw = t
	}
	if raw == "" {
		return nil, false
	}

	claims, err := parseHMAC(raw, a.secret)
	if err != nil || claims.Role != AdminRole {
		return nil, false
	}
	subject := claims.Subject
	if subject == "" {
		subject = AdminRole
	}
	return &Identity{UserID: "admin:" + subject, Method: MethodAdmin}, true
}

func parseHMAC(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
