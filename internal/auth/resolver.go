// Package auth resolves the identity of chat callers from a user session or
// an administrative credential.
package auth

import (
	"net/http"
)

// Caller-facing authentication messages.
const (
	MessageRequired    = "Authentication required."
	MessageUnavailable = "Authentication service unavailable."
)

// Method records how a caller was authenticated.
type Method string

const (
	MethodSession Method = "session"
	MethodAdmin   Method = "admin"
)

// Identity is a successfully verified caller.
type Identity struct {
	UserID string
	Method Method
}

// Result is the outcome of resolving a request. When OK is false, Status and
// Message describe the failure; no other work may be done for the request.
type Result struct {
	OK      bool
	UserID  string
	Method  Method
	Status  int
	Message string
}

// SessionProvider looks up the caller's active session. It returns (nil, nil)
// when the request carries no valid session and an error only when the
// provider itself cannot answer.
type SessionProvider interface {
	Session(r *http.Request) (*Identity, error)
}

// AdminVerifier checks a signed administrative credential carried by the
// request.
type AdminVerifier interface {
	Verify(r *http.Request) (*Identity, bool)
}

// Resolver tries the session provider first, then the admin verifier.
// Resolve has no side effects.
type Resolver struct {
	sessions SessionProvider
	admin    AdminVerifier
}

// NewResolver creates a resolver. Either collaborator may be nil.
func NewResolver(sessions SessionProvider, admin AdminVerifier) *Resolver {
	return &Resolver{sessions: sessions, admin: admin}
}

// Resolve authenticates r.
func (res *Resolver) Resolve(r *http.Request) Result {
	var providerErr error

	if res.sessions != nil {
		id, err := res.sessions.Session(r)
		switch {
		case err != nil:
			providerErr = err
		case id != nil && id.UserID != "":
			return Result{OK: true, UserID: id.UserID, Method: MethodSession}
		}
	}

	if res.admin != nil {
		if id, ok := res.admin.Verify(r); ok && id != nil {
			return Result{OK: true, UserID: id.UserID, Method: MethodAdmin}
		}
	}

	if providerErr != nil {
		return Result{Status: http.StatusInternalServerError, Message: MessageUnavailable}
	}
	return Result{Status: http.StatusUnauthorized, Message: MessageRequired}
}
