package mail

import (
	"context"
	"errors"
	"strings"
)

// TokenExpiredMarker is the user-facing text of ErrTokenExpired. Callers that
// only have a string (history rows, API error bodies) match on it.
const TokenExpiredMarker = "Token expired and could not be refreshed. Please re-authenticate."

// ErrTokenExpired means the access token is expired and could not be
// refreshed. The user must sign in again.
var ErrTokenExpired = errors.New(TokenExpiredMarker)

// IsTokenExpired reports whether err is, wraps, or mentions ErrTokenExpired.
func IsTokenExpired(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTokenExpired) || ContainsTokenExpiredMarker(err.Error())
}

func ContainsTokenExpiredMarker(s string) bool {
	return strings.Contains(s, TokenExpiredMarker)
}

// Credentials authorize a send on behalf of the job owner.
type Credentials struct {
	Token        string
	RefreshToken string
}

// Message is a fully rendered email.
type Message struct {
	To          []string
	Subject     string
	Body        string
	Attachments []string
}

// Transport delivers one message synchronously.
type Transport interface {
	Send(ctx context.Context, creds Credentials, msg Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, creds Credentials, msg Message) error

func (f TransportFunc) Send(ctx context.Context, creds Credentials, msg Message) error {
	return f(ctx, creds, msg)
}
