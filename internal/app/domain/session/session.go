// Package session carries the caller's identity through service calls.
// Every service operation receives an explicit Session instead of reading
// ambient state, so privilege checks are local and testable.
package session

import "errors"

// ErrUnauthorized is returned when a session lacks the privilege an
// operation requires.
var ErrUnauthorized = errors.New("unauthorized: privileged session required")

// Session identifies the acting account for one operation.
type Session struct {
	ActorID    string
	ActorName  string
	Privileged bool
}

// CanActFor reports whether the session may operate on the given account:
// either it is the account itself or the session is privileged.
func (s Session) CanActFor(accountID string) bool {
	return s.Privileged || (s.ActorID != "" && s.ActorID == accountID)
}
