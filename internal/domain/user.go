// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen      = 36
	MaxDisplayNameLen = 36
)

var (
	ErrIdentityEmpty      = errors.New("identity empty")
	ErrIdentityTooLong    = errors.New("identity too long")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type UserID string

// ParseUserID validates an identity string coming from config or the store.
func ParseUserID(s string) (UserID, error) {
	if len(s) == 0 {
		return "", ErrIdentityEmpty
	}
	if len(s) > MaxUserIDLen {
		return "", ErrIdentityTooLong
	}
	return UserID(s), nil
}

// Yields reports whether the local party gives up its own offer when both
// parties called each other at the same time. The comparison is a total order
// over identities and both peers must apply it in the same direction, so the
// pair converges on a single surviving call: the smaller identity yields.
func Yields(local, remote UserID) bool {
	return local < remote
}
