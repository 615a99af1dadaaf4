// Package room derives the broker group names used by private chats.
package room

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nfrund/pairchat/internal/domain"
)

const (
	roomPrefix     = "chat_"
	personalPrefix = "user_"
)

// Key returns the canonical room key for two participants: "<min>_<max>".
func Key(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + "_" + strconv.FormatInt(b, 10)
}

// ParseKey splits a room key into its two participant ids in ascending order.
// It accepts either order in the input.
func ParseKey(key string) (int64, int64, error) {
	left, right, ok := strings.Cut(key, "_")
	if !ok {
		return 0, 0, fmt.Errorf("%w: malformed room key %q", domain.ErrInvalidRoom, key)
	}
	a, err := strconv.ParseInt(left, 10, 64)
	if err != nil || a <= 0 {
		return 0, 0, fmt.Errorf("%w: malformed room key %q", domain.ErrInvalidRoom, key)
	}
	b, err := strconv.ParseInt(right, 10, 64)
	if err != nil || b <= 0 {
		return 0, 0, fmt.Errorf("%w: malformed room key %q", domain.ErrInvalidRoom, key)
	}
	if a == b {
		return 0, 0, fmt.Errorf("%w: room key %q names a single user", domain.ErrInvalidRoom, key)
	}
	if a > b {
		a, b = b, a
	}
	return a, b, nil
}

// Partner returns the other participant of key as seen by userID. It fails
// with ErrInvalidRoom when userID is not a participant.
func Partner(key string, userID int64) (int64, error) {
	a, b, err := ParseKey(key)
	if err != nil {
		return 0, err
	}
	switch userID {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return 0, fmt.Errorf("%w: user %d is not in room %s", domain.ErrInvalidRoom, userID, key)
}

// Group is the broker group for a room key or raw room name.
func Group(name string) string {
	return roomPrefix + name
}

// PersonalGroup is the broker group carrying a user's cross-room notices.
func PersonalGroup(userID int64) string {
	return personalPrefix + strconv.FormatInt(userID, 10)
}
