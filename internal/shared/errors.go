package shared

import (
	"errors"
	"strings"
)

// ErrStoreClosed occurs when a store is used after Close.
var ErrStoreClosed = errors.New("store closed")

// UserSafeMessage strips the package prefix from domain errors for display.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx > 0 && !strings.Contains(msg[:idx], " ") {
		msg = msg[idx+2:]
	}
	return msg
}
