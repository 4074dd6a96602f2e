package session

import (
	"crypto/rand"
	"fmt"
)

// Invite keys are 12 characters drawn from [A-Z0-9], compared
// case-sensitively.
const (
	inviteKeyLength   = 12
	inviteKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// generateInviteKey returns a fresh random invite key. Uniqueness against
// live keys is the registry's job.
func generateInviteKey() (string, error) {
	buf := make([]byte, inviteKeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = inviteKeyAlphabet[int(b)%len(inviteKeyAlphabet)]
	}
	return string(buf), nil
}
