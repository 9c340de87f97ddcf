package booking

import "crypto/rand"

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const codeLength = 8

// NewConfirmationCode returns a short random token for out-of-band lookup.
// Uniqueness is enforced by the store; collisions are resolved by
// regenerating, not by failing the booking.
func NewConfirmationCode() string {
	var b [codeLength]byte
	_, _ = rand.Read(b[:])
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b[:])
}
