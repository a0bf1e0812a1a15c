// Package identity generates the short codes peers exchange out-of-band.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	Length   = 6
	Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var ErrInvalid = errors.New("invalid peer identity")

// New returns a fresh identity drawn from crypto/rand.
func New() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating identity: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize trims whitespace and upper-cases a hand-typed identity.
func Normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func Validate(id string) error {
	if len(id) != Length {
		return fmt.Errorf("%w: %q must be %d characters", ErrInvalid, id, Length)
	}
	for i := 0; i < len(id); i++ {
		if strings.IndexByte(Alphabet, id[i]) < 0 {
			return fmt.Errorf("%w: %q contains %q", ErrInvalid, id, id[i])
		}
	}
	return nil
}
