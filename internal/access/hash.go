package access

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
)

// Params are the argon2id cost parameters. They are stored next to each hash
// so a change of defaults never invalidates existing enrolments.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultParams follow the RFC 9106 second recommended option.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4, KeyLen: 32}

const saltLen = 16

func (p Params) String() string {
	return fmt.Sprintf("argon2id$v=%d$t=%d$m=%d$p=%d$k=%d", argon2.Version, p.Time, p.Memory, p.Threads, p.KeyLen)
}

func parseParams(s string) (Params, error) {
	var p Params
	var v int
	_, err := fmt.Sscanf(s, "argon2id$v=%d$t=%d$m=%d$p=%d$k=%d", &v, &p.Time, &p.Memory, &p.Threads, &p.KeyLen)
	if err != nil {
		return p, fmt.Errorf("parse hash params %q: %w", s, err)
	}
	if v != argon2.Version {
		return p, fmt.Errorf("unsupported argon2 version %d", v)
	}
	return p, nil
}

func (p Params) hash(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

func equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Normalize canonicalises a passphrase so a transcribed utterance matches the
// typed enrolment: case folded, punctuation dropped, whitespace collapsed.
// "Open, Sesame!" and "open sesame" normalise to the same string.
func Normalize(passphrase string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(passphrase) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}
