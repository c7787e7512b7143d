package coupon

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// CodeAlphabet omits characters that are easy to misread (0/O, 1/I).
// Its length is 32, which divides 256, so byte-modulo sampling is unbiased.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength is the length of a redemption code.
const DefaultCodeLength = 8

// CodeGenerator produces candidate redemption codes. Uniqueness is checked by
// the caller against persisted instances.
type CodeGenerator interface {
	Generate() (string, error)
}

// RandomCodeGenerator draws codes from crypto/rand.
type RandomCodeGenerator struct {
	length int
}

// NewRandomCodeGenerator creates a generator of codes with the given length.
func NewRandomCodeGenerator(length int) *RandomCodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return &RandomCodeGenerator{length: length}
}

// Generate returns a new random code.
func (g *RandomCodeGenerator) Generate() (string, error) {
	buf := make([]byte, g.length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	out := make([]byte, g.length)
	for i, b := range buf {
		out[i] = CodeAlphabet[int(b)%len(CodeAlphabet)]
	}
	return string(out), nil
}

// NormalizeCode canonicalises user-entered codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
