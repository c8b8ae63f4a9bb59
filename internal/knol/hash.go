// Package knol derives the identity of a fact from its content.
package knol

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/conorfennell/recall/internal/domain"
)

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func normalizePart(part string) string {
	return strings.TrimSpace(lineEndings.Replace(strings.ToLower(part)))
}

// Normalize returns the canonical form of a fact: each field lowercased,
// trimmed and with unix line endings, joined by newlines so adjacent fields
// never run together.
func Normalize(f domain.Fact) string {
	return strings.Join([]string{
		normalizePart(f.Question),
		normalizePart(f.Answer),
		normalizePart(f.Context),
	}, "\n")
}

// Hash returns the hex SHA-256 of the normalized fact. Two facts with the
// same hash are the same card.
func Hash(f domain.Fact) string {
	sum := sha256.Sum256([]byte(Normalize(f)))
	return hex.EncodeToString(sum[:])
}
