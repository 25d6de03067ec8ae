// Package validate checks caller-supplied identifiers and labels before they
// reach variant hashing, cache keys or SQL parameters.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength      int            // Minimum length (0 = no minimum)
	MaxLength      int            // Maximum length (0 = no maximum)
	AllowedPattern *regexp.Regexp // Optional pattern the whole string must match
	AllowEmpty     bool           // Whether empty strings are allowed
	TrimSpace      bool           // Whether to trim whitespace before validation
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if validation fails.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	// Character count, not byte count
	length := utf8.RuneCountInString(s)

	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}
	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}
	return s, nil
}

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.:]+$`)
	labelPattern      = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
)

// Identifier validates an optional viewer or session identifier:
// - Up to 128 characters
// - Letters, numbers, dash, underscore, period and colon only
//
// An empty identifier is valid; callers decide whether one is required.
func Identifier(id string) (string, error) {
	return String(id, StringConstraints{
		MaxLength:      128,
		AllowedPattern: identifierPattern,
		AllowEmpty:     true,
		TrimSpace:      true,
	})
}

// VariantLabel validates an experiment variant label:
// - 1-32 characters
// - Letters, numbers, dash and underscore only
func VariantLabel(label string) (string, error) {
	return String(label, StringConstraints{
		MinLength:      1,
		MaxLength:      32,
		AllowedPattern: labelPattern,
		TrimSpace:      true,
	})
}
