package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// identifierPattern is the syntactic rule for a mailbox identifier: 5 to 11
// digits with no leading zero.
var identifierPattern = regexp.MustCompile(`^[1-9][0-9]{4,10}$`)

// Identifier is the numeric value that a target address is derived from.
type Identifier uint64

func (id Identifier) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Digits returns the number of decimal digits in the identifier.
func (id Identifier) Digits() int {
	return len(id.String())
}

// Address concatenates the identifier with the given domain suffix.
func (id Identifier) Address(domainSuffix string) string {
	return id.String() + "@" + strings.TrimPrefix(strings.TrimSpace(domainSuffix), "@")
}

func ParseIdentifier(s string) (Identifier, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: identifier is required", ErrValidation)
	}

	value, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid identifier %q", ErrValidation, s)
	}

	return Identifier(value), nil
}

// ValidateIdentifier checks the identifier against the mailbox format rule.
// It performs no I/O.
func ValidateIdentifier(id Identifier) error {
	if !identifierPattern.MatchString(id.String()) {
		return fmt.Errorf("%w: identifier %s must be 5-11 digits without a leading zero", ErrValidation, id)
	}
	return nil
}

// ValidateIdentifierString applies the same rule to a raw decimal string, so
// that inputs such as "01234" are rejected before they are parsed.
func ValidateIdentifierString(s string) error {
	if !identifierPattern.MatchString(s) {
		return fmt.Errorf("%w: identifier %q must be 5-11 digits without a leading zero", ErrValidation, s)
	}
	return nil
}
