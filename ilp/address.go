package ilp

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Separator delimits the segments of an address.
const Separator = "."

var (
	// ErrInvalidAddress is returned when a string cannot be parsed as an
	// address.
	ErrInvalidAddress = errors.New("invalid ILP address")

	// ErrNotPrefix is returned when an operation that requires a prefix
	// address is handed an account address.
	ErrNotPrefix = errors.New("address is not a prefix")

	// ErrIsPrefix is returned when an operation that requires an account
	// address is handed a prefix.
	ErrIsPrefix = errors.New("address is a prefix")

	accountPattern = regexp.MustCompile(
		`^(g|private|example|peer|self|test[1-3]?|local)` +
			`([.][a-zA-Z0-9_~-]+)+$`,
	)

	prefixPattern = regexp.MustCompile(
		`^(g|private|example|peer|self|test[1-3]?|local)` +
			`([.][a-zA-Z0-9_~-]+)*[.]$`,
	)
)

// Address is a hierarchical dotted identifier. An address ending in the
// separator is a prefix and names a namespace, anything else names a single
// account.
type Address string

// NewAddress parses and validates an address of either kind.
func NewAddress(s string) (Address, error) {
	if accountPattern.MatchString(s) || prefixPattern.MatchString(s) {
		return Address(s), nil
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
}

// MustAddress is like NewAddress but panics on an invalid input. It's meant
// for constants and tests.
func MustAddress(s string) Address {
	a, err := NewAddress(s)
	if err != nil {
		panic(err)
	}

	return a
}

// NewPrefix parses s and requires the result to be a prefix.
func NewPrefix(s string) (Address, error) {
	a, err := NewAddress(s)
	if err != nil {
		return "", err
	}

	return a, RequirePrefix(a)
}

// NewAccount parses s and requires the result to be an account address.
func NewAccount(s string) (Address, error) {
	a, err := NewAddress(s)
	if err != nil {
		return "", err
	}

	return a, RequireNotPrefix(a)
}

// String returns the address as a plain string.
func (a Address) String() string {
	return string(a)
}

// IsPrefix returns true if the address names a namespace.
func (a Address) IsPrefix() bool {
	return strings.HasSuffix(string(a), Separator)
}

// StartsWith reports whether a lies within the namespace of prefix. The
// comparison is segment-wise: g.bart. does not start with g.bar. even though
// the strings share a leading substring. If prefix is itself an account
// address, it matches the account and everything below it.
func (a Address) StartsWith(prefix Address) bool {
	if prefix == "" {
		return false
	}

	if prefix.IsPrefix() {
		return strings.HasPrefix(string(a), string(prefix))
	}

	return a == prefix || strings.HasPrefix(
		string(a), string(prefix)+Separator,
	)
}

// Prefix returns the namespace that holds an account address. A prefix is
// returned unchanged.
func (a Address) Prefix() Address {
	if a.IsPrefix() {
		return a
	}

	i := strings.LastIndex(string(a), Separator)
	if i == -1 {
		return ""
	}

	return a[:i+1]
}

// Parent returns the next less specific prefix. The second return value is
// false when a is a root prefix such as "g.".
func (a Address) Parent() (Address, bool) {
	trimmed := strings.TrimSuffix(string(a.Prefix()), Separator)

	i := strings.LastIndex(trimmed, Separator)
	if i == -1 {
		return "", false
	}

	return Address(trimmed[:i+1]), true
}

// Ancestors lists every prefix containing a, from the most specific to the
// root. The first element is a.Prefix().
func (a Address) Ancestors() []Address {
	current := a.Prefix()
	if current == "" {
		return nil
	}

	ancestors := []Address{current}
	for {
		parent, ok := current.Parent()
		if !ok {
			return ancestors
		}

		ancestors = append(ancestors, parent)
		current = parent
	}
}

// With appends a segment to a prefix, yielding an account address.
func (a Address) With(segment string) Address {
	if a.IsPrefix() {
		return Address(string(a) + segment)
	}

	return Address(string(a) + Separator + segment)
}

// segments splits the address into its non-empty segments.
func (a Address) segments() []string {
	trimmed := strings.TrimSuffix(string(a), Separator)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, Separator)
}

// LongestCommonPrefix returns the most specific prefix that contains both a
// and b, or the empty address if they share no segment.
func LongestCommonPrefix(a, b Address) Address {
	as, bs := a.segments(), b.segments()

	var common []string
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] != bs[i] {
			break
		}
		common = append(common, as[i])
	}

	if len(common) == 0 {
		return ""
	}

	return Address(strings.Join(common, Separator) + Separator)
}

// RequirePrefix returns ErrNotPrefix if a is an account address.
func RequirePrefix(a Address) error {
	if !a.IsPrefix() {
		return fmt.Errorf("%w: %v", ErrNotPrefix, a)
	}

	return nil
}

// RequireNotPrefix returns ErrIsPrefix if a is a prefix.
func RequireNotPrefix(a Address) error {
	if a.IsPrefix() {
		return fmt.Errorf("%w: %v", ErrIsPrefix, a)
	}

	return nil
}
