package ilp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestNewAddress checks which strings are accepted and how they are
// classified.
func TestNewAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		valid    bool
		isPrefix bool
	}{
		{name: "root prefix", input: "g.", valid: true, isPrefix: true},
		{
			name:     "nested prefix",
			input:    "g.usd.bank.",
			valid:    true,
			isPrefix: true,
		},
		{name: "account", input: "g.usd.bank.bob", valid: true},
		{name: "self account", input: "self.me", valid: true},
		{name: "test scheme", input: "test1.foo.", valid: true,
			isPrefix: true},
		{name: "empty", input: "", valid: false},
		{name: "bare scheme", input: "g", valid: false},
		{name: "unknown scheme", input: "x.foo", valid: false},
		{name: "empty segment", input: "g..foo", valid: false},
		{name: "bad char", input: "g.foo bar", valid: false},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			addr, err := NewAddress(test.input)
			if !test.valid {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}

			require.NoError(t, err)
			require.Equal(t, test.isPrefix, addr.IsPrefix())
		})
	}
}

// TestRequireKinds asserts that each kind-specific constructor rejects the
// other kind.
func TestRequireKinds(t *testing.T) {
	t.Parallel()

	_, err := NewPrefix("g.usd.bob")
	require.ErrorIs(t, err, ErrNotPrefix)

	_, err = NewAccount("g.usd.")
	require.ErrorIs(t, err, ErrIsPrefix)

	p, err := NewPrefix("g.usd.")
	require.NoError(t, err)
	require.Equal(t, Address("g.usd."), p)

	a, err := NewAccount("g.usd.bob")
	require.NoError(t, err)
	require.Equal(t, Address("g.usd.bob"), a)
}

// TestStartsWith makes sure containment is evaluated per segment.
func TestStartsWith(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr, prefix Address
		expected     bool
	}{
		{"g.usd.bob", "g.", true},
		{"g.usd.bob", "g.usd.", true},
		{"g.usd.bob", "g.usd.bob", true},
		{"g.usd.bob.sub", "g.usd.bob", true},
		{"g.usd.bobby", "g.usd.bob", false},
		{"g.bart.", "g.bar.", false},
		{"g.bar.", "g.bar.", true},
		{"self.me", "g.", false},
		{"g.usd.bob", "", false},
	}

	for _, test := range tests {
		require.Equal(
			t, test.expected, test.addr.StartsWith(test.prefix),
			"%v starts with %v", test.addr, test.prefix,
		)
	}
}

// TestPrefixAndAncestors checks the prefix walk used by longest-prefix
// matching.
func TestPrefixAndAncestors(t *testing.T) {
	t.Parallel()

	require.Equal(t, Address("g.usd."), Address("g.usd.bob").Prefix())
	require.Equal(t, Address("g.usd."), Address("g.usd.").Prefix())

	parent, ok := Address("g.usd.").Parent()
	require.True(t, ok)
	require.Equal(t, Address("g."), parent)

	_, ok = Address("g.").Parent()
	require.False(t, ok)

	require.Equal(t, []Address{
		"g.baz.boo.bar.", "g.baz.boo.", "g.baz.", "g.",
	}, Address("g.baz.boo.bar.alice").Ancestors())

	require.Equal(t, []Address{"g.bart.", "g."},
		Address("g.bart.").Ancestors())

	require.Equal(t, []Address{"g."}, Address("g.1").Ancestors())
	require.Nil(t, Address("").Ancestors())

	require.Equal(t, Address("g.usd.bob"), Address("g.usd.").With("bob"))
	require.Equal(t, Address("g.usd.bob.sub"),
		Address("g.usd.bob").With("sub"))
}

// TestLongestCommonPrefix checks the segment-wise common prefix.
func TestLongestCommonPrefix(t *testing.T) {
	t.Parallel()

	require.Equal(t, Address("g.usd."),
		LongestCommonPrefix("g.usd.bob", "g.usd.alice"))
	require.Equal(t, Address("g."),
		LongestCommonPrefix("g.bar.", "g.bart."))
	require.Equal(t, Address("g.usd.bob."),
		LongestCommonPrefix("g.usd.bob", "g.usd.bob."))
	require.Equal(t, Address(""),
		LongestCommonPrefix("g.usd.bob", "self.me"))
}

// TestAncestorProperties checks, for arbitrary addresses, that every ancestor
// is a prefix containing the address and that each one is the parent of the
// previous one.
func TestAncestorProperties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		segments := rapid.SliceOfN(
			rapid.StringMatching(`[a-z0-9]{1,6}`), 1, 6,
		).Draw(t, "segments")
		asPrefix := rapid.Bool().Draw(t, "asPrefix")

		raw := "g." + strings.Join(segments, ".")
		if asPrefix {
			raw += "."
		}
		addr := MustAddress(raw)

		ancestors := addr.Ancestors()
		require.NotEmpty(t, ancestors)
		require.Equal(t, Address("g."), ancestors[len(ancestors)-1])

		for i, ancestor := range ancestors {
			require.True(t, ancestor.IsPrefix())
			require.True(t, addr.StartsWith(ancestor))

			if i == 0 {
				continue
			}

			parent, ok := ancestors[i-1].Parent()
			require.True(t, ok)
			require.Equal(t, ancestor, parent)
		}
	})
}
