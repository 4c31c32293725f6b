package ilp

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestDeriveTransferIDDeterministic asserts that the same inputs always map to
// the same id.
func TestDeriveTransferIDDeterministic(t *testing.T) {
	t.Parallel()

	var (
		secret = []byte("connector-secret")
		prefix = MustAddress("g.usd.")
		source = NewTransferID()
	)

	first := DeriveTransferID(secret, prefix, source)
	for i := 0; i < 1000; i++ {
		require.Equal(t, first, DeriveTransferID(secret, prefix, source))
	}

	// The result must carry the version 4 and RFC 4122 variant bits.
	require.Equal(t, uuid.Version(4), uuid.UUID(first).Version())
	require.Equal(t, uuid.RFC4122, uuid.UUID(first).Variant())
}

// TestDeriveTransferIDInputs checks that every input contributes to the
// output.
func TestDeriveTransferIDInputs(t *testing.T) {
	t.Parallel()

	var (
		prefix = MustAddress("g.usd.")
		source = NewTransferID()
		base   = DeriveTransferID([]byte("a"), prefix, source)
	)

	require.NotEqual(t, base, DeriveTransferID([]byte("b"), prefix, source))
	require.NotEqual(t, base, DeriveTransferID(
		[]byte("a"), MustAddress("g.eur."), source,
	))
	require.NotEqual(t, base, DeriveTransferID(
		[]byte("a"), prefix, NewTransferID(),
	))
	require.NotEqual(t, source, base)
}

// TestDeriveTransferIDProperty checks determinism and format for arbitrary
// secrets and source ids.
func TestDeriveTransferIDProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		secret := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "secret")
		raw := rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "id")

		var source TransferID
		copy(source[:], raw)
		prefix := MustAddress("g.ledger.")

		id := DeriveTransferID(secret, prefix, source)
		require.Equal(t, id, DeriveTransferID(secret, prefix, source))
		require.Equal(t, uuid.Version(4), uuid.UUID(id).Version())

		parsed, err := ParseTransferID(id.String())
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	})
}
