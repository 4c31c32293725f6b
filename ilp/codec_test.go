package ilp

import (
	"bytes"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testTransfer() *Transfer {
	var preimage Fulfillment
	copy(preimage[:], bytes.Repeat([]byte{7}, 32))

	return &Transfer{
		ID:                 NewTransferID(),
		LedgerPrefix:       MustAddress("g.usd."),
		SourceAccount:      MustAddress("g.usd.alice"),
		DestinationAccount: MustAddress("g.usd.connie"),
		Amount:             big.NewInt(10_000),
		Packet: Payment{
			DestinationAccount: MustAddress("g.eur.bob"),
			DestinationAmount:  big.NewInt(9_000),
			Data:               []byte("memo"),
		},
		ExecutionCondition: preimage.Condition(),
		ExpiresAt:          time.Unix(1_700_000_000, 0),
	}
}

// TestTransferCodec round trips a transfer through its TLV encoding.
func TestTransferCodec(t *testing.T) {
	t.Parallel()

	transfer := testTransfer()

	var b bytes.Buffer
	require.NoError(t, WriteTransfer(&b, transfer))

	decoded, err := ReadTransfer(&b)
	require.NoError(t, err)

	require.Equal(t, transfer.ID, decoded.ID)
	require.Equal(t, transfer.LedgerPrefix, decoded.LedgerPrefix)
	require.Equal(t, transfer.SourceAccount, decoded.SourceAccount)
	require.Equal(t, transfer.DestinationAccount,
		decoded.DestinationAccount)
	require.Zero(t, transfer.Amount.Cmp(decoded.Amount))
	require.Equal(t, transfer.ExecutionCondition,
		decoded.ExecutionCondition)
	require.True(t, decoded.CancellationCondition.IsZero())
	require.True(t, transfer.ExpiresAt.Equal(decoded.ExpiresAt))

	require.Equal(t, transfer.Packet.DestinationAccount,
		decoded.Packet.DestinationAccount)
	require.Zero(t, transfer.Packet.DestinationAmount.Cmp(
		decoded.Packet.DestinationAmount,
	))
	require.Equal(t, transfer.Packet.Data, decoded.Packet.Data)
}

// TestPacketCodec round trips a payment packet, including a zero amount and
// no data.
func TestPacketCodec(t *testing.T) {
	t.Parallel()

	var codec PacketCodec = TLVCodec{}

	p := &Payment{
		DestinationAccount: MustAddress("g.eur.bob"),
		DestinationAmount:  big.NewInt(0),
	}

	b, err := codec.EncodePayment(p)
	require.NoError(t, err)

	decoded, err := codec.DecodePayment(b)
	require.NoError(t, err)
	require.Equal(t, p.DestinationAccount, decoded.DestinationAccount)
	require.Zero(t, decoded.DestinationAmount.Sign())
	require.Nil(t, decoded.Data)
}

// TestReadTransferBadID ensures that a stream without a full id is refused.
func TestReadTransferBadID(t *testing.T) {
	t.Parallel()

	_, err := ReadTransfer(bytes.NewReader(nil))
	require.Error(t, err)
}

// TestTransferValidate covers the validation rules of transfers.
func TestTransferValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, testTransfer().Validate())

	bad := testTransfer()
	bad.LedgerPrefix = "g.usd.alice"
	require.ErrorIs(t, bad.Validate(), ErrNotPrefix)

	bad = testTransfer()
	bad.DestinationAccount = "g.usd."
	require.ErrorIs(t, bad.Validate(), ErrIsPrefix)

	bad = testTransfer()
	bad.Amount = big.NewInt(-1)
	require.ErrorIs(t, bad.Validate(), ErrNegativeAmount)

	bad = testTransfer()
	bad.Packet.DestinationAmount = nil
	require.ErrorIs(t, bad.Validate(), ErrMissingAmount)
}

// TestTransferCopy makes sure a copy does not share mutable state.
func TestTransferCopy(t *testing.T) {
	t.Parallel()

	orig := testTransfer()
	cp := orig.Copy()

	cp.Amount.SetInt64(1)
	cp.Packet.DestinationAmount.SetInt64(1)
	cp.Packet.Data[0] = 'x'

	require.Equal(t, int64(10_000), orig.Amount.Int64())
	require.Equal(t, int64(9_000), orig.Packet.DestinationAmount.Int64())
	require.Equal(t, []byte("memo"), orig.Packet.Data)
}

// TestProtocolErrorTrace verifies that forwarding appends to a copy of the
// trace.
func TestProtocolErrorTrace(t *testing.T) {
	t.Parallel()

	orig := NewProtocolError(
		CodeInsufficientLiquidity, "g.eur.", time.Unix(0, 0),
		"balance too low",
	)
	fwd := orig.WithForwardedAddress("g.usd.connie")
	fwd2 := fwd.WithForwardedAddress("g.cad.connie")

	require.Empty(t, orig.ForwardedBy)
	require.Equal(t, []Address{"g.usd.connie"}, fwd.ForwardedBy)
	require.Equal(t, []Address{"g.usd.connie", "g.cad.connie"},
		fwd2.ForwardedBy)
	require.Equal(t, orig.Code, fwd2.Code)
	require.Equal(t, orig.TriggeredBy, fwd2.TriggeredBy)

	require.True(t, CodeInsufficientLiquidity.Temporary())
	require.True(t, CodeUnreachable.Final())
	require.True(t, CodeInsufficientSourceAmount.Relative())
	require.Equal(t, "Insufficient Liquidity", fwd2.Name())
	require.Contains(t, fwd2.Error(), "T04")
}

// TestFulfillmentCondition checks the preimage relation.
func TestFulfillmentCondition(t *testing.T) {
	t.Parallel()

	var f Fulfillment
	f[0] = 1

	c := f.Condition()
	require.True(t, c.Validate(f))

	var other Fulfillment
	require.False(t, c.Validate(other))
	require.False(t, c.IsZero())
}
