package ilp

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/lightningnetwork/lnd/tlv"
)

const (
	paymentDestinationType tlv.Type = 0
	paymentAmountType      tlv.Type = 2
	paymentDataType        tlv.Type = 4

	transferIDType           tlv.Type = 0
	transferLedgerType       tlv.Type = 2
	transferSourceType       tlv.Type = 4
	transferDestinationType  tlv.Type = 6
	transferAmountType       tlv.Type = 8
	transferPacketType       tlv.Type = 10
	transferExecutionType    tlv.Type = 12
	transferCancellationType tlv.Type = 14
	transferExpiryType       tlv.Type = 16
)

// PacketCodec converts payment packets to and from their binary form.
type PacketCodec interface {
	// EncodePayment serializes a payment packet.
	EncodePayment(p *Payment) ([]byte, error)

	// DecodePayment parses a payment packet.
	DecodePayment(b []byte) (*Payment, error)
}

// TLVCodec is the PacketCodec used by the connector. Packets and transfers are
// encoded as TLV streams.
type TLVCodec struct{}

// A compile-time check to ensure TLVCodec implements PacketCodec.
var _ PacketCodec = TLVCodec{}

// EncodePayment serializes a payment packet.
func (TLVCodec) EncodePayment(p *Payment) ([]byte, error) {
	var b bytes.Buffer
	if err := WritePayment(&b, p); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodePayment parses a payment packet.
func (TLVCodec) DecodePayment(b []byte) (*Payment, error) {
	return ReadPayment(bytes.NewReader(b))
}

// WritePayment writes p to w as a TLV stream.
func WritePayment(w io.Writer, p *Payment) error {
	var (
		dest   = []byte(p.DestinationAccount)
		amount = amountBytes(p.DestinationAmount)
		data   = p.Data
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(paymentDestinationType, &dest),
		tlv.MakePrimitiveRecord(paymentAmountType, &amount),
		tlv.MakePrimitiveRecord(paymentDataType, &data),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// ReadPayment reads a payment packet written by WritePayment.
func ReadPayment(r io.Reader) (*Payment, error) {
	var dest, amount, data []byte

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(paymentDestinationType, &dest),
		tlv.MakePrimitiveRecord(paymentAmountType, &amount),
		tlv.MakePrimitiveRecord(paymentDataType, &data),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(r); err != nil {
		return nil, fmt.Errorf("unable to decode payment: %w", err)
	}

	p := &Payment{
		DestinationAccount: Address(dest),
		DestinationAmount:  new(big.Int).SetBytes(amount),
	}
	if len(data) > 0 {
		p.Data = data
	}

	return p, nil
}

// WriteTransfer writes t to w as a TLV stream. The embedded payment packet is
// nested as its own stream.
func WriteTransfer(w io.Writer, t *Transfer) error {
	var packet bytes.Buffer
	if err := WritePayment(&packet, &t.Packet); err != nil {
		return err
	}

	var (
		id           = t.ID[:]
		ledger       = []byte(t.LedgerPrefix)
		source       = []byte(t.SourceAccount)
		dest         = []byte(t.DestinationAccount)
		amount       = amountBytes(t.Amount)
		packetBytes  = packet.Bytes()
		execution    = [32]byte(t.ExecutionCondition)
		cancellation = [32]byte(t.CancellationCondition)
		expiry       = expiryToUint64(t.ExpiresAt)
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(transferIDType, &id),
		tlv.MakePrimitiveRecord(transferLedgerType, &ledger),
		tlv.MakePrimitiveRecord(transferSourceType, &source),
		tlv.MakePrimitiveRecord(transferDestinationType, &dest),
		tlv.MakePrimitiveRecord(transferAmountType, &amount),
		tlv.MakePrimitiveRecord(transferPacketType, &packetBytes),
		tlv.MakePrimitiveRecord(transferExecutionType, &execution),
		tlv.MakePrimitiveRecord(
			transferCancellationType, &cancellation,
		),
		tlv.MakePrimitiveRecord(transferExpiryType, &expiry),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// ReadTransfer reads a transfer written by WriteTransfer.
func ReadTransfer(r io.Reader) (*Transfer, error) {
	var (
		id, ledger, source, dest []byte
		amount, packetBytes      []byte
		execution, cancellation  [32]byte
		expiry                   uint64
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(transferIDType, &id),
		tlv.MakePrimitiveRecord(transferLedgerType, &ledger),
		tlv.MakePrimitiveRecord(transferSourceType, &source),
		tlv.MakePrimitiveRecord(transferDestinationType, &dest),
		tlv.MakePrimitiveRecord(transferAmountType, &amount),
		tlv.MakePrimitiveRecord(transferPacketType, &packetBytes),
		tlv.MakePrimitiveRecord(transferExecutionType, &execution),
		tlv.MakePrimitiveRecord(
			transferCancellationType, &cancellation,
		),
		tlv.MakePrimitiveRecord(transferExpiryType, &expiry),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(r); err != nil {
		return nil, fmt.Errorf("unable to decode transfer: %w", err)
	}

	if len(id) != len(TransferID{}) {
		return nil, fmt.Errorf("invalid transfer id length %d", len(id))
	}

	packet, err := ReadPayment(bytes.NewReader(packetBytes))
	if err != nil {
		return nil, err
	}

	t := &Transfer{
		LedgerPrefix:          Address(ledger),
		SourceAccount:         Address(source),
		DestinationAccount:    Address(dest),
		Amount:                new(big.Int).SetBytes(amount),
		Packet:                *packet,
		ExecutionCondition:    Condition(execution),
		CancellationCondition: Condition(cancellation),
		ExpiresAt:             expiryFromUint64(expiry),
	}
	copy(t.ID[:], id)

	return t, nil
}

func amountBytes(amt *big.Int) []byte {
	if amt == nil {
		return nil
	}

	return amt.Bytes()
}

func expiryToUint64(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}

	return uint64(t.UnixNano())
}

func expiryFromUint64(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}

	return time.Unix(0, int64(v))
}
