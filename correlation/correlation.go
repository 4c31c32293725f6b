package correlation

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/interledger/connector/ilp"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// ErrCorrelationNotFound is returned when no correlation is recorded
	// for a destination transfer.
	ErrCorrelationNotFound = errors.New("transfer correlation not found")

	// ErrCorruptedStore is returned when the on-disk layout of a store is
	// not what it should be.
	ErrCorruptedStore = errors.New("correlation store has been corrupted")
)

const (
	sourceTransferType      tlv.Type = 0
	destinationTransferType tlv.Type = 2
)

// TransferCorrelation links a forwarded incoming transfer to the outgoing
// transfer it caused, so that the outcome of the latter can be applied to the
// former.
type TransferCorrelation struct {
	// Source is the incoming transfer.
	Source *ilp.Transfer

	// Destination is the outgoing transfer on the next ledger.
	Destination *ilp.Transfer
}

// Key returns the id the correlation is looked up by.
func (c *TransferCorrelation) Key() ilp.TransferID {
	return c.Destination.ID
}

// String returns a short description for log lines.
func (c *TransferCorrelation) String() string {
	return fmt.Sprintf("%v@%v -> %v@%v", c.Source.ID,
		c.Source.LedgerPrefix, c.Destination.ID,
		c.Destination.LedgerPrefix)
}

// Store persists correlations keyed by destination transfer id.
// Implementations are safe for concurrent use.
type Store interface {
	// Save records the correlation. Saving the same correlation again is
	// harmless.
	Save(c *TransferCorrelation) error

	// FindByDestinationTransferID returns the correlation whose
	// destination transfer has the given id, or ErrCorrelationNotFound.
	FindByDestinationTransferID(id ilp.TransferID) (*TransferCorrelation,
		error)

	// ForEach calls cb for every stored correlation. Iteration stops at
	// the first error, which is returned.
	ForEach(cb func(*TransferCorrelation) error) error
}

// Probe checks that the store answers lookups. A miss is a healthy answer.
func Probe(s Store) error {
	_, err := s.FindByDestinationTransferID(ilp.NewTransferID())
	if err != nil && !errors.Is(err, ErrCorrelationNotFound) {
		return err
	}

	return nil
}

// encodeCorrelation serializes a correlation as a TLV stream of the two
// transfers.
func encodeCorrelation(c *TransferCorrelation) ([]byte, error) {
	var src, dst bytes.Buffer
	if err := ilp.WriteTransfer(&src, c.Source); err != nil {
		return nil, err
	}
	if err := ilp.WriteTransfer(&dst, c.Destination); err != nil {
		return nil, err
	}

	srcBytes, dstBytes := src.Bytes(), dst.Bytes()
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(sourceTransferType, &srcBytes),
		tlv.MakePrimitiveRecord(destinationTransferType, &dstBytes),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeCorrelation parses a correlation written by encodeCorrelation.
func decodeCorrelation(b []byte) (*TransferCorrelation, error) {
	var srcBytes, dstBytes []byte

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(sourceTransferType, &srcBytes),
		tlv.MakePrimitiveRecord(destinationTransferType, &dstBytes),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	src, err := ilp.ReadTransfer(bytes.NewReader(srcBytes))
	if err != nil {
		return nil, fmt.Errorf("source transfer: %w", err)
	}
	dst, err := ilp.ReadTransfer(bytes.NewReader(dstBytes))
	if err != nil {
		return nil, fmt.Errorf("destination transfer: %w", err)
	}

	return &TransferCorrelation{
		Source:      src,
		Destination: dst,
	}, nil
}
