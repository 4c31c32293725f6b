package ilp

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNegativeAmount is returned when a transfer or payment carries an
	// amount below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrMissingAmount is returned when an amount is nil.
	ErrMissingAmount = errors.New("amount is missing")
)

// TransferID identifies a transfer on its ledger.
type TransferID uuid.UUID

// NewTransferID returns a random transfer id.
func NewTransferID() TransferID {
	return TransferID(uuid.New())
}

// ParseTransferID parses the canonical textual form of a transfer id.
func ParseTransferID(s string) (TransferID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return TransferID{}, fmt.Errorf("invalid transfer id %q: %w", s,
			err)
	}

	return TransferID(id), nil
}

// String returns the canonical textual form of the id.
func (id TransferID) String() string {
	return uuid.UUID(id).String()
}

// Condition is a PREIMAGE-SHA-256 execution or cancellation condition.
type Condition [32]byte

// Fulfillment is the preimage that releases a Condition.
type Fulfillment [32]byte

// Condition returns the condition this fulfillment satisfies.
func (f Fulfillment) Condition() Condition {
	return Condition(sha256.Sum256(f[:]))
}

// String returns the hex encoding of the fulfillment.
func (f Fulfillment) String() string {
	return hex.EncodeToString(f[:])
}

// Validate reports whether f is the preimage of c.
func (c Condition) Validate(f Fulfillment) bool {
	return f.Condition() == c
}

// IsZero returns true for the all-zero condition, which stands for "unset".
func (c Condition) IsZero() bool {
	return c == Condition{}
}

// String returns the hex encoding of the condition.
func (c Condition) String() string {
	return hex.EncodeToString(c[:])
}

// Payment is the end-to-end payment packet carried by every hop.
type Payment struct {
	// DestinationAccount is the final receiver of the payment.
	DestinationAccount Address

	// DestinationAmount is what the final receiver must be credited, in
	// units of the destination ledger.
	DestinationAmount *big.Int

	// Data is opaque application data forwarded untouched.
	Data []byte
}

// Validate checks the packet's address kind and amount.
func (p *Payment) Validate() error {
	if err := RequireNotPrefix(p.DestinationAccount); err != nil {
		return fmt.Errorf("payment destination: %w", err)
	}

	return checkAmount(p.DestinationAmount)
}

// Copy returns a deep copy of the packet.
func (p Payment) Copy() Payment {
	cp := p
	if p.DestinationAmount != nil {
		cp.DestinationAmount = new(big.Int).Set(p.DestinationAmount)
	}
	if p.Data != nil {
		cp.Data = append([]byte(nil), p.Data...)
	}

	return cp
}

// Transfer is a single local-ledger transfer forming one hop of a payment.
// Transfers are treated as immutable once built: callers that need to derive a
// new transfer work on a Copy.
type Transfer struct {
	// ID identifies the transfer on its ledger.
	ID TransferID

	// LedgerPrefix is the ledger the transfer lives on.
	LedgerPrefix Address

	// SourceAccount is debited by the transfer.
	SourceAccount Address

	// DestinationAccount is credited by the transfer.
	DestinationAccount Address

	// Amount is denominated in the ledger's smallest unit.
	Amount *big.Int

	// Packet is the end-to-end payment carried by this hop.
	Packet Payment

	// ExecutionCondition releases the held funds to the destination.
	ExecutionCondition Condition

	// CancellationCondition, if non-zero, returns the held funds to the
	// source.
	CancellationCondition Condition

	// ExpiresAt is the moment after which the ledger rolls the transfer
	// back.
	ExpiresAt time.Time
}

// Validate checks address kinds and the amount of the transfer and its
// packet.
func (t *Transfer) Validate() error {
	if err := RequirePrefix(t.LedgerPrefix); err != nil {
		return fmt.Errorf("transfer %v ledger: %w", t.ID, err)
	}
	if err := RequireNotPrefix(t.SourceAccount); err != nil {
		return fmt.Errorf("transfer %v source: %w", t.ID, err)
	}
	if err := RequireNotPrefix(t.DestinationAccount); err != nil {
		return fmt.Errorf("transfer %v destination: %w", t.ID, err)
	}
	if err := checkAmount(t.Amount); err != nil {
		return fmt.Errorf("transfer %v: %w", t.ID, err)
	}

	return t.Packet.Validate()
}

// Copy returns a deep copy of the transfer.
func (t *Transfer) Copy() *Transfer {
	cp := *t
	if t.Amount != nil {
		cp.Amount = new(big.Int).Set(t.Amount)
	}
	cp.Packet = t.Packet.Copy()

	return &cp
}

// String returns a short description used in log lines.
func (t *Transfer) String() string {
	return fmt.Sprintf("%v@%v(%v->%v amt=%v)", t.ID, t.LedgerPrefix,
		t.SourceAccount, t.DestinationAccount, t.Amount)
}

func checkAmount(amt *big.Int) error {
	switch {
	case amt == nil:
		return ErrMissingAmount

	case amt.Sign() < 0:
		return fmt.Errorf("%w: %v", ErrNegativeAmount, amt)
	}

	return nil
}
