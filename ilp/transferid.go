package ilp

import (
	"crypto/hmac"
	"crypto/sha256"
)

// DeriveTransferID deterministically derives the id of an outgoing transfer
// from a secret and the identity of the incoming transfer that caused it.
//
// The public input "<ledgerPrefix>/<transferID>" is authenticated with
// HMAC-SHA256 keyed by the secret and the first 128 bits of the digest become
// the id. Only the UUID version and variant bits are overwritten, so replaying
// the same incoming transfer always yields the same outgoing id while nobody
// without the secret can predict it.
func DeriveTransferID(secret []byte, ledgerPrefix Address,
	transferID TransferID) TransferID {

	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(ledgerPrefix.String() + "/" +
		transferID.String()))
	digest := mac.Sum(nil)

	var id TransferID
	copy(id[:], digest[:16])

	// Version 4, RFC 4122 variant.
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80

	return id
}
