package oplog

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Payload is a side payload of an entry. Small payloads are stored inline,
// larger ones are uploaded to blob storage and referenced by id and hash.
type Payload struct {
	Inline   []byte           `cbor:"1,keyasint,omitempty"`
	External *ExternalPayload `cbor:"2,keyasint,omitempty"`
}

// ExternalPayload references a payload stored outside the oplog.
type ExternalPayload struct {
	PayloadID uuid.UUID `cbor:"1,keyasint"`
	MD5Hash   []byte    `cbor:"2,keyasint"`
}

// InlinePayload wraps data as an inline payload.
func InlinePayload(data []byte) Payload {
	return Payload{Inline: data}
}

// IsExternal reports whether the payload lives in blob storage.
func (p Payload) IsExternal() bool {
	return p.External != nil
}

// BlobPath is the location of an external payload below the worker's blob
// namespace: "<hex md5>/<payload id>".
func (e ExternalPayload) BlobPath() string {
	return hex.EncodeToString(e.MD5Hash) + "/" + e.PayloadID.String()
}

func (p Payload) String() string {
	if p.External != nil {
		return fmt.Sprintf("external(%s)", p.External.BlobPath())
	}
	return fmt.Sprintf("inline(%d bytes)", len(p.Inline))
}
