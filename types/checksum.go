package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ChecksumLen is the length of a checksum in bytes.
const ChecksumLen = sha256.Size

// Checksum is the SHA-256 hash of a Wasm blob. It identifies the blob in the
// code store and is the key both cache tiers are derived from.
type Checksum [ChecksumLen]byte

// NewChecksum creates a Checksum from a byte slice.
// Returns an error if the slice length is not ChecksumLen.
func NewChecksum(b []byte) (Checksum, error) {
	if len(b) != ChecksumLen {
		return Checksum{}, errors.New("got wrong number of bytes for checksum")
	}
	var cs Checksum
	copy(cs[:], b)
	return cs, nil
}

// GenerateChecksum hashes the given Wasm blob.
func GenerateChecksum(wasm []byte) Checksum {
	return sha256.Sum256(wasm)
}

// ForceNewChecksum creates a Checksum from a hex string.
// It panics in case the input is invalid.
func ForceNewChecksum(input string) Checksum {
	data, err := hex.DecodeString(input)
	if err != nil {
		panic("could not decode hex bytes")
	}
	cs, err := NewChecksum(data)
	if err != nil {
		panic(err)
	}
	return cs
}

func (cs Checksum) String() string {
	return hex.EncodeToString(cs[:])
}

// Bytes returns the checksum as a byte slice.
func (cs Checksum) Bytes() []byte {
	return cs[:]
}

// MarshalJSON converts the checksum to a hex-encoded string.
func (cs Checksum) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(cs[:]))
}

// UnmarshalJSON parses a hex-encoded string into a checksum.
func (cs *Checksum) UnmarshalJSON(input []byte) error {
	var hexString string
	if err := json.Unmarshal(input, &hexString); err != nil {
		return err
	}
	data, err := hex.DecodeString(hexString)
	if err != nil {
		return err
	}
	if len(data) != ChecksumLen {
		return fmt.Errorf("got wrong number of bytes for checksum")
	}
	copy(cs[:], data)
	return nil
}
