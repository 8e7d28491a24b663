package config

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSecret expands a single root secret into a purpose-scoped key via
// HKDF, so a deployment can rotate one master secret instead of keeping
// four independent ones in sync. Each label yields an independent,
// non-reversible 32-byte key from the same master.
func DeriveSecret(master []byte, label string) []byte {
	reader := hkdf.New(sha256.New, master, nil, []byte(label))
	out := make([]byte, 32)
	if _, err := io.ReadFull(reader, out); err != nil {
		// hkdf.New with sha256 only fails once more than 255*32 bytes are
		// read, so reading 32 bytes cannot reach this branch.
		panic("config: hkdf derivation failed: " + err.Error())
	}
	return out
}
