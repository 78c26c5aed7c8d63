package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
)

// Fingerprint identifies one task execution: the digests of everything it
// reads, the build function identity, its configuration and its declared
// outputs. Any change to these must produce a different fingerprint.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Short is the first 12 hex digits, for log lines.
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}
	return string(f)
}

// FingerprintInput holds the components hashed into a Fingerprint.
type FingerprintInput struct {
	Inputs   *InputSet
	Identity string
	Config   map[string]string
	Outputs  []string
}

// Fingerprinter computes fingerprints. It is stateless.
type Fingerprinter struct{}

func NewFingerprinter() *Fingerprinter { return &Fingerprinter{} }

// Compute hashes the components in a fixed order:
//  1. Identity
//  2. Config, sorted by key
//  3. Outputs, sorted
//  4. Inputs (already sorted): path and digest
//
// Every field is length-prefixed so adjacent fields cannot run together.
func (f *Fingerprinter) Compute(in FingerprintInput) Fingerprint {
	h := sha256.New()
	writeField(h, []byte(in.Identity))

	keys := make([]string, 0, len(in.Config))
	for k := range in.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeCount(h, len(keys))
	for _, k := range keys {
		writeField(h, []byte(k))
		writeField(h, []byte(in.Config[k]))
	}

	outs := append([]string(nil), in.Outputs...)
	sort.Strings(outs)
	writeCount(h, len(outs))
	for _, o := range outs {
		writeField(h, []byte(o))
	}

	var inputs []Input
	if in.Inputs != nil {
		inputs = in.Inputs.Inputs
	}
	writeCount(h, len(inputs))
	for _, inp := range inputs {
		writeField(h, []byte(inp.Path))
		writeField(h, []byte(inp.Digest))
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func writeCount(h hash.Hash, n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	h.Write(b[:])
}

// writeField writes an 8-byte big-endian length prefix then data.
func writeField(h hash.Hash, data []byte) {
	writeCount(h, len(data))
	h.Write(data)
}
