package dag

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"geoweaver/internal/core"
)

// computeTaskDefHash hashes the declarative fields of a task.
//
// Paths are treated as sets and sorted; Config is sorted by key; every field
// is length-prefixed.
func computeTaskDefHash(t core.Task) TaskDefHash {
	h := sha256.New()

	writeField(h, []byte(t.Identity))
	writeSet(h, t.Inputs)
	writeSet(h, t.Outputs)
	writeSet(h, t.After)

	keys := make([]string, 0, len(t.Config))
	for k := range t.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeCount(h, len(keys))
	for _, k := range keys {
		writeField(h, []byte(k))
		writeField(h, []byte(t.Config[k]))
	}

	if t.Ephemeral {
		writeField(h, []byte{1})
	} else {
		writeField(h, []byte{0})
	}

	return TaskDefHash(hex.EncodeToString(h.Sum(nil)))
}

func writeSet(h hash.Hash, values []string) {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	writeCount(h, len(sorted))
	for _, v := range sorted {
		writeField(h, []byte(v))
	}
}

func writeCount(h hash.Hash, n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	h.Write(b[:])
}

func writeField(h hash.Hash, data []byte) {
	writeCount(h, len(data))
	h.Write(data)
}
