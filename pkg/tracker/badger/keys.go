package badger

import "encoding/binary"

// Database Key Namespace Design
// ==============================
//
// Data Type         Prefix   Key Format                      Value Type
// =======================================================================
// Committed files   "k:"     k:<domain>\x00<key>             FileRecord (JSON)
// Pending opens     "o:"     o:<fid as 8-byte big endian>    PendingOpen (JSON, with TTL)
// FID sequence      "seq:"   seq:fid                         badger.Sequence state
//
// Domains and keys cannot contain control characters (tracker.ValidateKey),
// so \x00 is a safe separator and keeps all keys of one domain contiguous for
// prefix scans.

const (
	prefixFile    = "k:"
	prefixPending = "o:"
	keyFIDSeq     = "seq:fid"
)

func fileKey(domain, key string) []byte {
	b := make([]byte, 0, len(prefixFile)+len(domain)+1+len(key))
	b = append(b, prefixFile...)
	b = append(b, domain...)
	b = append(b, 0)
	b = append(b, key...)
	return b
}

func domainPrefix(domain string) []byte {
	b := make([]byte, 0, len(prefixFile)+len(domain)+1)
	b = append(b, prefixFile...)
	b = append(b, domain...)
	b = append(b, 0)
	return b
}

func pendingKey(fid int64) []byte {
	b := make([]byte, len(prefixPending)+8)
	copy(b, prefixPending)
	binary.BigEndian.PutUint64(b[len(prefixPending):], uint64(fid))
	return b
}

func fidFromPendingKey(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k[len(prefixPending):]))
}
