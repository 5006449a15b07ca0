package badgerstore

import (
	"encoding/binary"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/keshon/snapvault/internal/store"
)

// Key layout:
//
//	c/<hash>                 chunk payload
//	s/<id:8 BE>              snapshotRecord
//	f/<id:8 BE>/<path>       entryRecord
//	m/snapshot-seq           id sequence
//
// Big-endian ids keep headers and entries in id order under iteration, and
// entries of one snapshot in path order.
var (
	chunkPrefix    = []byte("c/")
	snapshotPrefix = []byte("s/")
	entryPrefix    = []byte("f/")
	seqKey         = []byte("m/snapshot-seq")
)

type snapshotRecord struct {
	CreatedNs int64 `cbor:"created_ns"`
	ChunkSize int   `cbor:"chunk_size"`
	Committed bool  `cbor:"committed"`
}

type entryRecord struct {
	Size   int64    `cbor:"size"`
	Chunks []string `cbor:"chunks"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("badgerstore: cbor encoder: " + err.Error())
	}
}

func chunkKey(hash string) []byte {
	return append(append([]byte{}, chunkPrefix...), hash...)
}

func snapshotKey(id int64) []byte {
	k := make([]byte, len(snapshotPrefix)+8)
	copy(k, snapshotPrefix)
	binary.BigEndian.PutUint64(k[len(snapshotPrefix):], uint64(id))
	return k
}

// entriesPrefix is the prefix shared by every entry of snapshot id.
func entriesPrefix(id int64) []byte {
	k := make([]byte, len(entryPrefix)+9)
	copy(k, entryPrefix)
	binary.BigEndian.PutUint64(k[len(entryPrefix):], uint64(id))
	k[len(k)-1] = '/'
	return k
}

func entryKey(id int64, path string) []byte {
	return append(entriesPrefix(id), path...)
}

func idFromSnapshotKey(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k[len(snapshotPrefix):]))
}

func pathFromEntryKey(k []byte) string {
	return string(k[len(entryPrefix)+9:])
}

func (r snapshotRecord) snapshot(id int64) store.Snapshot {
	return store.Snapshot{
		ID:        id,
		Timestamp: time.Unix(0, r.CreatedNs).UTC(),
		ChunkSize: r.ChunkSize,
		Committed: r.Committed,
	}
}
