package value

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ObjectID is a 12-byte identifier composed big-endian as: 4-byte Unix-
// seconds timestamp, 3-byte machine hash, 2-byte process id, 3-byte
// monotonic counter (spec §3.3). Byte-lexicographic order on the 12 bytes
// equals chronological-then-causal order.
type ObjectID [12]byte

var (
	objectIDCounter uint32 // only the low 24 bits are used, wraps per process
	machineHash     [3]byte
	machineHashOnce sync.Once
)

// machineID derives the 3-byte "machine hash" component from the process's
// network-hardware identity, using uuid.NodeID() (the node field a v1 UUID
// would use) instead of hand-rolling a hostname digest (§9: redesign keeps
// a single process-scoped source of machine identity).
func machineID() [3]byte {
	machineHashOnce.Do(func() {
		node := uuid.NodeID()
		if len(node) >= 3 {
			copy(machineHash[:], node[:3])
		}
	})
	return machineHash
}

// NewObjectID generates a fresh, causally-ordered ObjectID.
func NewObjectID() ObjectID {
	return newObjectIDAt(time.Now())
}

func newObjectIDAt(t time.Time) ObjectID {
	var id ObjectID

	sec := uint32(t.Unix())
	id[0] = byte(sec >> 24)
	id[1] = byte(sec >> 16)
	id[2] = byte(sec >> 8)
	id[3] = byte(sec)

	mh := machineID()
	id[4], id[5], id[6] = mh[0], mh[1], mh[2]

	pid := uint16(os.Getpid())
	id[7] = byte(pid >> 8)
	id[8] = byte(pid)

	c := atomic.AddUint32(&objectIDCounter, 1) & 0x00FFFFFF
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

// Hex renders the ObjectID as 24 lowercase hex characters.
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer.
func (id ObjectID) String() string { return id.Hex() }

// Timestamp returns the embedded Unix-seconds creation time.
func (id ObjectID) Timestamp() time.Time {
	sec := uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])
	return time.Unix(int64(sec), 0).UTC()
}

// IsZero reports whether id is the zero ObjectID.
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

// ParseObjectIDHex parses a 24-character hex string into an ObjectID.
func ParseObjectIDHex(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 24 {
		return id, fmt.Errorf("%w: object-id must be 24 hex chars, got %d", ErrInvalidEncoding, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	copy(id[:], b)
	return id, nil
}
