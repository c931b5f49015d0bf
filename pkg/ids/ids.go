// Package ids generates identifiers for stored records.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier. Auth events use it
// so that ordering by id matches ordering by creation time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a sortable identifier stamped with t.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Time extracts the timestamp encoded in an identifier produced by New.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// NewUUID returns a random UUID string, used for principals and request ids.
func NewUUID() string {
	return uuid.NewString()
}
