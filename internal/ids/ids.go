package ids

import (
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	id, err := NewAt(time.Now())
	if err != nil {
		panic(err)
	}
	return id
}

// NewAt returns an identifier whose timestamp component is t. Audit entries use the
// service clock so their ids sort in the same order as their timestamps. Times
// before the Unix epoch or past the ULID range are rejected.
func NewAt(t time.Time) (string, error) {
	if t.Before(time.Unix(0, 0)) {
		return "", fmt.Errorf("ids: timestamp %s predates the unix epoch", t.UTC().Format(time.RFC3339))
	}
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", fmt.Errorf("ids: %w", err)
	}
	return id.String(), nil
}

// Time extracts the timestamp encoded in id.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()).UTC(), nil
}
