package storage

import (
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
)

// idTimeLayout is the wall-clock prefix of every ID, followed by three
// millisecond digits.
const idTimeLayout = "20060102150405"

// newRandom is the high-entropy source for ID suffixes.
var newRandom = uuid.NewRandom

// IDGenerator produces identifiers of the form
//
//	YYYYMMDDHHMMSSmmm-<pid, 8 hex>-<random, 32 hex>
//
// The time prefix makes string order match creation order. The process ID
// and the random suffix keep IDs from independent processes apart without
// any coordination. Generate is safe for concurrent use.
type IDGenerator struct {
	pid int
	now func() time.Time
}

// NewIDGenerator returns a generator for the current process.
func NewIDGenerator() *IDGenerator {
	return NewProcessIDGenerator(os.Getpid(), time.Now)
}

// NewProcessIDGenerator returns a generator that stamps pid and reads time
// from now.
func NewProcessIDGenerator(pid int, now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{pid: pid, now: now}
}

// Generate returns a new ID.
func (g *IDGenerator) Generate() string {
	t := g.now().UTC()
	return fmt.Sprintf("%s%03d-%08x-%s",
		t.Format(idTimeLayout), t.Nanosecond()/int(time.Millisecond), uint32(g.pid), randomSuffix())
}

func randomSuffix() string {
	u, err := newRandom()
	if err != nil {
		return fmt.Sprintf("%016x%016x", rand.Uint64(), rand.Uint64())
	}
	return hex.EncodeToString(u[:])
}

// IDTime extracts the creation instant encoded in id. ok is false when id
// was not produced by an IDGenerator.
func IDTime(id string) (t time.Time, ok bool) {
	const n = len(idTimeLayout) + 3
	if len(id) < n {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(idTimeLayout+".000", id[:len(idTimeLayout)]+"."+id[len(idTimeLayout):n], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
