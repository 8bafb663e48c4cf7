package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator returns a new unique identifier.
type Generator func() string

// UUID generates random UUIDs.
var UUID Generator = func() string { return uuid.New().String() }

// Sequence returns a generator producing prefix1, prefix2 and so on. It is
// safe for concurrent use.
func Sequence(prefix string) Generator {
	var counter int64
	return func() string {
		return prefix + strconv.FormatInt(atomic.AddInt64(&counter, 1), 10)
	}
}
