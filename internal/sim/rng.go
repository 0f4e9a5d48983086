// Package sim executes compiled portfolio plans as Monte Carlo simulations
// and produces result envelopes.
package sim

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
)

// Reserved stream labels. Scenario ids own every other label, so reserved
// labels use a prefix no document id can collide with in practice.
const (
	controlsStreamLabel  = "__controls__"
	aggregateStreamLabel = "__aggregate__"
)

// streamSeed derives a child seed as a pure function of (seed, label, index).
// Every sampling site gets its own stream so scenario order, worker count, and
// chunking never affect the drawn values.
func streamSeed(seed int64, label string, index int) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	h.Write([]byte(label))
	binary.LittleEndian.PutUint64(buf[:], uint64(index))
	h.Write(buf[:])
	return int64(h.Sum64())
}

func newStream(seed int64, label string, index int) *rand.Rand {
	return rand.New(rand.NewSource(streamSeed(seed, label, index)))
}
