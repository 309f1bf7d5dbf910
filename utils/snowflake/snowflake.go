// Package snowflake generates time-ordered 63-bit ids for locally created
// records. Layout: 41 bits of milliseconds since Epoch, WorkerBits of
// worker (device) id, SequenceBits of per-millisecond sequence.
package snowflake

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	// Epoch is the custom epoch (January 1, 2024 00:00:00 UTC)
	Epoch int64 = 1704067200000 // milliseconds

	WorkerBits   uint8 = 10
	SequenceBits uint8 = 12

	maxWorker    = -1 ^ (-1 << WorkerBits)
	sequenceMask = -1 ^ (-1 << SequenceBits)
)

var ErrInvalidWorkerID = errors.New("worker ID exceeds maximum value")

// Generator is safe for concurrent use. Unlike a server-side snowflake it
// never fails when the wall clock steps backwards (device clocks do): it
// keeps counting from the last timestamp it issued.
type Generator struct {
	mu sync.Mutex

	workerID int64
	now      func() time.Time

	sequence      int64
	lastTimestamp int64
}

type Config struct {
	// WorkerID distinguishes devices. Negative picks a random one.
	WorkerID int64
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func NewGenerator(config Config) (*Generator, error) {
	if config.WorkerID > maxWorker {
		return nil, ErrInvalidWorkerID
	}
	if config.WorkerID < 0 {
		config.WorkerID = randomWorker()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Generator{workerID: config.WorkerID, now: config.Now}, nil
}

func randomWorker() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b[:]) & maxWorker)
}

func (g *Generator) millis() int64 {
	return g.now().UnixMilli()
}

// NextID returns an id strictly greater than every id this generator has
// returned before.
func (g *Generator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := g.millis()
	if timestamp < g.lastTimestamp {
		timestamp = g.lastTimestamp
	}

	if timestamp == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			// sequence exhausted: borrow the next millisecond
			timestamp++
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = timestamp

	return ((timestamp - Epoch) << (WorkerBits + SequenceBits)) |
		(g.workerID << SequenceBits) |
		g.sequence
}

// NextString returns NextID in base 36 behind prefix.
func (g *Generator) NextString(prefix string) string {
	return prefix + strconv.FormatInt(g.NextID(), 36)
}

// Parse splits an id into its unix-millisecond timestamp, worker id and
// sequence.
func Parse(id int64) (timestamp, workerID, sequence int64) {
	sequence = id & sequenceMask
	workerID = (id >> SequenceBits) & maxWorker
	timestamp = (id >> (WorkerBits + SequenceBits)) + Epoch
	return
}
