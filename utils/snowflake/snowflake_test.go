package snowflake

import (
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name     string
		workerID int64
		wantErr  error
	}{
		{name: "zero worker", workerID: 0},
		{name: "max worker", workerID: maxWorker},
		{name: "random worker", workerID: -1},
		{name: "worker too large", workerID: maxWorker + 1, wantErr: ErrInvalidWorkerID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := NewGenerator(Config{WorkerID: tt.workerID})
			if err != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if err == nil && (gen.workerID < 0 || gen.workerID > maxWorker) {
				t.Errorf("worker id %d out of range", gen.workerID)
			}
		})
	}
}

func TestParse(t *testing.T) {
	at := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	gen, err := NewGenerator(Config{WorkerID: 42, Now: func() time.Time { return at }})
	if err != nil {
		t.Fatal(err)
	}

	first := gen.NextID()
	second := gen.NextID()

	ts, worker, seq := Parse(second)
	if ts != at.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", ts, at.UnixMilli())
	}
	if worker != 42 {
		t.Errorf("worker = %d, want 42", worker)
	}
	if _, _, firstSeq := Parse(first); seq != firstSeq+1 {
		t.Errorf("sequence = %d, want %d", seq, firstSeq+1)
	}
}

func TestClockMovedBackwards(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, 7, 1, 12, 0, 10, 0, time.UTC)}
	gen, err := NewGenerator(Config{WorkerID: 1, Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}

	before := gen.NextID()
	clock.Set(clock.Now().Add(-5 * time.Second))
	after := gen.NextID()

	if after <= before {
		t.Fatalf("id went backwards with the clock: %d <= %d", after, before)
	}
}

func TestSequenceOverflow(t *testing.T) {
	at := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	gen, err := NewGenerator(Config{WorkerID: 1, Now: func() time.Time { return at }})
	if err != nil {
		t.Fatal(err)
	}

	var last int64
	for i := 0; i < sequenceMask+10; i++ {
		id := gen.NextID()
		if id <= last {
			t.Fatalf("id %d not greater than %d at step %d", id, last, i)
		}
		last = id
	}
	if ts, _, _ := Parse(last); ts != at.UnixMilli()+1 {
		t.Errorf("expected overflow to borrow one millisecond, got %d", ts-at.UnixMilli())
	}
}

func TestNextString(t *testing.T) {
	gen, err := NewGenerator(Config{WorkerID: 3})
	if err != nil {
		t.Fatal(err)
	}
	s := gen.NextString("local-")
	if !strings.HasPrefix(s, "local-") {
		t.Fatalf("missing prefix: %s", s)
	}
	if _, err := strconv.ParseInt(strings.TrimPrefix(s, "local-"), 36, 64); err != nil {
		t.Fatalf("suffix is not base 36: %v", err)
	}
}

func TestNextID_ThreadSafety(t *testing.T) {
	gen, err := NewGenerator(Config{WorkerID: 1})
	if err != nil {
		t.Fatal(err)
	}

	const goroutines, perGoroutine = 10, 500
	var mu sync.Mutex
	seen := make(map[int64]bool, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := gen.NextID()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != goroutines*perGoroutine {
		t.Errorf("expected %d ids, got %d", goroutines*perGoroutine, len(seen))
	}
}

func BenchmarkNextID(b *testing.B) {
	gen, err := NewGenerator(Config{WorkerID: 1})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		gen.NextID()
	}
}
