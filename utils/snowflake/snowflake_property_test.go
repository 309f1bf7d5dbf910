package snowflake

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_SnowflakeIDUniqueness(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("all generated IDs are unique and increasing", prop.ForAll(
		func(count int) bool {
			g, err := NewGenerator(Config{WorkerID: 1})
			if err != nil {
				return false
			}
			ids := make(map[int64]bool, count)
			var last int64
			for range count {
				id := g.NextID()
				if ids[id] || id <= last {
					return false
				}
				ids[id] = true
				last = id
			}
			return len(ids) == count
		},
		gen.IntRange(100, 1000),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Any sequence of clock jumps, forwards or backwards, still yields strictly
// increasing ids.
func TestProperty_SnowflakeIDMonotonicUnderClockJumps(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ids increase whatever the clock does", prop.ForAll(
		func(jumps []int) bool {
			now := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
			g, err := NewGenerator(Config{WorkerID: 7, Now: func() time.Time { return now }})
			if err != nil {
				return false
			}
			last := g.NextID()
			for _, j := range jumps {
				now = now.Add(time.Duration(j) * time.Millisecond)
				id := g.NextID()
				if id <= last {
					return false
				}
				last = id
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-5000, 5000)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Distinct workers never collide, even on the same millisecond.
func TestProperty_SnowflakeIDWorkersDisjoint(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("two workers on one clock never collide", prop.ForAll(
		func(a, b int64, count int) bool {
			if a == b {
				return true
			}
			at := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
			clock := func() time.Time { return at }
			ga, err := NewGenerator(Config{WorkerID: a, Now: clock})
			if err != nil {
				return false
			}
			gb, err := NewGenerator(Config{WorkerID: b, Now: clock})
			if err != nil {
				return false
			}
			seen := make(map[int64]bool, 2*count)
			for range count {
				for _, id := range []int64{ga.NextID(), gb.NextID()} {
					if seen[id] {
						return false
					}
					seen[id] = true
				}
			}
			return true
		},
		gen.Int64Range(0, maxWorker),
		gen.Int64Range(0, maxWorker),
		gen.IntRange(1, 200),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
