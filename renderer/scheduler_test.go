package renderer

import (
	"testing"
	"time"
)

func TestNaiveScheduler(t *testing.T) {
	type spec struct {
		workers int
		frameH  int
		expRows []int
	}
	specs := []spec{
		{2, 10, []int{5, 5}},
		{3, 10, []int{4, 3, 3}},
		{4, 8, []int{2, 2, 2, 2}},
	}

	for index, s := range specs {
		stats := make([]WorkerStat, s.workers)
		assignment := NaiveScheduler().Schedule(stats, s.frameH)

		total := 0
		for idx, rows := range assignment {
			if rows != s.expRows[idx] {
				t.Fatalf("[spec %d] expected worker %d to be assigned %d rows; got %d", index, idx, s.expRows[idx], rows)
			}
			total += rows
		}
		if total != s.frameH {
			t.Fatalf("[spec %d] expected assignments to cover all %d rows; got %d", index, s.frameH, total)
		}
	}
}

func TestAdaptiveScheduler(t *testing.T) {
	type spec struct {
		rTime1  time.Duration
		rTime2  time.Duration
		expRows []int
	}
	specs := []spec{
		// First call always behaves like the naive scheduler.
		{0, 0, []int{5, 5}},
		// Afterwards rows follow the measured throughput.
		{time.Duration(1), time.Duration(5), []int{9, 1}},
		// This time worker 2 performed much better.
		{time.Duration(5), time.Duration(1), []int{7, 3}},
	}

	stats := []WorkerStat{{Id: "cpu-0"}, {Id: "cpu-1"}}
	sch := AdaptiveScheduler()
	for index, s := range specs {
		stats[0].RenderTime = s.rTime1
		stats[1].RenderTime = s.rTime2

		assignment := sch.Schedule(stats, 10)
		for idx, rows := range assignment {
			if rows != s.expRows[idx] {
				t.Fatalf("[spec %d] expected worker %d to be assigned %d rows; got %d", index, idx, s.expRows[idx], rows)
			}
		}

		stats[0].BlockH = assignment[0]
		stats[1].BlockH = assignment[1]
	}
}

func TestAdaptiveSchedulerCoversFrame(t *testing.T) {
	stats := []WorkerStat{
		{Id: "cpu-0", BlockH: 3, RenderTime: 7 * time.Millisecond},
		{Id: "cpu-1", BlockH: 3, RenderTime: 3 * time.Millisecond},
		{Id: "cpu-2", BlockH: 4, RenderTime: 11 * time.Millisecond},
	}

	sch := AdaptiveScheduler()
	// Prime the scheduler so the feedback path handles the second call.
	sch.Schedule(stats, 100)
	assignment := sch.Schedule(stats, 100)

	total := 0
	for idx, rows := range assignment {
		if rows <= 0 {
			t.Fatalf("expected worker %d to receive at least one row; got %d", idx, rows)
		}
		total += rows
	}
	if total != 100 {
		t.Fatalf("expected assignments to cover all 100 rows; got %d", total)
	}
}

func TestAdaptiveSchedulerSkipsIdleWorkers(t *testing.T) {
	// A frame with fewer rows than workers leaves some workers without a
	// throughput sample; they must be skipped, not divided by.
	stats := []WorkerStat{
		{Id: "cpu-0", BlockH: 2, RenderTime: time.Millisecond},
		{Id: "cpu-1"},
		{Id: "cpu-2"},
		{Id: "cpu-3"},
	}

	sch := AdaptiveScheduler()
	sch.Schedule(make([]WorkerStat, 4), 2)
	for round := 0; round < 3; round++ {
		assignment := sch.Schedule(stats, 2)

		total := 0
		for idx, rows := range assignment {
			if rows < 0 {
				t.Fatalf("[round %d] expected a non-negative assignment for worker %d; got %d", round, idx, rows)
			}
			total += rows
		}
		if total != 2 {
			t.Fatalf("[round %d] expected assignments to cover both rows; got %d", round, total)
		}
		if assignment[0] != 2 {
			t.Fatalf("[round %d] expected the only measured worker to keep both rows; got %d", round, assignment[0])
		}
	}
}
