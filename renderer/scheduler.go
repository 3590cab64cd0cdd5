package renderer

import "math"

// The BlockScheduler interface is implemented by all block scheduling
// algorithms. Schedule splits a frame into horizontal blocks, one per
// worker, using feedback collected from previous frames; it returns the
// block height assignment for each entry in the stats list.
type BlockScheduler interface {
	Schedule(stats []WorkerStat, frameH int) []int
}

// The naive scheduler assigns equal block heights to every worker.
type naiveScheduler struct{}

// Create a new naive scheduler instance.
func NaiveScheduler() BlockScheduler {
	return naiveScheduler{}
}

func (naiveScheduler) Schedule(stats []WorkerStat, frameH int) []int {
	assignment := make([]int, len(stats))
	base := frameH / len(stats)
	for idx := range assignment {
		assignment[idx] = base
	}
	assignment[0] += frameH - base*len(stats)
	return assignment
}

// The adaptive scheduler assumes that the volume of tracing work between
// two subsequent frames is approximately the same and sizes each worker's
// block proportionally to its previous rows-per-second throughput.
type adaptiveScheduler struct {
	blockAssignment []int
}

// Create a new adaptive scheduler instance.
func AdaptiveScheduler() BlockScheduler {
	return &adaptiveScheduler{}
}

func (sch *adaptiveScheduler) Schedule(stats []WorkerStat, frameH int) []int {
	// First schedule, or the worker pool changed: fall back to equal
	// splits until feedback exists.
	if len(sch.blockAssignment) != len(stats) || stats[0].RenderTime == 0 {
		sch.blockAssignment = NaiveScheduler().Schedule(stats, frameH)
		return sch.blockAssignment
	}

	// Workers that rendered nothing last frame (more workers than rows)
	// have no throughput sample and must not enter the division below.
	var total float64
	for _, stat := range stats {
		if stat.BlockH > 0 && stat.RenderTime > 0 {
			total += float64(stat.BlockH) / float64(stat.RenderTime)
		}
	}
	if total == 0 {
		sch.blockAssignment = NaiveScheduler().Schedule(stats, frameH)
		return sch.blockAssignment
	}

	scaler := float64(frameH) / total
	scheduledRows := 0
	for idx, stat := range stats {
		rows := 0
		if stat.BlockH > 0 && stat.RenderTime > 0 {
			rows = int(math.Max(1, math.Floor(float64(stat.BlockH)/float64(stat.RenderTime)*scaler)))
		}
		sch.blockAssignment[idx] = rows
		scheduledRows += rows
	}

	// In case rows don't add up to the frame height append the missing
	// ones to the first worker.
	sch.blockAssignment[0] += frameH - scheduledRows

	return sch.blockAssignment
}
