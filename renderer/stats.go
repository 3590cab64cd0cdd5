package renderer

import "time"

// WorkerStat records the share of the frame one tracer worker rendered.
type WorkerStat struct {
	// Worker id.
	Id string

	// The block height and the percentage of total frame area it represents.
	BlockH       int
	FramePercent float32

	// Rays rendered and render time for the assigned block.
	Rays       int
	RenderTime time.Duration
}

// FrameStats aggregates statistics for the last rendered frame.
type FrameStats struct {
	// Individual worker stats.
	Workers []WorkerStat

	// Total render time for the entire frame.
	RenderTime time.Duration
}
