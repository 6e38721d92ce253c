// Package tuner derives Virtuoso buffer-pool and checkpoint parameters from
// host resources. The formulas follow the "Performance Tuning" section of
// the Virtuoso documentation:
//
//	NumberOfBuffers    = 0.66 * memory / 8000
//	MaxDirtyBuffers    = 0.75 * NumberOfBuffers
//	MaxCheckpointRemap = database size / (4 * 8 KiB page)
//
// All arithmetic is integer and floors.
package tuner

import (
	"github.com/virtutil/virtutil/pkg/virtutil/types"
)

// Buffer-pool ratios from the vendor guidance. 0.66/8000 is kept as the
// exact fraction 33/400000 so that results do not depend on float rounding.
const (
	// bufferShareNum/bufferShareDen is the share of memory given to the
	// buffer pool (0.66).
	bufferShareNum = 66
	bufferShareDen = 100

	// bytesPerBuffer is the documented per-buffer cost, page plus overhead.
	bytesPerBuffer = 8000

	// dirtyNum/dirtyDen is the dirty-buffer ceiling as a share of buffers (0.75).
	dirtyNum = 3
	dirtyDen = 4
)

// Checkpoint remap sizing.
const (
	// PageSize is the engine's database page size.
	PageSize = 8 * types.KiB

	// remapPagesPerUnit: one remap entry per four pages.
	remapPagesPerUnit = 4

	// RemapThreshold is the smallest database size that gets a remap override.
	RemapThreshold = types.GiB
)

// Overrides holds explicit values from the command line. Zero means "compute".
type Overrides struct {
	NumberOfBuffers    int64
	MaxDirtyBuffers    int64
	MaxCheckpointRemap int64
}

// Parameters is the immutable result of a tuning pass.
type Parameters struct {
	// MemoryBytes is the memory the buffer counts were derived from.
	MemoryBytes int64

	NumberOfBuffers int64
	MaxDirtyBuffers int64

	// MaxCheckpointRemap is zero when no override applies.
	MaxCheckpointRemap int64
}

// HasRemap reports whether a checkpoint remap value should be applied.
func (p Parameters) HasRemap() bool {
	return p.MaxCheckpointRemap > 0
}

// BufferCounts returns NumberOfBuffers and MaxDirtyBuffers for memory bytes.
// Negative input is treated as zero.
func BufferCounts(memory int64) (buffers, dirty int64) {
	if memory <= 0 {
		return 0, 0
	}
	buffers = memory * bufferShareNum / (bufferShareDen * bytesPerBuffer)
	dirty = buffers * dirtyNum / dirtyDen
	return buffers, dirty
}

// CheckpointRemap returns the remap page count for a database of size bytes,
// and false when size is below RemapThreshold.
func CheckpointRemap(size int64) (int64, bool) {
	if size < RemapThreshold {
		return 0, false
	}
	return size / (remapPagesPerUnit * PageSize), true
}

// Calculate computes Parameters for memory bytes and an estimated database
// size (zero when unknown). Non-zero overrides replace computed values.
func Calculate(memory, dbSize int64, o Overrides) Parameters {
	buffers, dirty := BufferCounts(memory)
	p := Parameters{
		MemoryBytes:     memory,
		NumberOfBuffers: buffers,
		MaxDirtyBuffers: dirty,
	}
	if remap, ok := CheckpointRemap(dbSize); ok {
		p.MaxCheckpointRemap = remap
	}

	if o.NumberOfBuffers > 0 {
		p.NumberOfBuffers = o.NumberOfBuffers
	}
	if o.MaxDirtyBuffers > 0 {
		p.MaxDirtyBuffers = o.MaxDirtyBuffers
	}
	if o.MaxCheckpointRemap > 0 {
		p.MaxCheckpointRemap = o.MaxCheckpointRemap
	}
	return p
}
