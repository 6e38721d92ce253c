package loader

import (
	"fmt"
	"strings"
)

// Task is one file assigned to one worker.
type Task struct {
	// Path as seen by discovery.
	Path string
	// ServerPath is Path as the engine sees it.
	ServerPath string
	Size       int64
	Graph      string
	Worker     int
	// Batch is the index of the checkpoint batch within the worker.
	Batch int
}

// Strategy decides how files are spread across workers.
type Strategy int

const (
	// RoundRobin deals files like cards: file i goes to worker i mod n.
	RoundRobin Strategy = iota
	// Contiguous gives each worker one consecutive run of files.
	Contiguous
)

func (s Strategy) String() string {
	if s == Contiguous {
		return "contiguous"
	}
	return "round-robin"
}

// ParseStrategy accepts "round-robin" and "contiguous".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "round-robin", "roundrobin", "rr":
		return RoundRobin, nil
	case "contiguous", "chunk", "chunks":
		return Contiguous, nil
	default:
		return RoundRobin, fmt.Errorf("%w: unknown partition strategy %q", ErrInvalidOptions, s)
	}
}

// Partition assigns tasks to min(workers, len(tasks)) workers. Every task
// lands in exactly one slice and keeps its relative order. Worker and Batch
// are filled in; batchSize <= 0 puts each worker's files in one batch.
func Partition(tasks []Task, workers int, s Strategy, batchSize int) [][]Task {
	n := min(max(workers, 1), len(tasks))
	if n == 0 {
		return nil
	}

	out := make([][]Task, n)
	switch s {
	case Contiguous:
		base, extra := len(tasks)/n, len(tasks)%n
		start := 0
		for w := 0; w < n; w++ {
			size := base
			if w < extra {
				size++
			}
			out[w] = append([]Task(nil), tasks[start:start+size]...)
			start += size
		}
	default:
		for i, t := range tasks {
			out[i%n] = append(out[i%n], t)
		}
	}

	for w := range out {
		for i := range out[w] {
			out[w][i].Worker = w + 1
			if batchSize > 0 {
				out[w][i].Batch = i / batchSize
			}
		}
	}
	return out
}
