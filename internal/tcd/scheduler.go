package tcd

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// t1Task is one code-block ready for entropy decode. The task array is
// built once, up front, and never mutated by workers: each worker only
// claims an index via the shared counter and reads its own slot.
type t1Task struct {
	cb       *CodeBlock
	bandType int
}

// T1Scheduler fans a tile's code-block decodes out across a fixed pool
// of goroutines. Workers race on a single atomic counter rather than a
// channel: since every task is already known up front and independent
// of the others, there is nothing to queue or rendezvous on, and the
// counter avoids both channel overhead and the need to size a buffer.
type T1Scheduler struct {
	numWorkers int
}

// NumWorkers returns the worker count the scheduler was built with, so
// other stages of the pipeline (the inverse DWT's row/column split, in
// particular) can reuse the same parallelism budget instead of each
// stage guessing its own.
func (s *T1Scheduler) NumWorkers() int {
	return s.numWorkers
}

// NewT1Scheduler creates a scheduler with the given worker count. A
// count below 1 is treated as 1 (sequential, single goroutine).
func NewT1Scheduler(numWorkers int) *T1Scheduler {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &T1Scheduler{numWorkers: numWorkers}
}

// Run decodes every code-block of tile across the scheduler's worker
// pool, via decodeFn (ordinarily TileDecoder.DecodeCodeBlock). A
// per-task failure is isolated to that code-block: it is recorded and
// returned as a combined error after every task has been attempted, so
// one corrupt code-block does not abort decode of the rest of the tile.
func (s *T1Scheduler) Run(tile *Tile, decodeFn func(cb *CodeBlock, bandType int) error) error {
	return s.RunFiltered(tile, decodeFn, nil)
}

// RunFiltered is Run, but skips any code-block for which skip returns
// true (used for windowed decodes, where code-blocks outside the
// requested region never need their entropy-coded data decoded at all).
// A nil skip runs every code-block, same as Run.
func (s *T1Scheduler) RunFiltered(tile *Tile, decodeFn func(cb *CodeBlock, bandType int) error, skip func(cb *CodeBlock) bool) error {
	tasks := collectT1Tasks(tile)
	if skip != nil {
		filtered := tasks[:0]
		for _, t := range tasks {
			if !skip(t.cb) {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if len(tasks) == 0 {
		return nil
	}

	var next int64
	errs := make([]error, len(tasks))

	workers := s.numWorkers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				i := atomic.AddInt64(&next, 1) - 1
				if i >= int64(len(tasks)) {
					return
				}
				t := tasks[i]
				errs[i] = decodeFn(t.cb, t.bandType)
			}
		}()
	}
	wg.Wait()

	var first error
	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return &t1DecodeError{count: failed, first: first}
	}
	return nil
}

// collectT1Tasks flattens every code-block with encoded data across
// every component/resolution/band of tile into one immutable array.
func collectT1Tasks(tile *Tile) []t1Task {
	var tasks []t1Task
	for _, tc := range tile.Components {
		if tc == nil {
			continue
		}
		for _, res := range tc.Resolutions {
			if res == nil {
				continue
			}
			for _, band := range res.Bands {
				for _, cb := range band.CodeBlocks {
					if cb == nil || len(cb.Data) == 0 {
						continue
					}
					tasks = append(tasks, t1Task{cb: cb, bandType: band.Type})
				}
			}
		}
	}
	return tasks
}

// t1DecodeError reports that one or more code-blocks failed entropy
// decode; the tile's other code-blocks still completed.
type t1DecodeError struct {
	count int
	first error
}

func (e *t1DecodeError) Error() string {
	if e.count == 1 {
		return fmt.Sprintf("tcd: 1 code-block failed to decode: %v", e.first)
	}
	return fmt.Sprintf("tcd: %d code-blocks failed to decode, first error: %v", e.count, e.first)
}

func (e *t1DecodeError) Unwrap() error {
	return e.first
}
