// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package cask

import (
	"context"
	"runtime"
	"sync"
)

// blockJob is one block of work flowing producer -> workers.
type blockJob struct {
	index uint64
	data  []byte
}

// blockResult is one transformed block flowing workers -> consumer.
type blockResult struct {
	index uint64
	data  []byte
	err   error
}

// normalizeWorkers resolves a worker count, defaulting to the number
// of schedulable CPUs.
func normalizeWorkers(workers int) int {
	if workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return workers
}

// runBlockPipeline transforms a sequence of blocks in parallel while
// keeping production and consumption strictly in index order.
//
// produce is called once on its own goroutine; each emit call hands
// the pipeline the next block, numbered consecutively from first.
// process runs on workers goroutines, one call per block, in any
// order. consume is called exactly once per successful block, in
// index order.
//
// Blocks in flight are bounded: at most 2*workers blocks exist
// between emit and consume, so a slow consumer backpressures the
// producer instead of buffering the whole stream. The first error
// from any stage cancels the rest; later blocks are discarded.
func runBlockPipeline(
	ctx context.Context,
	workers int,
	first uint64,
	produce func(ctx context.Context, emit func(data []byte) error) error,
	process func(ctx context.Context, index uint64, data []byte) ([]byte, error),
	consume func(index uint64, data []byte) error,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers = normalizeWorkers(workers)
	window := workers * 2

	permits := make(chan struct{}, window)
	jobs := make(chan blockJob)
	results := make(chan blockResult)

	produceErr := make(chan error, 1)
	go func() {
		defer close(jobs)
		next := first
		produceErr <- produce(ctx, func(data []byte) error {
			select {
			case permits <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			job := blockJob{index: next, data: data}
			next++
			select {
			case jobs <- job:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				data, err := process(ctx, job.index, job.data)
				select {
				case results <- blockResult{index: job.index, data: data, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Reassemble in index order. Out-of-order results wait in
	// pending until every earlier block has been consumed; each
	// consumed block releases one window permit back to the
	// producer.
	pending := make(map[uint64][]byte, window)
	next := first
	var firstErr error
	for result := range results {
		if firstErr != nil {
			continue
		}
		if result.err != nil {
			firstErr = result.err
			cancel()
			continue
		}
		pending[result.index] = result.data
		for {
			data, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if err := consume(next, data); err != nil {
				firstErr = err
				cancel()
				break
			}
			next++
			<-permits
		}
	}

	if err := <-produceErr; err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return firstErr
}
