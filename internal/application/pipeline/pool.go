package pipeline

import (
	"context"
	"sync"
)

type indexedItem[T any] struct {
	index int
	item  T
}

type indexedResult[R any] struct {
	index  int
	result R
	err    error
}

// outcome is the result slot of one pool item. Done is false when the item
// was never dispatched because the context ended first.
type outcome[R any] struct {
	Value R
	Err   error
	Done  bool
}

// processParallel runs fn over items on at most workers goroutines and returns
// one outcome per item in input order. It blocks until every dispatched call
// has returned. Items still queued when ctx ends are skipped.
func processParallel[T, R any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T) (R, error)) []outcome[R] {
	out := make([]outcome[R], len(items))
	if len(items) == 0 {
		return out
	}
	workers = workerCount(workers, len(items))

	workQueue := make(chan indexedItem[T], len(items))
	results := make(chan indexedResult[R], len(items))
	done := make(chan struct{})

	// single collector; the only writer of out
	go func() {
		for r := range results {
			out[r.index] = outcome[R]{Value: r.result, Err: r.err, Done: true}
		}
		close(done)
	}()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range workQueue {
				if ctx.Err() != nil {
					continue
				}
				v, err := fn(ctx, work.item)
				results <- indexedResult[R]{index: work.index, result: v, err: err}
			}
		}()
	}

	for i, item := range items {
		workQueue <- indexedItem[T]{index: i, item: item}
	}
	close(workQueue)
	wg.Wait()
	close(results)
	<-done
	return out
}

func workerCount(limit, items int) int {
	w := min(limit, items)
	if w <= 0 {
		w = 1
	}
	return w
}
