package util

import (
	"context"
	"sync"
)

// Parallel runs fn over inputs with at most workerLimit calls in flight. The
// first error cancels the remaining work and is returned.
func Parallel[T any](parent context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) error {
	if len(inputs) == 0 {
		return nil
	}

	if workerLimit <= 0 {
		workerLimit = 1
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	tasks := make(chan T)
	errCh := make(chan error, 1)

	// workers
	wg := sync.WaitGroup{}
	for i := 0; i < min(workerLimit, len(inputs)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				if err := fn(ctx, item); err != nil {
					select {
					case errCh <- err:
						cancel() // stop others
					default:
					}
					return
				}
			}
		}()
	}

	// feed tasks
	go func() {
		defer close(tasks)
		for _, item := range inputs {
			select {
			case <-ctx.Done():
				return
			case tasks <- item:
			}
		}
	}()

	wg.Wait()
	cancel()

	select {
	case err := <-errCh:
		return err
	default:
		return parent.Err()
	}
}

// Map is Parallel with a result per input, returned in input order. Failed
// items keep the zero value when keepGoing is set; otherwise the first error
// aborts the whole map.
func Map[T, R any](ctx context.Context, inputs []T, workerLimit int, keepGoing bool, fn func(context.Context, T) (R, error)) ([]R, error) {
	out := make([]R, len(inputs))
	idx := make([]int, len(inputs))
	for i := range idx {
		idx[i] = i
	}
	err := Parallel(ctx, idx, workerLimit, func(ctx context.Context, i int) error {
		r, err := fn(ctx, inputs[i])
		if err != nil {
			if keepGoing {
				return nil
			}
			return err
		}
		out[i] = r
		return nil
	})
	return out, err
}
