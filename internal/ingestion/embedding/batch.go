package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
)

const ProgressEvery = 5

// Progress is called with the number of embedded chunks: once at zero and then after
// every ProgressEvery completions.
type Progress func(done, total int)

// EmbedAll embeds texts on a bounded pool and returns vectors in input order. The
// first failure cancels the remaining work.
func EmbedAll(ctx context.Context, e Embedder, texts []string, concurrency int, progress Progress) ([][]float32, error) {
	total := len(texts)
	out := make([][]float32, total)
	if total == 0 {
		return out, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > total {
		concurrency = total
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("embedding pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		done     int
		firstErr error
	)
	if progress != nil {
		progress(0, total)
	}
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for i := range texts {
		if ctx.Err() != nil {
			break
		}
		i := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vec, err := e.Embed(ctx, texts[i])
			if err != nil {
				fail(fmt.Errorf("chunk %d: %w", i, err))
				return
			}
			if dim := e.Dimension(); dim > 0 && len(vec) != dim {
				fail(fmt.Errorf("chunk %d: %s returned %d dimensions, expected %d", i, e.Name(), len(vec), dim))
				return
			}
			out[i] = vec
			mu.Lock()
			done++
			n := done
			if progress != nil && n%ProgressEvery == 0 && n < total {
				progress(n, total)
			}
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			fail(fmt.Errorf("embedding pool: %w", submitErr))
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
