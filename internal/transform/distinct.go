package transform

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type span struct{ lo, hi int }

// split cuts n items into at most parts contiguous, non-empty spans.
func split(n, parts int) []span {
	if n == 0 {
		return nil
	}
	if parts < 1 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	size, rem := n/parts, n%parts
	out := make([]span, 0, parts)
	lo := 0
	for i := 0; i < parts; i++ {
		hi := lo + size
		if i < rem {
			hi++
		}
		out = append(out, span{lo, hi})
		lo = hi
	}
	return out
}

// distinct keeps the first occurrence of every key. Shards are reduced in
// parallel and the partial results merged in shard order.
func distinct[T any, K comparable](ctx context.Context, workers int, rows []T, key func(T) K) ([]T, error) {
	spans := split(len(rows), workers)
	partial := make([][]int, len(spans))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range spans {
		i, s := i, s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			seen := make(map[K]struct{}, s.hi-s.lo)
			var first []int
			for j := s.lo; j < s.hi; j++ {
				k := key(rows[j])
				if _, ok := seen[k]; ok {
					continue
				}
				seen[k] = struct{}{}
				first = append(first, j)
			}
			partial[i] = first
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[K]struct{})
	out := make([]T, 0, len(rows))
	for _, first := range partial {
		for _, j := range first {
			k := key(rows[j])
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, rows[j])
		}
	}
	return out, nil
}

func identity[T comparable](v T) T { return v }
