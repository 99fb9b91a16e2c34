package solver

import (
	"context"

	"github.com/crytic/warden/symbolic"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// DefaultCacheSize is the default number of query results retained by a CachedSolver.
const DefaultCacheSize = 4096

// CachedSolver wraps a Solver with an in-memory LRU cache keyed by the canonical form of the proposition. Forked
// paths share long constraint prefixes, so identical queries recur often across checks.
type CachedSolver struct {
	// inner is the solver queried on a cache miss.
	inner Solver

	// cache holds decided results. Timeouts are never cached, so a later query with a larger budget may decide them.
	cache *lru.Cache[string, Result]
}

// NewCachedSolver returns a CachedSolver wrapping inner that retains up to size results.
func NewCachedSolver(inner Solver, size int) (*CachedSolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, Result](size)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &CachedSolver{inner: inner, cache: cache}, nil
}

// Solve returns a cached result for the proposition if one exists, otherwise it queries the inner solver.
func (c *CachedSolver) Solve(ctx context.Context, proposition symbolic.Proposition) (Result, error) {
	key := proposition.String()
	if result, ok := c.cache.Get(key); ok {
		return copyResult(result), nil
	}

	result, err := c.inner.Solve(ctx, proposition)
	if err != nil {
		return Result{}, err
	}
	if result.Status != Timeout {
		c.cache.Add(key, copyResult(result))
	}
	return result, nil
}

// Len returns the number of cached results.
func (c *CachedSolver) Len() int {
	return c.cache.Len()
}

// copyResult returns a Result whose model does not alias the original's.
func copyResult(r Result) Result {
	if r.Model != nil {
		r.Model = r.Model.Clone()
	}
	return r
}
