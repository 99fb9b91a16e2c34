package solver

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crytic/warden/symbolic"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// resultsBucket is the bbolt bucket holding persisted query results.
var resultsBucket = []byte("results")

// PersistentSolver wraps a Solver with an on-disk result store, so re-running a scan over the same contract
// reproduces the satisfiability outcomes of the previous run without re-deciding them.
type PersistentSolver struct {
	inner Solver
	db    *bbolt.DB

	pendingWriteMutex sync.Mutex
	pendingWrites     map[string][]byte
	flushThreshold    int
}

// persistedResult is the serialized form of a Result.
type persistedResult struct {
	Status Status            `json:"status"`
	Model  map[string]string `json:"model,omitempty"`
}

// NewPersistentSolver opens (or creates) the result store for the provided key under directory and returns a solver
// wrapping inner. The key identifies the analyzed code, typically a hash of its bytecode. Close must be called to
// flush pending results.
func NewPersistentSolver(inner Solver, directory string, key string) (*PersistentSolver, error) {
	err := os.MkdirAll(directory, 0755)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	digest := sha256.Sum256([]byte(key))
	cacheFile := filepath.Join(directory, fmt.Sprintf("%x.db", digest[:10]))
	db, err := bbolt.Open(cacheFile, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open solver cache %v", cacheFile)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(resultsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}

	return &PersistentSolver{
		inner:          inner,
		db:             db,
		pendingWrites:  make(map[string][]byte),
		flushThreshold: 25,
	}, nil
}

// Solve returns the persisted result for the proposition if one exists, otherwise it queries the inner solver and
// persists decided results.
func (p *PersistentSolver) Solve(ctx context.Context, proposition symbolic.Proposition) (Result, error) {
	digest := sha256.Sum256([]byte(proposition.String()))
	key := digest[:]

	result, found, err := p.lookup(key)
	if err != nil {
		return Result{}, err
	}
	if found {
		return result, nil
	}

	result, err = p.inner.Solve(ctx, proposition)
	if err != nil || result.Status == Timeout {
		return result, err
	}
	return result, p.store(key, result)
}

// lookup reads a result from pending writes or the database.
func (p *PersistentSolver) lookup(key []byte) (Result, bool, error) {
	p.pendingWriteMutex.Lock()
	data, ok := p.pendingWrites[string(key)]
	p.pendingWriteMutex.Unlock()

	if !ok {
		err := p.db.View(func(tx *bbolt.Tx) error {
			if v := tx.Bucket(resultsBucket).Get(key); v != nil {
				data = append([]byte(nil), v...)
			}
			return nil
		})
		if err != nil {
			return Result{}, false, errors.WithStack(err)
		}
	}
	if data == nil {
		return Result{}, false, nil
	}

	var persisted persistedResult
	if err := json.Unmarshal(data, &persisted); err != nil {
		return Result{}, false, errors.WithStack(err)
	}
	result := Result{Status: persisted.Status}
	if persisted.Model != nil {
		result.Model = make(symbolic.Model, len(persisted.Model))
		for name, hex := range persisted.Model {
			v := new(uint256.Int)
			if err := v.SetFromHex(hex); err != nil {
				return Result{}, false, errors.Wrapf(err, "corrupt model value for %v", name)
			}
			result.Model[name] = v
		}
	}
	return result, true, nil
}

// store queues a result for writing, flushing once enough writes are pending.
func (p *PersistentSolver) store(key []byte, result Result) error {
	persisted := persistedResult{Status: result.Status}
	if result.Model != nil {
		persisted.Model = make(map[string]string, len(result.Model))
		for name, v := range result.Model {
			persisted.Model[name] = v.Hex()
		}
	}
	data, err := json.Marshal(persisted)
	if err != nil {
		return errors.WithStack(err)
	}

	p.pendingWriteMutex.Lock()
	defer p.pendingWriteMutex.Unlock()
	p.pendingWrites[string(key)] = data
	if len(p.pendingWrites) >= p.flushThreshold {
		return p.flushWrites()
	}
	return nil
}

// flushWrites writes all pending results in a single transaction. The caller must hold pendingWriteMutex.
func (p *PersistentSolver) flushWrites() error {
	err := p.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(resultsBucket)
		for key, value := range p.pendingWrites {
			if err := bucket.Put([]byte(key), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}
	p.pendingWrites = make(map[string][]byte)
	return nil
}

// Close flushes pending results and closes the underlying database.
func (p *PersistentSolver) Close() error {
	p.pendingWriteMutex.Lock()
	err := p.flushWrites()
	p.pendingWriteMutex.Unlock()
	if err != nil {
		return err
	}
	return errors.WithStack(p.db.Close())
}
