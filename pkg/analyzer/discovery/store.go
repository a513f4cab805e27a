package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "unknown/"

// Store persists unknown atoms across runs so evidence accumulates per
// signature. Saving an atom that already exists merges it.
type Store struct {
	db      *badger.DB
	limits  Limits
	weights Weights
}

// StoreConfig configures a Store. An empty Path opens an in-memory store.
type StoreConfig struct {
	Path       string
	SyncWrites bool
	Logger     *slog.Logger
	Limits     Limits
	Weights    Weights
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenStore opens the discovery store described by cfg.
func OpenStore(cfg StoreConfig) (*Store, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	s := &Store{db: db, limits: cfg.Limits, weights: cfg.Weights}
	if s.limits == (Limits{}) {
		s.limits = DefaultLimits()
	}
	if len(s.weights.Occurrences) == 0 {
		s.weights = DefaultWeights
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save merges atoms into the store in a single transaction.
func (s *Store) Save(atoms []*UnknownAtom) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, a := range atoms {
			key := []byte(keyPrefix + a.Signature)
			merged := a.Clone()
			prev, err := getAtom(txn, key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				prev.Merge(merged, s.limits, s.weights)
				merged = prev
			}
			data, err := json.Marshal(merged)
			if err != nil {
				return fmt.Errorf("encode %s: %w", a.Signature, err)
			}
			if err := txn.Set(key, data); err != nil {
				return fmt.Errorf("store %s: %w", a.Signature, err)
			}
		}
		return nil
	})
}

// Get returns one atom by signature. The boolean is false if absent.
func (s *Store) Get(signature string) (*UnknownAtom, bool, error) {
	var out *UnknownAtom
	err := s.db.View(func(txn *badger.Txn) error {
		a, err := getAtom(txn, []byte(keyPrefix+signature))
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Load returns every stored atom ordered by signature.
func (s *Store) Load() ([]*UnknownAtom, error) {
	var out []*UnknownAtom
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var a UnknownAtom
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &a)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	return out, nil
}

// Partial loads the stored atoms as a partial that can be merged with a
// fresh run.
func (s *Store) Partial() (*Partial, error) {
	atoms, err := s.Load()
	if err != nil {
		return nil, err
	}
	p := NewPartial()
	for _, a := range atoms {
		p.Atoms[a.Signature] = a
	}
	return p, nil
}

func getAtom(txn *badger.Txn, key []byte) (*UnknownAtom, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var a UnknownAtom
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &a)
	}); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &a, nil
}
