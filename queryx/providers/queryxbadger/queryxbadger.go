// Package queryxbadger implements the queryx Collection contract on an
// embedded Badger key-value store. Documents are stored as order-preserving
// JSON values under doc:<collection>: keys; a monotonic sequence number in
// the key gives the collection its natural order.
package queryxbadger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Conversia-AI/craftable-queryx/errx"
	"github.com/Conversia-AI/craftable-queryx/queryx"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const sequenceBandwidth = 128

// Store owns one Badger database holding any number of named collections.
type Store struct {
	db *badger.DB

	mu        sync.Mutex
	sequences map[string]*badger.Sequence
}

// Open opens (or creates) the store at the given directory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, queryx.QueryErrors.NewWithCause(queryx.ErrConnectionFailed, err).
			WithDetail("path", path)
	}
	return &Store{
		db:        db,
		sequences: make(map[string]*badger.Sequence),
	}, nil
}

// Close releases sequences and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, seq := range s.sequences {
		seq.Release()
	}
	s.sequences = make(map[string]*badger.Sequence)
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return queryx.QueryErrors.NewWithCause(queryx.ErrConnectionFailed, err)
	}
	return nil
}

// Collection returns a handle bound to a named collection.
func (s *Store) Collection(name string) *BadgerCollection {
	return &BadgerCollection{store: s, name: name}
}

func (s *Store) nextSeq(collection string) (uint64, error) {
	s.mu.Lock()
	seq, ok := s.sequences[collection]
	if !ok {
		var err error
		seq, err = s.db.GetSequence([]byte("seq:"+collection), sequenceBandwidth)
		if err != nil {
			s.mu.Unlock()
			return 0, err
		}
		s.sequences[collection] = seq
	}
	s.mu.Unlock()
	return seq.Next()
}

// BadgerCollection is a Badger-backed implementation of queryx.Collection.
type BadgerCollection struct {
	store *Store
	name  string
}

type storedDoc struct {
	key []byte
	doc *queryx.Document
}

func (c *BadgerCollection) docPrefix() []byte {
	return []byte("doc:" + c.name + ":")
}

func (c *BadgerCollection) indexPrefix() []byte {
	return []byte("idx:" + c.name + ":")
}

// InsertOne stores a document and returns its _id.
func (c *BadgerCollection) InsertOne(ctx context.Context, doc *queryx.Document) (string, error) {
	ids, err := c.InsertMany(ctx, []*queryx.Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertMany stores documents in order and returns their _ids.
func (c *BadgerCollection) InsertMany(ctx context.Context, docs []*queryx.Document) ([]string, error) {
	ids := make([]string, 0, len(docs))

	err := c.store.db.Update(func(txn *badger.Txn) error {
		for _, doc := range docs {
			if doc == nil {
				return queryx.QueryErrors.NewWithMessage(queryx.ErrMalformedRequest, "nil document")
			}
			stored := doc.Clone()
			id, ok := stored.ID()
			if !ok || id == "" {
				id = uuid.New().String()
				stored.Set(queryx.IDField, id)
			}

			seq, err := c.store.nextSeq(c.name)
			if err != nil {
				return err
			}
			data, err := stored.MarshalJSON()
			if err != nil {
				return queryx.QueryErrors.NewWithCause(queryx.ErrDecodeFailed, err)
			}
			key := fmt.Sprintf("doc:%s:%020d", c.name, seq)
			if err := txn.Set([]byte(key), data); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, queryx.ErrInsertFailed)
	}
	return ids, nil
}

// Find scans the collection and evaluates the query locally. Each call
// re-executes the scan.
func (c *BadgerCollection) Find(ctx context.Context, filter queryx.Filter, opts ...queryx.FindOption) (queryx.Cursor, error) {
	if err := queryx.ValidateFilter(filter); err != nil {
		return nil, err
	}
	options, err := queryx.BuildFindOptions(opts...)
	if err != nil {
		return nil, err
	}

	matched, err := c.scan(filter)
	if err != nil {
		return nil, classify(err, queryx.ErrFindFailed)
	}

	docs := make([]*queryx.Document, len(matched))
	for i, item := range matched {
		docs[i] = item.doc
	}
	docs = options.ApplyLocal(docs)

	return queryx.NewSliceCursor(docs, options.BatchSize), nil
}

// FindOne returns the first match in natural (insertion) order.
func (c *BadgerCollection) FindOne(ctx context.Context, filter queryx.Filter, opts ...queryx.FindOption) (*queryx.Document, bool, error) {
	cursor, err := c.Find(ctx, filter, opts...)
	if err != nil {
		return nil, false, err
	}
	defer cursor.Close(ctx)

	if cursor.Next(ctx) {
		return cursor.Current(), true, nil
	}
	return nil, false, cursor.Err()
}

// Count returns the number of matching documents.
func (c *BadgerCollection) Count(ctx context.Context, filter queryx.Filter) (int64, error) {
	if err := queryx.ValidateFilter(filter); err != nil {
		return 0, err
	}
	matched, err := c.scan(filter)
	if err != nil {
		return 0, classify(err, queryx.ErrCountFailed)
	}
	return int64(len(matched)), nil
}

// UpdateOne rewrites the first matching document with the changes applied.
func (c *BadgerCollection) UpdateOne(ctx context.Context, filter queryx.Filter, changes map[string]any) (queryx.UpdateResult, error) {
	if err := queryx.ValidateFilter(filter); err != nil {
		return queryx.UpdateResult{}, err
	}
	if err := queryx.ValidateChanges(changes); err != nil {
		return queryx.UpdateResult{}, err
	}

	var result queryx.UpdateResult
	err := c.store.db.Update(func(txn *badger.Txn) error {
		target, err := c.firstMatch(txn, filter)
		if err != nil || target == nil {
			return err
		}

		modified := false
		for field, value := range changes {
			if existing, ok := target.doc.Get(field); !ok || queryx.Compare(existing, value) != 0 {
				modified = true
			}
			target.doc.Set(field, value)
		}

		result.MatchedCount = 1
		if !modified {
			return nil
		}

		data, err := target.doc.MarshalJSON()
		if err != nil {
			return queryx.QueryErrors.NewWithCause(queryx.ErrDecodeFailed, err)
		}
		if err := txn.Set(target.key, data); err != nil {
			return err
		}
		result.ModifiedCount = 1
		return nil
	})
	if err != nil {
		return queryx.UpdateResult{}, classify(err, queryx.ErrUpdateFailed)
	}
	return result, nil
}

// DeleteOne removes the first matching document in natural order.
func (c *BadgerCollection) DeleteOne(ctx context.Context, filter queryx.Filter) (queryx.DeleteResult, error) {
	if err := queryx.ValidateFilter(filter); err != nil {
		return queryx.DeleteResult{}, err
	}

	var result queryx.DeleteResult
	err := c.store.db.Update(func(txn *badger.Txn) error {
		target, err := c.firstMatch(txn, filter)
		if err != nil || target == nil {
			return err
		}
		if err := txn.Delete(target.key); err != nil {
			return err
		}
		result.DeletedCount = 1
		return nil
	})
	if err != nil {
		return queryx.DeleteResult{}, classify(err, queryx.ErrDeleteFailed)
	}
	return result, nil
}

// Aggregate runs the pipeline over a full-scan snapshot.
func (c *BadgerCollection) Aggregate(ctx context.Context, pipeline queryx.Pipeline) (queryx.Cursor, error) {
	matched, err := c.scan(nil)
	if err != nil {
		return nil, classify(err, queryx.ErrAggregateFailed)
	}

	docs := make([]*queryx.Document, len(matched))
	for i, item := range matched {
		docs[i] = item.doc
	}

	out, err := pipeline.Run(docs)
	if err != nil {
		return nil, err
	}
	return queryx.NewSliceCursor(out, 0), nil
}

// CreateIndex persists the index declaration. Re-declaring the same spec is
// a no-op; the engine itself keeps no secondary index structure.
func (c *BadgerCollection) CreateIndex(ctx context.Context, spec queryx.IndexSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	name := spec.Name()
	key := append(c.indexPrefix(), name...)
	data, err := json.Marshal(spec.Keys)
	if err != nil {
		return "", queryx.QueryErrors.NewWithCause(queryx.ErrIndexFailed, err)
	}

	err = c.store.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return "", classify(err, queryx.ErrIndexFailed)
	}
	return name, nil
}

// Indexes lists persisted index declarations.
func (c *BadgerCollection) Indexes(ctx context.Context) ([]queryx.IndexSpec, error) {
	var specs []queryx.IndexSpec

	err := c.store.db.View(func(txn *badger.Txn) error {
		prefix := c.indexPrefix()
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var keys []queryx.SortKey
				if err := json.Unmarshal(val, &keys); err != nil {
					return queryx.QueryErrors.NewWithCause(queryx.ErrDecodeFailed, err)
				}
				specs = append(specs, queryx.IndexSpec{Keys: keys})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, queryx.ErrIndexFailed)
	}
	return specs, nil
}

// scan reads every document of the collection in key (insertion) order and
// keeps the ones matching the filter.
func (c *BadgerCollection) scan(filter queryx.Filter) ([]storedDoc, error) {
	var matched []storedDoc

	err := c.store.db.View(func(txn *badger.Txn) error {
		return c.scanTxn(txn, filter, func(item storedDoc) bool {
			matched = append(matched, item)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

func (c *BadgerCollection) firstMatch(txn *badger.Txn, filter queryx.Filter) (*storedDoc, error) {
	var target *storedDoc
	err := c.scanTxn(txn, filter, func(item storedDoc) bool {
		target = &item
		return false
	})
	return target, err
}

func (c *BadgerCollection) scanTxn(txn *badger.Txn, filter queryx.Filter, yield func(storedDoc) bool) error {
	prefix := c.docPrefix()
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)

		var doc queryx.Document
		err := item.Value(func(val []byte) error {
			return doc.UnmarshalJSON(val)
		})
		if err != nil {
			return queryx.QueryErrors.NewWithCause(queryx.ErrDecodeFailed, err).
				WithDetail("key", string(key))
		}

		if !queryx.MatchesFilter(filter, &doc) {
			continue
		}
		if !yield(storedDoc{key: key, doc: &doc}) {
			return nil
		}
	}
	return nil
}

// classify maps engine errors onto the queryx taxonomy.
func classify(err error, fallback errx.Code) error {
	var xerr *errx.Error
	if errors.As(err, &xerr) {
		return err
	}
	if errors.Is(err, badger.ErrDBClosed) || errors.Is(err, badger.ErrBlockedWrites) {
		return queryx.QueryErrors.NewWithCause(queryx.ErrConnectionFailed, err)
	}
	return queryx.QueryErrors.NewWithCause(fallback, err)
}
