// Package queryxmemory implements the queryx Collection contract with an
// embedded in-memory engine. It is intended for tests and single-process
// tools; natural order is insertion order.
package queryxmemory

import (
	"context"
	"sync"

	"github.com/Conversia-AI/craftable-queryx/queryx"
	"github.com/google/uuid"
)

// MemoryCollection is an in-memory implementation of queryx.Collection.
// All operations take snapshots, so documents handed out are never mutated
// by later writes.
type MemoryCollection struct {
	mu         sync.RWMutex
	docs       []*queryx.Document
	indexes    map[string]queryx.IndexSpec
	indexOrder []string

	idGenerator func() string
	batchSize   int
}

// Option configures a MemoryCollection.
type Option func(*MemoryCollection)

// WithIDGenerator overrides how _id values are generated.
func WithIDGenerator(generator func() string) Option {
	return func(c *MemoryCollection) {
		c.idGenerator = generator
	}
}

// WithBatchSize sets the default cursor batch size.
func WithBatchSize(n int) Option {
	return func(c *MemoryCollection) {
		c.batchSize = n
	}
}

// New creates an empty in-memory collection.
func New(options ...Option) *MemoryCollection {
	c := &MemoryCollection{
		indexes:     make(map[string]queryx.IndexSpec),
		idGenerator: uuid.NewString,
		batchSize:   queryx.DefaultBatchSize,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// InsertOne stores a document and returns its _id.
func (c *MemoryCollection) InsertOne(ctx context.Context, doc *queryx.Document) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(doc)
}

// InsertMany stores documents in order and returns their _ids.
func (c *MemoryCollection) InsertMany(ctx context.Context, docs []*queryx.Document) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id, err := c.insertLocked(doc)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *MemoryCollection) insertLocked(doc *queryx.Document) (string, error) {
	if doc == nil {
		return "", queryx.QueryErrors.NewWithMessage(queryx.ErrMalformedRequest, "nil document")
	}

	stored := doc.Clone()
	id, ok := stored.ID()
	if !ok || id == "" {
		id = c.idGenerator()
		stored.Set(queryx.IDField, id)
	}
	c.docs = append(c.docs, stored)
	return id, nil
}

// Find returns matching documents. Each call re-evaluates the query against
// the current contents.
func (c *MemoryCollection) Find(ctx context.Context, filter queryx.Filter, opts ...queryx.FindOption) (queryx.Cursor, error) {
	if err := queryx.ValidateFilter(filter); err != nil {
		return nil, err
	}
	options, err := queryx.BuildFindOptions(opts...)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	matched := c.matchSnapshot(filter)
	c.mu.RUnlock()

	matched = options.ApplyLocal(matched)

	batchSize := options.BatchSize
	if batchSize <= 0 {
		batchSize = c.batchSize
	}
	return queryx.NewSliceCursor(matched, batchSize), nil
}

// FindOne returns the first match by insertion order. ok is false on zero
// matches.
func (c *MemoryCollection) FindOne(ctx context.Context, filter queryx.Filter, opts ...queryx.FindOption) (*queryx.Document, bool, error) {
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
func (c *MemoryCollection) Count(ctx context.Context, filter queryx.Filter) (int64, error) {
	if err := queryx.ValidateFilter(filter); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var count int64
	for _, doc := range c.docs {
		if queryx.MatchesFilter(filter, doc) {
			count++
		}
	}
	return count, nil
}

// UpdateOne overwrites the listed fields of the first match by insertion
// order, preserving the others. Zero matches report {0, 0}.
func (c *MemoryCollection) UpdateOne(ctx context.Context, filter queryx.Filter, changes map[string]any) (queryx.UpdateResult, error) {
	if err := queryx.ValidateFilter(filter); err != nil {
		return queryx.UpdateResult{}, err
	}
	if err := queryx.ValidateChanges(changes); err != nil {
		return queryx.UpdateResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, doc := range c.docs {
		if !queryx.MatchesFilter(filter, doc) {
			continue
		}

		modified := false
		for field, value := range changes {
			if existing, ok := doc.Get(field); !ok || !equalValues(existing, value) {
				modified = true
			}
			doc.Set(field, value)
		}

		result := queryx.UpdateResult{MatchedCount: 1}
		if modified {
			result.ModifiedCount = 1
		}
		return result, nil
	}
	return queryx.UpdateResult{}, nil
}

// DeleteOne removes the first match by insertion order. Zero matches report
// {0}.
func (c *MemoryCollection) DeleteOne(ctx context.Context, filter queryx.Filter) (queryx.DeleteResult, error) {
	if err := queryx.ValidateFilter(filter); err != nil {
		return queryx.DeleteResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, doc := range c.docs {
		if queryx.MatchesFilter(filter, doc) {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			return queryx.DeleteResult{DeletedCount: 1}, nil
		}
	}
	return queryx.DeleteResult{}, nil
}

// Aggregate runs the pipeline over a snapshot of the collection.
func (c *MemoryCollection) Aggregate(ctx context.Context, pipeline queryx.Pipeline) (queryx.Cursor, error) {
	c.mu.RLock()
	snapshot := c.matchSnapshot(nil)
	c.mu.RUnlock()

	out, err := pipeline.Run(snapshot)
	if err != nil {
		return nil, err
	}
	return queryx.NewSliceCursor(out, c.batchSize), nil
}

// CreateIndex records an index declaration. Declaring the same spec twice is
// a no-op; the engine keeps no index structure beyond the declaration.
func (c *MemoryCollection) CreateIndex(ctx context.Context, spec queryx.IndexSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	name := spec.Name()
	if _, exists := c.indexes[name]; !exists {
		c.indexes[name] = spec
		c.indexOrder = append(c.indexOrder, name)
	}
	return name, nil
}

// Indexes lists declared indexes in creation order.
func (c *MemoryCollection) Indexes(ctx context.Context) ([]queryx.IndexSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	specs := make([]queryx.IndexSpec, 0, len(c.indexOrder))
	for _, name := range c.indexOrder {
		specs = append(specs, c.indexes[name])
	}
	return specs, nil
}

// Len returns the number of stored documents.
func (c *MemoryCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Clear removes all documents but keeps index declarations.
func (c *MemoryCollection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = nil
}

// matchSnapshot clones matching documents under the caller's lock.
func (c *MemoryCollection) matchSnapshot(filter queryx.Filter) []*queryx.Document {
	matched := make([]*queryx.Document, 0, len(c.docs))
	for _, doc := range c.docs {
		if queryx.MatchesFilter(filter, doc) {
			matched = append(matched, doc.Clone())
		}
	}
	return matched
}

func equalValues(a, b any) bool {
	return queryx.Compare(a, b) == 0
}
