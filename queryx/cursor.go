package queryx

import "context"

// DefaultBatchSize is the number of documents a cursor fetches per batch when
// the caller does not configure one.
const DefaultBatchSize = 100

// Cursor is a finite, lazily-produced sequence of documents.
//
// A cursor is one-shot: it is consumed by iteration and not rewound. The
// query that produced it is restartable — calling Find or Aggregate again
// re-executes the query and yields a fresh cursor; no results are cached.
type Cursor interface {
	// Next advances to the next document, fetching the next batch from the
	// engine when the current one is drained. It returns false when the
	// sequence is exhausted or an error occurred; check Err afterwards.
	Next(ctx context.Context) bool

	// Current returns the document the cursor is positioned on.
	Current() *Document

	// Err returns the error that terminated iteration, if any.
	Err() error

	// Close releases the cursor's resources. Safe to call more than once.
	Close(ctx context.Context) error

	// All drains the remaining documents and closes the cursor.
	All(ctx context.Context) ([]*Document, error)
}

// sliceCursor serves an in-process result set in batches, giving embedded
// engines the same fetch-next-batch shape driver cursors have.
type sliceCursor struct {
	docs      []*Document
	batchSize int

	batch   []*Document
	pos     int
	fetched int
	current *Document
	err     error
	closed  bool
}

// NewSliceCursor wraps an already-computed result set in a Cursor. A
// non-positive batchSize falls back to DefaultBatchSize.
func NewSliceCursor(docs []*Document, batchSize int) Cursor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &sliceCursor{docs: docs, batchSize: batchSize}
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = QueryErrors.NewWithCause(ErrFindFailed, err)
		return false
	}

	if c.pos >= len(c.batch) {
		if !c.fetchBatch() {
			return false
		}
	}

	c.current = c.batch[c.pos]
	c.pos++
	return true
}

func (c *sliceCursor) fetchBatch() bool {
	if c.fetched >= len(c.docs) {
		return false
	}
	end := c.fetched + c.batchSize
	if end > len(c.docs) {
		end = len(c.docs)
	}
	c.batch = c.docs[c.fetched:end]
	c.fetched = end
	c.pos = 0
	return true
}

func (c *sliceCursor) Current() *Document { return c.current }

func (c *sliceCursor) Err() error { return c.err }

func (c *sliceCursor) Close(ctx context.Context) error {
	c.closed = true
	c.batch = nil
	c.docs = nil
	return nil
}

func (c *sliceCursor) All(ctx context.Context) ([]*Document, error) {
	defer c.Close(ctx)

	var out []*Document
	for c.Next(ctx) {
		out = append(out, c.Current())
	}
	if c.err != nil {
		return nil, c.err
	}
	return out, nil
}
