package queryx

import (
	"context"
	"strconv"
	"strings"
)

// UpdateResult reports the outcome of an update operation.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// DeleteResult reports the outcome of a delete operation.
type DeleteResult struct {
	DeletedCount int64
}

// IndexSpec identifies a composite index by its ordered (field, direction)
// key sequence.
type IndexSpec struct {
	Keys []SortKey
}

// NewIndex builds an index specification.
func NewIndex(keys ...SortKey) IndexSpec { return IndexSpec{Keys: keys} }

// Validate checks the index specification.
func (s IndexSpec) Validate() error {
	if len(s.Keys) == 0 {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "index requires at least one key")
	}
	for _, key := range s.Keys {
		if key.Field == "" {
			return QueryErrors.NewWithMessage(ErrMalformedRequest, "empty field name in index key")
		}
	}
	return nil
}

// Name derives the index name in the mongo convention, e.g. "genre_1_price_-1".
func (s IndexSpec) Name() string {
	parts := make([]string, 0, len(s.Keys)*2)
	for _, key := range s.Keys {
		direction := "1"
		if key.Desc {
			direction = "-1"
		}
		parts = append(parts, key.Field, direction)
	}
	return strings.Join(parts, "_")
}

// ParseIndexName recovers an index specification from a name produced by
// Name. It returns ok=false for names in another convention.
func ParseIndexName(name string) (IndexSpec, bool) {
	tokens := strings.Split(name, "_")
	var spec IndexSpec
	var fieldParts []string
	for _, token := range tokens {
		if token == "1" || token == "-1" {
			if len(fieldParts) == 0 {
				return IndexSpec{}, false
			}
			desc := token == "-1"
			spec.Keys = append(spec.Keys, SortKey{Field: strings.Join(fieldParts, "_"), Desc: desc})
			fieldParts = nil
			continue
		}
		if _, err := strconv.Atoi(token); err == nil && len(fieldParts) == 0 {
			return IndexSpec{}, false
		}
		fieldParts = append(fieldParts, token)
	}
	if len(fieldParts) != 0 || len(spec.Keys) == 0 {
		return IndexSpec{}, false
	}
	return spec, true
}

// Collection is the facade contract over one document collection of an
// external storage engine. Implementations hold a single engine handle and no
// other state between calls, so one Collection may be shared by concurrent
// callers whenever the engine itself supports concurrent operations.
//
// Zero-match reads, updates, and deletes are normal successful outcomes with
// zero counts or empty sequences — never errors. Operations fail with a
// CONNECTION_FAILED error when the engine cannot be reached and with
// MALFORMED_REQUEST when a filter, projection, sort, page, or pipeline fails
// structural validation. Errors surface to the caller unmodified; the facade
// performs no retries.
type Collection interface {
	// InsertOne stores a document and returns its engine-assigned _id. A
	// caller-supplied _id is kept as-is.
	InsertOne(ctx context.Context, doc *Document) (string, error)

	// InsertMany stores documents in order and returns their _ids.
	InsertMany(ctx context.Context, docs []*Document) ([]string, error)

	// Find returns the documents matching the filter (nil matches all),
	// shaped by the options: filter, sort, skip, limit, projection — skip
	// strictly before limit. Each call re-executes the query.
	Find(ctx context.Context, filter Filter, opts ...FindOption) (Cursor, error)

	// FindOne returns the first matching document by the engine's natural
	// order. ok is false when nothing matches; that is not an error.
	FindOne(ctx context.Context, filter Filter, opts ...FindOption) (doc *Document, ok bool, err error)

	// Count returns the number of matching documents.
	Count(ctx context.Context, filter Filter) (int64, error)

	// UpdateOne overwrites the listed fields of the first matching document
	// by natural order, preserving all others. Which document is "first"
	// when several match is engine-defined and not guaranteed stable.
	// Changing _id is rejected as MALFORMED_REQUEST.
	UpdateOne(ctx context.Context, filter Filter, changes map[string]any) (UpdateResult, error)

	// DeleteOne removes the first matching document by natural order.
	DeleteOne(ctx context.Context, filter Filter) (DeleteResult, error)

	// Aggregate executes the pipeline stages strictly in order and returns
	// the resulting document sequence.
	Aggregate(ctx context.Context, pipeline Pipeline) (Cursor, error)

	// CreateIndex declares a composite index and returns its name. The call
	// is idempotent — declaring the same spec twice is a no-op — and only
	// acknowledges the request, never blocking on the index build.
	CreateIndex(ctx context.Context, spec IndexSpec) (string, error)

	// Indexes lists the declared index specifications.
	Indexes(ctx context.Context) ([]IndexSpec, error)
}

// ValidateChanges checks an UpdateOne changes payload.
func ValidateChanges(changes map[string]any) error {
	if len(changes) == 0 {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "empty changes payload")
	}
	for field := range changes {
		if field == "" {
			return QueryErrors.NewWithMessage(ErrMalformedRequest, "empty field name in changes payload")
		}
		if field == IDField {
			return QueryErrors.NewWithMessage(ErrMalformedRequest, "_id is immutable")
		}
	}
	return nil
}
