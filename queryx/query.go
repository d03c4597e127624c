package queryx

import "sort"

// SortKey is a single (field, direction) pair.
type SortKey struct {
	Field string
	Desc  bool
}

// Asc sorts ascending on a field.
func Asc(field string) SortKey { return SortKey{Field: field} }

// Desc sorts descending on a field.
func Desc(field string) SortKey { return SortKey{Field: field, Desc: true} }

// SortSpec is an ordered sequence of sort keys; sequence order is the
// tie-break precedence.
type SortSpec []SortKey

// Validate checks the sort specification.
func (s SortSpec) Validate() error {
	for _, key := range s {
		if key.Field == "" {
			return QueryErrors.NewWithMessage(ErrMalformedRequest, "empty field name in sort key")
		}
	}
	return nil
}

// Less orders two documents under the specification. Documents missing a
// sort field order before documents that have it.
func (s SortSpec) Less(a, b *Document) bool {
	for _, key := range s {
		valA, okA := a.Get(key.Field)
		valB, okB := b.Get(key.Field)

		if !okA && !okB {
			continue
		}
		if !okA {
			return !key.Desc
		}
		if !okB {
			return key.Desc
		}

		cmp := compareValues(valA, valB)
		if cmp != 0 {
			if key.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
	}
	return false
}

// Sort orders documents in place under the specification. The sort is
// stable so equal documents keep their input order.
func (s SortSpec) Sort(docs []*Document) {
	if len(s) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return s.Less(docs[i], docs[j])
	})
}

// Page describes a result window: skip Offset documents, then take at most
// Limit. Skip always applies before limit.
type Page struct {
	Offset int64
	Limit  int64
}

// Validate checks the page bounds.
func (p Page) Validate() error {
	if p.Offset < 0 {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "negative page offset")
	}
	if p.Limit < 0 {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "negative page limit")
	}
	return nil
}

// Slice applies the window to an already-sorted result set.
func (p Page) Slice(docs []*Document) []*Document {
	offset := p.Offset
	if offset > int64(len(docs)) {
		offset = int64(len(docs))
	}
	docs = docs[offset:]

	if p.Limit > 0 && p.Limit < int64(len(docs)) {
		docs = docs[:p.Limit]
	}
	return docs
}

// Projection selects which fields appear in returned documents. A projection
// either includes a field set or excludes one, never both. The _id field is
// kept by default and dropped only with WithoutID.
type Projection struct {
	include []string
	exclude []string
	dropID  bool
}

// Include builds a projection returning only the named fields (plus _id).
func Include(fields ...string) Projection {
	return Projection{include: fields}
}

// Exclude builds a projection returning all fields except the named ones.
func Exclude(fields ...string) Projection {
	return Projection{exclude: fields}
}

// WithoutID drops the _id field from projected documents.
func (p Projection) WithoutID() Projection {
	p.dropID = true
	return p
}

// IncludedFields returns the include list.
func (p Projection) IncludedFields() []string { return p.include }

// ExcludedFields returns the exclude list.
func (p Projection) ExcludedFields() []string { return p.exclude }

// DropsID reports whether _id is dropped.
func (p Projection) DropsID() bool { return p.dropID }

// Validate checks the projection's structure.
func (p Projection) Validate() error {
	if len(p.include) > 0 && len(p.exclude) > 0 {
		return QueryErrors.NewWithMessage(ErrMalformedRequest, "projection cannot mix include and exclude")
	}
	for _, field := range append(append([]string{}, p.include...), p.exclude...) {
		if field == "" {
			return QueryErrors.NewWithMessage(ErrMalformedRequest, "empty field name in projection")
		}
	}
	return nil
}

// Apply projects a document into a new snapshot.
func (p Projection) Apply(doc *Document) *Document {
	out := NewDocument()

	if len(p.include) > 0 {
		if !p.dropID {
			if id, ok := doc.Get(IDField); ok {
				out.Set(IDField, cloneValue(id))
			}
		}
		for _, field := range p.include {
			if field == IDField {
				continue
			}
			if v, ok := doc.Get(field); ok {
				out.Set(field, cloneValue(v))
			}
		}
		return out
	}

	excluded := make(map[string]bool, len(p.exclude))
	for _, field := range p.exclude {
		excluded[field] = true
	}
	for _, field := range doc.Keys() {
		if excluded[field] {
			continue
		}
		if field == IDField && p.dropID {
			continue
		}
		v, _ := doc.Get(field)
		out.Set(field, cloneValue(v))
	}
	return out
}

// FindOptions collects the optional parts of a find: projection, sort, page.
type FindOptions struct {
	Projection *Projection
	Sort       SortSpec
	Page       *Page
	BatchSize  int
}

// FindOption configures a find operation.
type FindOption func(*FindOptions)

// WithProjection sets the field projection.
func WithProjection(p Projection) FindOption {
	return func(o *FindOptions) { o.Projection = &p }
}

// WithSort sets the sort order.
func WithSort(keys ...SortKey) FindOption {
	return func(o *FindOptions) { o.Sort = SortSpec(keys) }
}

// WithPage sets the result window.
func WithPage(offset, limit int64) FindOption {
	return func(o *FindOptions) { o.Page = &Page{Offset: offset, Limit: limit} }
}

// WithBatchSize sets the cursor fetch batch size.
func WithBatchSize(n int) FindOption {
	return func(o *FindOptions) { o.BatchSize = n }
}

// BuildFindOptions resolves and validates find options. Providers call this
// before touching the engine so structural problems surface as
// MALFORMED_REQUEST without a round trip.
func BuildFindOptions(opts ...FindOption) (FindOptions, error) {
	var resolved FindOptions
	for _, opt := range opts {
		opt(&resolved)
	}

	if resolved.Projection != nil {
		if err := resolved.Projection.Validate(); err != nil {
			return FindOptions{}, err
		}
	}
	if err := resolved.Sort.Validate(); err != nil {
		return FindOptions{}, err
	}
	if resolved.Page != nil {
		if err := resolved.Page.Validate(); err != nil {
			return FindOptions{}, err
		}
	}
	return resolved, nil
}

// ApplyLocal evaluates the options against an in-process result set: sort,
// then window, then projection. Embedded engine providers share this path.
func (o FindOptions) ApplyLocal(docs []*Document) []*Document {
	o.Sort.Sort(docs)
	if o.Page != nil {
		docs = o.Page.Slice(docs)
	}
	if o.Projection != nil {
		projected := make([]*Document, len(docs))
		for i, doc := range docs {
			projected[i] = o.Projection.Apply(doc)
		}
		docs = projected
	}
	return docs
}
