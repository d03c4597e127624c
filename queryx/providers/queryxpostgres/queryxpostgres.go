// Package queryxpostgres implements the queryx Collection contract on
// PostgreSQL. Each collection maps to one table holding the document as a
// JSONB column; a BIGSERIAL sequence column gives the collection its natural
// (insertion) order. Filters, sorts and windows are pushed down to SQL;
// projections and aggregation pipelines are evaluated on the decoded
// documents.
package queryxpostgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Conversia-AI/craftable-queryx/errx"
	"github.com/Conversia-AI/craftable-queryx/queryx"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/lib/pq"
)

// PgCollection is a PostgreSQL implementation of queryx.Collection.
type PgCollection struct {
	db    *sqlx.DB
	table string
}

// New creates a collection backed by the given table.
func New(db *sqlx.DB, table string) *PgCollection {
	return &PgCollection{db: db, table: table}
}

// EnsureTable creates the backing table if it does not exist.
func (c *PgCollection) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL PRIMARY KEY,
			id  TEXT NOT NULL UNIQUE,
			doc JSONB NOT NULL
		)`, c.table)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return classify(err, queryx.ErrConnectionFailed)
	}
	return nil
}

// InsertOne stores a document and returns its _id.
func (c *PgCollection) InsertOne(ctx context.Context, doc *queryx.Document) (string, error) {
	ids, err := c.InsertMany(ctx, []*queryx.Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertMany stores documents in order and returns their _ids.
func (c *PgCollection) InsertMany(ctx context.Context, docs []*queryx.Document) ([]string, error) {
	ids := make([]string, 0, len(docs))

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify(err, queryx.ErrInsertFailed)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf("INSERT INTO %s (id, doc) VALUES ($1, $2)", c.table)
	for _, doc := range docs {
		if doc == nil {
			err = queryx.QueryErrors.NewWithMessage(queryx.ErrMalformedRequest, "nil document")
			return nil, err
		}
		stored := doc.Clone()
		id, ok := stored.ID()
		if !ok || id == "" {
			id = uuid.New().String()
			stored.Set(queryx.IDField, id)
		}

		data, merr := stored.MarshalJSON()
		if merr != nil {
			err = queryx.QueryErrors.NewWithCause(queryx.ErrDecodeFailed, merr)
			return nil, err
		}
		if _, err = tx.ExecContext(ctx, query, id, data); err != nil {
			return nil, classify(err, queryx.ErrInsertFailed)
		}
		ids = append(ids, id)
	}

	if err = tx.Commit(); err != nil {
		return nil, classify(err, queryx.ErrInsertFailed)
	}
	return ids, nil
}

// Find translates the filter, sort and window to SQL and returns a cursor
// over the decoded documents. Each call re-executes the query.
func (c *PgCollection) Find(ctx context.Context, filter queryx.Filter, opts ...queryx.FindOption) (queryx.Cursor, error) {
	if err := queryx.ValidateFilter(filter); err != nil {
		return nil, err
	}
	options, err := queryx.BuildFindOptions(opts...)
	if err != nil {
		return nil, err
	}

	b := &whereBuilder{}
	where, err := b.Build(filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT doc FROM %s%s%s%s", c.table, where, orderClause(options.Sort), pageClause(options.Page))

	docs, err := c.selectDocs(ctx, query, b.args)
	if err != nil {
		return nil, classify(err, queryx.ErrFindFailed)
	}

	if options.Projection != nil {
		for i, doc := range docs {
			docs[i] = options.Projection.Apply(doc)
		}
	}
	return queryx.NewSliceCursor(docs, options.BatchSize), nil
}

// FindOne returns the first match in natural (insertion) order.
func (c *PgCollection) FindOne(ctx context.Context, filter queryx.Filter, opts ...queryx.FindOption) (*queryx.Document, bool, error) {
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
func (c *PgCollection) Count(ctx context.Context, filter queryx.Filter) (int64, error) {
	if err := queryx.ValidateFilter(filter); err != nil {
		return 0, err
	}

	b := &whereBuilder{}
	where, err := b.Build(filter)
	if err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", c.table, where)
	if err := c.db.GetContext(ctx, &count, query, b.args...); err != nil {
		return 0, classify(err, queryx.ErrCountFailed)
	}
	return count, nil
}

// UpdateOne merges the changes into the first match in natural order. The
// JSONB containment check against the change set decides ModifiedCount.
func (c *PgCollection) UpdateOne(ctx context.Context, filter queryx.Filter, changes map[string]any) (queryx.UpdateResult, error) {
	if err := queryx.ValidateFilter(filter); err != nil {
		return queryx.UpdateResult{}, err
	}
	if err := queryx.ValidateChanges(changes); err != nil {
		return queryx.UpdateResult{}, err
	}

	patch := queryx.FromMap(changes)
	data, err := patch.MarshalJSON()
	if err != nil {
		return queryx.UpdateResult{}, queryx.QueryErrors.NewWithCause(queryx.ErrDecodeFailed, err)
	}

	b := &whereBuilder{}
	where, err := b.Build(filter)
	if err != nil {
		return queryx.UpdateResult{}, err
	}

	var result queryx.UpdateResult
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return queryx.UpdateResult{}, classify(err, queryx.ErrUpdateFailed)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var target struct {
		Seq       int64 `db:"seq"`
		Unchanged bool  `db:"unchanged"`
	}
	selectQuery := fmt.Sprintf(
		"SELECT seq, doc @> $%d::jsonb AS unchanged FROM %s%s ORDER BY seq LIMIT 1",
		len(b.args)+1, c.table, where,
	)
	err = tx.GetContext(ctx, &target, selectQuery, append(b.args, data)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if err = tx.Commit(); err != nil {
				return queryx.UpdateResult{}, classify(err, queryx.ErrUpdateFailed)
			}
			return queryx.UpdateResult{}, nil
		}
		return queryx.UpdateResult{}, classify(err, queryx.ErrUpdateFailed)
	}

	result.MatchedCount = 1
	if !target.Unchanged {
		updateQuery := fmt.Sprintf("UPDATE %s SET doc = doc || $1::jsonb WHERE seq = $2", c.table)
		if _, err = tx.ExecContext(ctx, updateQuery, data, target.Seq); err != nil {
			return queryx.UpdateResult{}, classify(err, queryx.ErrUpdateFailed)
		}
		result.ModifiedCount = 1
	}

	if err = tx.Commit(); err != nil {
		return queryx.UpdateResult{}, classify(err, queryx.ErrUpdateFailed)
	}
	return result, nil
}

// DeleteOne removes the first match in natural order.
func (c *PgCollection) DeleteOne(ctx context.Context, filter queryx.Filter) (queryx.DeleteResult, error) {
	if err := queryx.ValidateFilter(filter); err != nil {
		return queryx.DeleteResult{}, err
	}

	b := &whereBuilder{}
	where, err := b.Build(filter)
	if err != nil {
		return queryx.DeleteResult{}, err
	}

	query := fmt.Sprintf(
		"DELETE FROM %s WHERE seq = (SELECT seq FROM %s%s ORDER BY seq LIMIT 1)",
		c.table, c.table, where,
	)
	res, err := c.db.ExecContext(ctx, query, b.args...)
	if err != nil {
		return queryx.DeleteResult{}, classify(err, queryx.ErrDeleteFailed)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return queryx.DeleteResult{}, classify(err, queryx.ErrDeleteFailed)
	}
	return queryx.DeleteResult{DeletedCount: deleted}, nil
}

// Aggregate runs the pipeline over the collection in natural order.
func (c *PgCollection) Aggregate(ctx context.Context, pipeline queryx.Pipeline) (queryx.Cursor, error) {
	query := fmt.Sprintf("SELECT doc FROM %s ORDER BY seq", c.table)
	docs, err := c.selectDocs(ctx, query, nil)
	if err != nil {
		return nil, classify(err, queryx.ErrAggregateFailed)
	}

	out, err := pipeline.Run(docs)
	if err != nil {
		return nil, err
	}
	return queryx.NewSliceCursor(out, 0), nil
}

// CreateIndex declares a composite expression index over document fields.
// Re-declaring the same spec is a no-op.
func (c *PgCollection) CreateIndex(ctx context.Context, spec queryx.IndexSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	name := spec.Name()
	columns := make([]string, len(spec.Keys))
	for i, key := range spec.Keys {
		direction := "ASC"
		if key.Desc {
			direction = "DESC"
		}
		columns[i] = fmt.Sprintf("((doc -> %s)) %s", fieldLiteral(key.Field), direction)
	}

	query := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %q ON %s (%s)`,
		c.table+"_"+name, c.table, strings.Join(columns, ", "),
	)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return "", classify(err, queryx.ErrIndexFailed)
	}
	return name, nil
}

// Indexes lists declared indexes by decoding their names from pg_indexes.
func (c *PgCollection) Indexes(ctx context.Context) ([]queryx.IndexSpec, error) {
	var names []string
	query := "SELECT indexname FROM pg_indexes WHERE tablename = $1 AND indexname LIKE $2 ORDER BY indexname"
	err := c.db.SelectContext(ctx, &names, query, c.table, c.table+"\\_%")
	if err != nil {
		return nil, classify(err, queryx.ErrIndexFailed)
	}

	var specs []queryx.IndexSpec
	for _, name := range names {
		spec, ok := queryx.ParseIndexName(strings.TrimPrefix(name, c.table+"_"))
		if !ok {
			continue
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (c *PgCollection) selectDocs(ctx context.Context, query string, args []any) ([]*queryx.Document, error) {
	var rows [][]byte
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	docs := make([]*queryx.Document, len(rows))
	for i, raw := range rows {
		var doc queryx.Document
		if err := doc.UnmarshalJSON(raw); err != nil {
			return nil, queryx.QueryErrors.NewWithCause(queryx.ErrDecodeFailed, err)
		}
		docs[i] = &doc
	}
	return docs, nil
}

// whereBuilder translates a queryx.Filter into a WHERE clause with $N
// placeholders, collecting the arguments as it goes.
type whereBuilder struct {
	args []any
}

// Build returns the full clause including the leading " WHERE ", or an empty
// string for a nil (match-all) filter.
func (b *whereBuilder) Build(filter queryx.Filter) (string, error) {
	if filter == nil {
		return "", nil
	}
	clause, err := b.translate(filter)
	if err != nil {
		return "", err
	}
	return " WHERE " + clause, nil
}

func (b *whereBuilder) translate(filter queryx.Filter) (string, error) {
	switch f := filter.(type) {
	case queryx.Cond:
		return b.condition(f)
	case queryx.AndFilter:
		return b.compound(f.Filters, " AND ")
	case queryx.OrFilter:
		return b.compound(f.Filters, " OR ")
	case queryx.NotFilter:
		inner, err := b.translate(f.Filter)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	default:
		return "", queryx.QueryErrors.NewWithMessage(queryx.ErrMalformedRequest,
			fmt.Sprintf("unsupported filter type %T", filter))
	}
}

func (b *whereBuilder) compound(filters []queryx.Filter, joiner string) (string, error) {
	clauses := make([]string, len(filters))
	for i, clause := range filters {
		translated, err := b.translate(clause)
		if err != nil {
			return "", err
		}
		clauses[i] = translated
	}
	return "(" + strings.Join(clauses, joiner) + ")", nil
}

func (b *whereBuilder) condition(c queryx.Cond) (string, error) {
	field := fieldLiteral(c.Field)
	presence := fmt.Sprintf("doc ? %s", field)

	switch c.Op {
	case queryx.OpExists:
		want, _ := c.Value.(bool)
		if want {
			return presence, nil
		}
		return "NOT " + presence, nil

	case queryx.OpIn:
		values, _ := c.Value.([]any)
		expr, arg := inOperand(field, values)
		placeholder := b.bind(arg)
		return fmt.Sprintf("(%s AND %s = ANY(%s))", presence, expr, placeholder), nil

	case queryx.OpNe:
		expr, arg := typedOperand(field, c.Value)
		placeholder := b.bind(arg)
		return fmt.Sprintf("(NOT %s OR %s <> %s)", presence, expr, placeholder), nil

	default:
		op, ok := sqlOperators[c.Op]
		if !ok {
			return "", queryx.QueryErrors.NewWithMessage(queryx.ErrMalformedRequest,
				"unsupported operator "+string(c.Op)).WithDetail("field", c.Field)
		}
		expr, arg := typedOperand(field, c.Value)
		placeholder := b.bind(arg)
		return fmt.Sprintf("(%s AND %s %s %s)", presence, expr, op, placeholder), nil
	}
}

func (b *whereBuilder) bind(arg any) string {
	b.args = append(b.args, arg)
	return fmt.Sprintf("$%d", len(b.args))
}

var sqlOperators = map[queryx.Operator]string{
	queryx.OpEq:  "=",
	queryx.OpGt:  ">",
	queryx.OpGte: ">=",
	queryx.OpLt:  "<",
	queryx.OpLte: "<=",
}

// typedOperand picks the JSONB extraction and cast matching the comparison
// value's type so numeric and chronological comparisons do not fall back to
// text ordering.
func typedOperand(field string, value any) (expr string, arg any) {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, float32, float64:
		return fmt.Sprintf("(doc ->> %s)::numeric", field), v
	case bool:
		return fmt.Sprintf("(doc ->> %s)::boolean", field), v
	case time.Time:
		return fmt.Sprintf("(doc ->> %s)::timestamptz", field), v
	default:
		return fmt.Sprintf("doc ->> %s", field), fmt.Sprintf("%v", value)
	}
}

// inOperand builds the operand for $in. A homogeneous numeric list compares
// numerically; anything else compares as text.
func inOperand(field string, values []any) (expr string, arg any) {
	numeric := len(values) > 0
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		switch n := v.(type) {
		case int:
			nums = append(nums, float64(n))
		case int8:
			nums = append(nums, float64(n))
		case int16:
			nums = append(nums, float64(n))
		case int32:
			nums = append(nums, float64(n))
		case int64:
			nums = append(nums, float64(n))
		case float32:
			nums = append(nums, float64(n))
		case float64:
			nums = append(nums, n)
		default:
			numeric = false
		}
		if !numeric {
			break
		}
	}
	if numeric {
		return fmt.Sprintf("(doc ->> %s)::numeric", field), pq.Array(nums)
	}

	texts := make([]string, len(values))
	for i, v := range values {
		texts[i] = fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("doc ->> %s", field), pq.Array(texts)
}

// fieldLiteral quotes a document field name as a SQL string literal.
func fieldLiteral(field string) string {
	return "'" + strings.ReplaceAll(field, "'", "''") + "'"
}

func orderClause(sort queryx.SortSpec) string {
	if len(sort) == 0 {
		return " ORDER BY seq"
	}
	keys := make([]string, len(sort))
	for i, key := range sort {
		if key.Desc {
			keys[i] = fmt.Sprintf("doc -> %s DESC NULLS LAST", fieldLiteral(key.Field))
		} else {
			keys[i] = fmt.Sprintf("doc -> %s ASC NULLS FIRST", fieldLiteral(key.Field))
		}
	}
	return " ORDER BY " + strings.Join(keys, ", ") + ", seq"
}

func pageClause(page *queryx.Page) string {
	if page == nil {
		return ""
	}
	clause := ""
	if page.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", page.Limit)
	}
	if page.Offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", page.Offset)
	}
	return clause
}

// classify maps engine errors onto the queryx taxonomy.
func classify(err error, fallback errx.Code) error {
	var xerr *errx.Error
	if errors.As(err, &xerr) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return queryx.QueryErrors.NewWithCause(queryx.ErrConnectionFailed, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return queryx.QueryErrors.NewWithCause(queryx.ErrConnectionFailed, err)
		case "22", "42":
			return queryx.QueryErrors.NewWithCause(queryx.ErrMalformedRequest, err)
		}
	}
	return queryx.QueryErrors.NewWithCause(fallback, err)
}
