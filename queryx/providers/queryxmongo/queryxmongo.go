// Package queryxmongo implements the queryx Collection contract on top of a
// MongoDB collection handle. Every operation is a pass-through translation to
// the driver; the provider holds no state beyond the handle.
package queryxmongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Conversia-AI/craftable-queryx/errx"
	"github.com/Conversia-AI/craftable-queryx/queryx"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCollection is a MongoDB implementation of queryx.Collection.
type MongoCollection struct {
	collection *mongo.Collection
}

// New wraps a driver collection handle. The handle is supplied externally;
// the provider neither parses connection strings nor manages the client
// lifecycle.
func New(collection *mongo.Collection) *MongoCollection {
	return &MongoCollection{collection: collection}
}

// InsertOne stores a document and returns its _id.
func (c *MongoCollection) InsertOne(ctx context.Context, doc *queryx.Document) (string, error) {
	result, err := c.collection.InsertOne(ctx, documentToBSON(doc))
	if err != nil {
		return "", classify(err, queryx.ErrInsertFailed)
	}
	return insertedID(result.InsertedID), nil
}

// InsertMany stores documents in order and returns their _ids.
func (c *MongoCollection) InsertMany(ctx context.Context, docs []*queryx.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	payload := make([]interface{}, len(docs))
	for i, doc := range docs {
		payload[i] = documentToBSON(doc)
	}

	result, err := c.collection.InsertMany(ctx, payload)
	if err != nil {
		return nil, classify(err, queryx.ErrInsertFailed)
	}

	ids := make([]string, len(result.InsertedIDs))
	for i, id := range result.InsertedIDs {
		ids[i] = insertedID(id)
	}
	return ids, nil
}

// Find executes a filtered query with optional projection, sort, and window.
func (c *MongoCollection) Find(ctx context.Context, filter queryx.Filter, opts ...queryx.FindOption) (queryx.Cursor, error) {
	bsonFilter, err := FilterToBSON(filter)
	if err != nil {
		return nil, err
	}
	resolved, err := queryx.BuildFindOptions(opts...)
	if err != nil {
		return nil, err
	}

	findOptions := options.Find()
	if len(resolved.Sort) > 0 {
		findOptions.SetSort(sortToBSON(resolved.Sort))
	}
	if resolved.Page != nil {
		// Skip is applied before limit by the server.
		findOptions.SetSkip(resolved.Page.Offset)
		if resolved.Page.Limit > 0 {
			findOptions.SetLimit(resolved.Page.Limit)
		}
	}
	if resolved.Projection != nil {
		findOptions.SetProjection(projectionToBSON(*resolved.Projection))
	}
	if resolved.BatchSize > 0 {
		findOptions.SetBatchSize(int32(resolved.BatchSize))
	}

	cursor, err := c.collection.Find(ctx, bsonFilter, findOptions)
	if err != nil {
		return nil, classify(err, queryx.ErrFindFailed)
	}
	return &mongoCursor{cursor: cursor}, nil
}

// FindOne returns the first matching document by the collection's natural
// order. ok is false on zero matches.
func (c *MongoCollection) FindOne(ctx context.Context, filter queryx.Filter, opts ...queryx.FindOption) (*queryx.Document, bool, error) {
	bsonFilter, err := FilterToBSON(filter)
	if err != nil {
		return nil, false, err
	}
	resolved, err := queryx.BuildFindOptions(opts...)
	if err != nil {
		return nil, false, err
	}

	findOptions := options.FindOne()
	if len(resolved.Sort) > 0 {
		findOptions.SetSort(sortToBSON(resolved.Sort))
	}
	if resolved.Page != nil {
		findOptions.SetSkip(resolved.Page.Offset)
	}
	if resolved.Projection != nil {
		findOptions.SetProjection(projectionToBSON(*resolved.Projection))
	}

	var raw bson.D
	err = c.collection.FindOne(ctx, bsonFilter, findOptions).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, classify(err, queryx.ErrFindFailed)
	}
	return bsonToDocument(raw), true, nil
}

// Count returns the number of matching documents.
func (c *MongoCollection) Count(ctx context.Context, filter queryx.Filter) (int64, error) {
	bsonFilter, err := FilterToBSON(filter)
	if err != nil {
		return 0, err
	}

	count, err := c.collection.CountDocuments(ctx, bsonFilter)
	if err != nil {
		return 0, classify(err, queryx.ErrCountFailed)
	}
	return count, nil
}

// UpdateOne applies a $set of the changes to the first match by natural order.
func (c *MongoCollection) UpdateOne(ctx context.Context, filter queryx.Filter, changes map[string]any) (queryx.UpdateResult, error) {
	bsonFilter, err := FilterToBSON(filter)
	if err != nil {
		return queryx.UpdateResult{}, err
	}
	if err := queryx.ValidateChanges(changes); err != nil {
		return queryx.UpdateResult{}, err
	}

	result, err := c.collection.UpdateOne(ctx, bsonFilter, bson.M{"$set": changes})
	if err != nil {
		return queryx.UpdateResult{}, classify(err, queryx.ErrUpdateFailed)
	}
	return queryx.UpdateResult{
		MatchedCount:  result.MatchedCount,
		ModifiedCount: result.ModifiedCount,
	}, nil
}

// DeleteOne removes the first match by natural order.
func (c *MongoCollection) DeleteOne(ctx context.Context, filter queryx.Filter) (queryx.DeleteResult, error) {
	bsonFilter, err := FilterToBSON(filter)
	if err != nil {
		return queryx.DeleteResult{}, err
	}

	result, err := c.collection.DeleteOne(ctx, bsonFilter)
	if err != nil {
		return queryx.DeleteResult{}, classify(err, queryx.ErrDeleteFailed)
	}
	return queryx.DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// Aggregate translates the pipeline to the server's aggregation framework.
func (c *MongoCollection) Aggregate(ctx context.Context, pipeline queryx.Pipeline) (queryx.Cursor, error) {
	mongoPipeline, err := PipelineToBSON(pipeline)
	if err != nil {
		return nil, err
	}

	cursor, err := c.collection.Aggregate(ctx, mongoPipeline)
	if err != nil {
		return nil, classify(err, queryx.ErrAggregateFailed)
	}
	return &mongoCursor{cursor: cursor}, nil
}

// CreateIndex declares a composite index. The server treats repeated
// declarations of the same key pattern as a no-op, and the call returns as
// soon as the create request is acknowledged.
func (c *MongoCollection) CreateIndex(ctx context.Context, spec queryx.IndexSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	keys := make(bson.D, len(spec.Keys))
	for i, key := range spec.Keys {
		direction := 1
		if key.Desc {
			direction = -1
		}
		keys[i] = bson.E{Key: key.Field, Value: direction}
	}

	name, err := c.collection.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys})
	if err != nil {
		return "", classify(err, queryx.ErrIndexFailed)
	}
	return name, nil
}

// Indexes lists declared index specifications, excluding the built-in _id
// index.
func (c *MongoCollection) Indexes(ctx context.Context) ([]queryx.IndexSpec, error) {
	cursor, err := c.collection.Indexes().List(ctx)
	if err != nil {
		return nil, classify(err, queryx.ErrIndexFailed)
	}
	defer cursor.Close(ctx)

	var specs []queryx.IndexSpec
	for cursor.Next(ctx) {
		var index struct {
			Name string `bson:"name"`
			Key  bson.D `bson:"key"`
		}
		if err := cursor.Decode(&index); err != nil {
			return nil, queryx.QueryErrors.NewWithCause(queryx.ErrDecodeFailed, err)
		}
		if index.Name == "_id_" {
			continue
		}

		spec := queryx.IndexSpec{Keys: make([]queryx.SortKey, 0, len(index.Key))}
		for _, e := range index.Key {
			desc := false
			if n, ok := e.Value.(int32); ok && n < 0 {
				desc = true
			}
			spec.Keys = append(spec.Keys, queryx.SortKey{Field: e.Key, Desc: desc})
		}
		specs = append(specs, spec)
	}
	if err := cursor.Err(); err != nil {
		return nil, classify(err, queryx.ErrIndexFailed)
	}
	return specs, nil
}

// mongoCursor adapts the driver cursor to queryx.Cursor, decoding documents
// into order-preserving bson.D form.
type mongoCursor struct {
	cursor  *mongo.Cursor
	current *queryx.Document
	err     error
}

func (c *mongoCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if !c.cursor.Next(ctx) {
		if err := c.cursor.Err(); err != nil {
			c.err = classify(err, queryx.ErrFindFailed)
		}
		return false
	}

	var raw bson.D
	if err := c.cursor.Decode(&raw); err != nil {
		c.err = queryx.QueryErrors.NewWithCause(queryx.ErrDecodeFailed, err)
		return false
	}
	c.current = bsonToDocument(raw)
	return true
}

func (c *mongoCursor) Current() *queryx.Document { return c.current }

func (c *mongoCursor) Err() error { return c.err }

func (c *mongoCursor) Close(ctx context.Context) error {
	if err := c.cursor.Close(ctx); err != nil {
		return classify(err, queryx.ErrFindFailed)
	}
	return nil
}

func (c *mongoCursor) All(ctx context.Context) ([]*queryx.Document, error) {
	defer c.Close(ctx)

	var out []*queryx.Document
	for c.Next(ctx) {
		out = append(out, c.current)
	}
	if c.err != nil {
		return nil, c.err
	}
	return out, nil
}

// FilterToBSON translates a queryx filter into driver filter form. A nil
// filter matches everything.
func FilterToBSON(filter queryx.Filter) (bson.M, error) {
	if filter == nil {
		return bson.M{}, nil
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return filterToBSON(filter)
}

func filterToBSON(filter queryx.Filter) (bson.M, error) {
	switch f := filter.(type) {
	case queryx.Cond:
		value := f.Value
		// String _id equality accepts ObjectID hex form as returned by
		// InsertOne.
		if f.Field == queryx.IDField {
			if hex, ok := value.(string); ok {
				if objectID, err := primitive.ObjectIDFromHex(hex); err == nil {
					value = objectID
				}
			}
		}
		return bson.M{f.Field: bson.M{string(f.Op): value}}, nil
	case queryx.AndFilter:
		clauses, err := clausesToBSON(f.Filters)
		if err != nil {
			return nil, err
		}
		return bson.M{"$and": clauses}, nil
	case queryx.OrFilter:
		clauses, err := clausesToBSON(f.Filters)
		if err != nil {
			return nil, err
		}
		return bson.M{"$or": clauses}, nil
	case queryx.NotFilter:
		inner, err := filterToBSON(f.Filter)
		if err != nil {
			return nil, err
		}
		// $nor with a single clause is document-level negation.
		return bson.M{"$nor": []bson.M{inner}}, nil
	default:
		return nil, queryx.QueryErrors.NewWithMessage(queryx.ErrMalformedRequest, "unsupported filter type").
			WithDetail("type", fmt.Sprintf("%T", filter))
	}
}

func clausesToBSON(filters []queryx.Filter) ([]bson.M, error) {
	clauses := make([]bson.M, len(filters))
	for i, clause := range filters {
		translated, err := filterToBSON(clause)
		if err != nil {
			return nil, err
		}
		clauses[i] = translated
	}
	return clauses, nil
}

func sortToBSON(spec queryx.SortSpec) bson.D {
	sort := make(bson.D, len(spec))
	for i, key := range spec {
		direction := 1
		if key.Desc {
			direction = -1
		}
		sort[i] = bson.E{Key: key.Field, Value: direction}
	}
	return sort
}

func projectionToBSON(p queryx.Projection) bson.M {
	projection := bson.M{}
	for _, field := range p.IncludedFields() {
		projection[field] = 1
	}
	for _, field := range p.ExcludedFields() {
		projection[field] = 0
	}
	if p.DropsID() {
		projection[queryx.IDField] = 0
	}
	return projection
}

// PipelineToBSON translates an aggregation pipeline to driver form.
func PipelineToBSON(pipeline queryx.Pipeline) (mongo.Pipeline, error) {
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}

	out := make(mongo.Pipeline, 0, len(pipeline))
	for _, stage := range pipeline {
		switch s := stage.(type) {
		case queryx.GroupStage:
			group := bson.D{{Key: queryx.IDField, Value: exprToBSON(s.Key)}}
			for _, acc := range s.Accumulators {
				group = append(group, bson.E{Key: acc.Name, Value: accumulatorToBSON(acc)})
			}
			out = append(out, bson.D{{Key: "$group", Value: group}})
		case queryx.SortStage:
			out = append(out, bson.D{{Key: "$sort", Value: sortToBSON(s.Keys)}})
		case queryx.LimitStage:
			out = append(out, bson.D{{Key: "$limit", Value: s.N}})
		}
	}
	return out, nil
}

func accumulatorToBSON(acc queryx.Accumulator) bson.M {
	switch acc.Op {
	case queryx.AccumAvg:
		return bson.M{"$avg": exprToBSON(acc.Expr)}
	case queryx.AccumCount:
		return bson.M{"$sum": 1}
	default:
		return bson.M{"$sum": exprToBSON(acc.Expr)}
	}
}

func exprToBSON(expr queryx.Expr) any {
	switch e := expr.(type) {
	case queryx.FieldExpr:
		return "$" + e.Name
	case queryx.LiteralExpr:
		return e.Value
	case queryx.ArithExpr:
		return bson.M{string(e.Op): bson.A{exprToBSON(e.Left), exprToBSON(e.Right)}}
	default:
		return nil
	}
}

func documentToBSON(doc *queryx.Document) bson.D {
	out := make(bson.D, 0, doc.Len())
	for _, field := range doc.Keys() {
		v, _ := doc.Get(field)
		out = append(out, bson.E{Key: field, Value: valueToBSON(v)})
	}
	return out
}

func valueToBSON(v any) any {
	switch val := v.(type) {
	case *queryx.Document:
		return documentToBSON(val)
	case map[string]any:
		return documentToBSON(queryx.FromMap(val))
	case []any:
		list := make(bson.A, len(val))
		for i, e := range val {
			list[i] = valueToBSON(e)
		}
		return list
	default:
		return v
	}
}

func bsonToDocument(raw bson.D) *queryx.Document {
	doc := queryx.NewDocument()
	for _, e := range raw {
		doc.Set(e.Key, bsonToValue(e.Value))
	}
	return doc
}

func bsonToValue(v any) any {
	switch val := v.(type) {
	case bson.D:
		return bsonToDocument(val)
	case primitive.A:
		list := make([]any, len(val))
		for i, e := range val {
			list[i] = bsonToValue(e)
		}
		return list
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time()
	case int32:
		return int64(val)
	default:
		return v
	}
}

func insertedID(id any) string {
	if objectID, ok := id.(primitive.ObjectID); ok {
		return objectID.Hex()
	}
	if s, ok := id.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", id)
}

// classify maps driver errors onto the queryx taxonomy: connectivity problems
// surface as CONNECTION_FAILED, rejected requests as MALFORMED_REQUEST, and
// everything else under the operation's own code.
func classify(err error, fallback errx.Code) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return queryx.QueryErrors.NewWithCause(queryx.ErrConnectionFailed, err)
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && malformedCodes[cmdErr.Code] {
		return queryx.QueryErrors.NewWithCause(queryx.ErrMalformedRequest, err)
	}

	return queryx.QueryErrors.NewWithCause(fallback, err)
}

// Server error codes for structurally invalid requests (FailedToParse,
// TypeMismatch, BadValue, unknown stage or operator).
var malformedCodes = map[int32]bool{
	2:     true, // BadValue
	9:     true, // FailedToParse
	14:    true, // TypeMismatch
	15998: true, // invalid $ operator
	16436: true, // unrecognized expression
	40324: true, // unrecognized pipeline stage
}
