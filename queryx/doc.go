// Package queryx provides a typed query and aggregation layer over document
// collections.
//
// The package defines the data model — ordered Documents, composable Filters,
// Projections, sort specifications, result windows, aggregation Pipelines and
// index specifications — together with the Collection facade contract and a
// lazy Cursor over results. Providers adapt the contract to concrete storage
// engines (MongoDB, PostgreSQL JSONB, embedded in-memory and Badger engines);
// the facade itself owns no network protocol, storage format, or retry policy.
//
// Key features:
//   - Closed, construction-validated filter and pipeline types instead of
//     nested dynamic objects
//   - Consistent zero-match semantics: empty results and zero counts are
//     successes, never errors
//   - Restartable queries with lazily-fetched cursor batches
//   - Idempotent composite index declaration
//   - Registry-based error handling with stable codes
//
// Basic CRUD and queries:
//
//	import (
//		"context"
//		"github.com/Conversia-AI/craftable-queryx/queryx"
//		"github.com/Conversia-AI/craftable-queryx/queryx/providers/queryxmongo"
//		"go.mongodb.org/mongo-driver/mongo"
//	)
//
//	func ExampleQueries(client *mongo.Client) error {
//		books := queryxmongo.New(client.Database("shop").Collection("books"))
//		ctx := context.Background()
//
//		id, err := books.InsertOne(ctx, queryx.NewDocument().
//			Set("title", "1984").
//			Set("genre", "dystopia").
//			Set("price", 10.0))
//		if err != nil {
//			return err
//		}
//		_ = id
//
//		// Filtered, sorted, windowed, projected find.
//		cursor, err := books.Find(ctx,
//			queryx.Gt("price", 8),
//			queryx.WithSort(queryx.Desc("price"), queryx.Asc("title")),
//			queryx.WithPage(10, 5),
//			queryx.WithProjection(queryx.Include("title", "price")),
//		)
//		if err != nil {
//			return err
//		}
//		docs, err := cursor.All(ctx)
//		if err != nil {
//			return err
//		}
//		_ = docs
//
//		// Partial update of the first match by natural order.
//		res, err := books.UpdateOne(ctx,
//			queryx.Eq("title", "1984"),
//			map[string]any{"price": 15.0},
//		)
//		if err != nil {
//			return err
//		}
//		if res.MatchedCount == 0 {
//			// Nothing matched: a normal outcome, not an error.
//		}
//		return nil
//	}
//
// Aggregation pipelines:
//
//	pipeline := queryx.NewPipeline(
//		queryx.Group(queryx.Field("genre"),
//			queryx.Avg("avg_price", queryx.Field("price")),
//			queryx.Count("titles"),
//		),
//		queryx.SortBy(queryx.Desc("avg_price")),
//		queryx.Limit(3),
//	)
//
//	cursor, err := books.Aggregate(ctx, pipeline)
//
// Group keys may be derived expressions, for example bucketing by a computed
// value:
//
//	queryx.Group(
//		queryx.Multiply(queryx.Field("price"), queryx.Literal(0.1)),
//		queryx.Count("n"),
//	)
//
// Index declaration is idempotent:
//
//	spec := queryx.NewIndex(queryx.Asc("genre"), queryx.Desc("price"))
//	name, err := books.CreateIndex(ctx, spec) // "genre_1_price_-1"
//	_, err = books.CreateIndex(ctx, spec)     // no-op, not an error
//
// Error handling:
//
//	if queryx.IsConnectionFailed(err) {
//		// engine unreachable; retrying is the caller's decision
//	}
//	if queryx.IsMalformedRequest(err) {
//		// the filter/projection/sort/pipeline failed structural validation
//	}
package queryx
