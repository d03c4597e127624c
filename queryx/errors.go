package queryx

import "github.com/Conversia-AI/craftable-queryx/errx"

// Error registry for queryx
var (
	QueryErrors = errx.NewRegistry("QUERYX")

	// Common errors
	ErrConnectionFailed = QueryErrors.Register("CONNECTION_FAILED", errx.TypeUnavailable, 503, "Storage engine connection failed")
	ErrMalformedRequest = QueryErrors.Register("MALFORMED_REQUEST", errx.TypeBadRequest, 400, "Malformed filter, projection, sort, or pipeline")

	// Operation errors
	ErrFindFailed      = QueryErrors.Register("FIND_FAILED", errx.TypeInternal, 500, "Find operation failed")
	ErrInsertFailed    = QueryErrors.Register("INSERT_FAILED", errx.TypeInternal, 500, "Insert operation failed")
	ErrUpdateFailed    = QueryErrors.Register("UPDATE_FAILED", errx.TypeInternal, 500, "Update operation failed")
	ErrDeleteFailed    = QueryErrors.Register("DELETE_FAILED", errx.TypeInternal, 500, "Delete operation failed")
	ErrCountFailed     = QueryErrors.Register("COUNT_FAILED", errx.TypeInternal, 500, "Count operation failed")
	ErrAggregateFailed = QueryErrors.Register("AGGREGATE_FAILED", errx.TypeInternal, 500, "Aggregation pipeline failed")
	ErrIndexFailed     = QueryErrors.Register("INDEX_FAILED", errx.TypeInternal, 500, "Index operation failed")
	ErrDecodeFailed    = QueryErrors.Register("DECODE_FAILED", errx.TypeInternal, 500, "Failed to decode document")
)

// Helper functions
func IsConnectionFailed(err error) bool {
	return errx.IsCode(err, ErrConnectionFailed)
}

func IsMalformedRequest(err error) bool {
	return errx.IsCode(err, ErrMalformedRequest)
}
