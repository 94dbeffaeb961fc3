package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/collections_backend/config"
)

/* DB fetching */

// fetch model from db
// (ctx's master_id is used in query's WHERE, may return RecordNotFound)
func FetchModel[T any](ctx context.Context, masterId string, id int, associations ...string) (*T, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("master_id = ?", masterId)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if err != nil {
		return nil, ErrorRecordNotFound
	}
	return &result, nil
}
