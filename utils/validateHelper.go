package utils

import (
	"context"
	"errors"
	"reflect"

	"bitbucket.org/mmdatafocus/collections_backend/config"
)

// check if id exists, using ctx's master_id in WHERE, return RecordNotFound error
func ValidateResourceId[T any](ctx context.Context, masterId string, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, masterId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

func ValidateUnique[T any](ctx context.Context, masterId string, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, masterId, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, masterId, column+" = ? AND NOT id = ?", value, exceptId)
	}

	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate " + column)
	}
	return nil
}

// count records, using WHERE master_id = ? AND $condition
// master_id can be blank for admin user
func ResourceCountWhere[T any](ctx context.Context, masterId string, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	var count int64
	if masterId != "" {
		dbCtx = dbCtx.Where("master_id = ?", masterId)
	}
	dbCtx = dbCtx.Where(condition, value...)
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
