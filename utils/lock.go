package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"github.com/bsm/redislock"
)

// MasterLock serializes a named operation per master across instances.
// The returned release func must be called when the critical section ends.
func MasterLock(ctx context.Context, masterId string, lockType string, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", masterId, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}
	lockKey := fmt.Sprintf("%s:%s", lockType, masterId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for masterId", masterId, err)
		return nil, errors.New("could not obtain lock for masterId")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for masterId", masterId, err)
		return nil, err
	}

	return func() {
		_ = lock.Release(ctx)
	}, nil
}
