package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func accountLockKey(businessId string, accountId int) string {
	return fmt.Sprintf("ledger:%s:account:%d", businessId, accountId)
}

// accountLocks holds the cross-instance locks for one posting. The zero value holds nothing.
type accountLocks struct {
	held []*redislock.Lock
}

// acquireAccountLocks takes a Redis lock per account in ascending id order, so two postings that
// share accounts never wait on each other in opposite orders. Without Redis it returns an empty
// set and row locks inside the transaction do the serializing.
func acquireAccountLocks(ctx context.Context, businessId string, accountIds []int) (*accountLocks, error) {
	locks := &accountLocks{}
	locker := config.GetRedisLock()
	if locker == nil || len(accountIds) == 0 {
		return locks, nil
	}
	ids := append([]int(nil), accountIds...)
	sort.Ints(ids)

	cfg := config.GetLedgerConfig()
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), cfg.PostingLockRetries),
	}
	for _, id := range ids {
		lock, err := locker.Obtain(ctx, accountLockKey(businessId, id), cfg.PostingLockTTL, opts)
		if err != nil {
			locks.release(ctx)
			config.GetLogger().WithFields(logrus.Fields{
				"field":       "acquireAccountLocks",
				"business_id": businessId,
				"account_id":  id,
			}).Warn("could not obtain account posting lock: " + err.Error())
			return nil, models.TranslateDBError(err)
		}
		locks.held = append(locks.held, lock)
	}
	return locks, nil
}

func (l *accountLocks) release(ctx context.Context) {
	if l == nil {
		return
	}
	for i := len(l.held) - 1; i >= 0; i-- {
		_ = l.held[i].Release(ctx)
	}
	l.held = nil
}

// acquireBusinessCloseLock serializes period closes per business with a MySQL advisory lock.
// GET_LOCK is connection-scoped, so tx must be the transaction that does the close.
// Other dialects rely on the period row lock alone.
func acquireBusinessCloseLock(tx *gorm.DB, businessId string) (release func(), err error) {
	if tx.Dialector.Name() != "mysql" {
		return func() {}, nil
	}
	lockName := fmt.Sprintf("ledger:close:%s", businessId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return nil, err
	}
	if ok != 1 {
		return nil, fmt.Errorf("%w: could not acquire close lock for business_id=%s", models.ErrConcurrencyConflict, businessId)
	}
	return func() {
		var released int
		_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&released).Error
	}, nil
}
