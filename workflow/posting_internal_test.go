package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/ledgertest"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryBackoff(5*time.Second, 1))
	assert.Equal(t, 10*time.Second, retryBackoff(5*time.Second, 2))
	assert.Equal(t, 20*time.Second, retryBackoff(5*time.Second, 3))
	assert.Equal(t, 10*time.Minute, retryBackoff(5*time.Second, 12))
	assert.Equal(t, time.Duration(0), retryBackoff(0, 4))
}

func TestSameIds(t *testing.T) {
	assert.True(t, sameIds(nil, []int{}))
	assert.True(t, sameIds([]int{1, 4, 9}, []int{1, 4, 9}))
	assert.False(t, sameIds([]int{1, 4}, []int{1, 4, 9}))
	assert.False(t, sameIds([]int{1, 4, 9}, []int{1, 5, 9}))
}

func TestAccountLocks_WithoutRedis(t *testing.T) {
	require.Nil(t, config.GetRedisLock())
	locks, err := acquireAccountLocks(context.Background(), "biz", []int{3, 1, 2})
	require.NoError(t, err)
	assert.Empty(t, locks.held)
	locks.release(context.Background())

	var none *accountLocks
	none.release(context.Background())
	assert.Equal(t, "ledger:biz:account:7", accountLockKey("biz", 7))
}

func TestBusinessCloseLock_NoOpOutsideMySQL(t *testing.T) {
	db := ledgertest.OpenDB(t)
	release, err := acquireBusinessCloseLock(db, "biz")
	require.NoError(t, err)
	release()
}

func TestRequireActor(t *testing.T) {
	_, _, err := requireActor(context.Background(), "alice")
	require.ErrorIs(t, err, models.ErrValidation)

	ctx := utils.SetBusinessIdInContext(context.Background(), "biz")
	_, _, err = requireActor(ctx, "")
	require.ErrorIs(t, err, models.ErrValidation)

	biz, who, err := requireActor(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "biz", biz)
	assert.Equal(t, "alice", who)

	_, who, err = requireActor(utils.SetUserNameInContext(ctx, "bob"), "")
	require.NoError(t, err)
	assert.Equal(t, "bob", who)
}

func TestPostingRequiresApproval_FollowsConfig(t *testing.T) {
	cfg := *config.DefaultLedgerConfig()
	ledgertest.UseConfig(t, cfg)
	assert.False(t, postingRequiresApproval())
	cfg.RequireApproval = true
	config.SetLedgerConfig(cfg)
	assert.True(t, postingRequiresApproval())
}
