package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/ledgertest"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/mmdatafocus/books_ledger/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePublisher struct {
	mu   sync.Mutex
	fail error
	sent []config.LedgerEventMessage
}

func (p *fakePublisher) Publish(ctx context.Context, msg config.LedgerEventMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", p.fail
	}
	p.sent = append(p.sent, msg)
	return fmt.Sprintf("msg-%d", msg.ID), nil
}

func (p *fakePublisher) setFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func events(t *testing.T, ctx context.Context, db *gorm.DB, status string) []*models.LedgerEventRecord {
	t.Helper()
	rows, err := models.ListLedgerEvents(ctx, db, status, 0)
	require.NoError(t, err)
	return rows
}

func setup(t *testing.T, businessId string) (*gorm.DB, context.Context, ledgertest.Chart) {
	t.Helper()
	ledgertest.UseConfig(t, *config.DefaultLedgerConfig())
	db := ledgertest.OpenDB(t)
	ctx := ledgertest.Context(businessId)
	return db, ctx, ledgertest.SeedChart(t, ctx, db)
}

func TestPostJournalEntry_WritesEventWithPosting(t *testing.T) {
	db, ctx, chart := setup(t, "biz-wf-post")
	draft := ledgertest.Draft(t, ctx, db, ledgertest.Date(2024, 4, 2),
		ledgertest.Dr(chart.ID("1010"), 100), ledgertest.Cr(chart.ID("4000"), 100))

	posted, err := workflow.PostJournalEntry(ctx, db, draft.ID, "")
	require.NoError(t, err)
	require.NotNil(t, posted.PostedBy)
	assert.Equal(t, ledgertest.Actor, *posted.PostedBy, "actor defaults to the user in context")

	pending := events(t, ctx, db, models.OutboxPublishStatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, models.LedgerEventEntryPosted, pending[0].EventType)
	assert.Equal(t, posted.ID, pending[0].AggregateId)
	var payload workflow.EntryEventPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, "JE-1", payload.EntryNumber)
	assert.Equal(t, "2024-04-02", payload.EntryDate)
	assert.Equal(t, []int{chart.ID("1010"), chart.ID("4000")}, payload.AccountIds)

	_, err = workflow.PostJournalEntry(ctx, db, draft.ID, "")
	require.ErrorIs(t, err, models.ErrInvalidStateTransition)
	assert.Len(t, events(t, ctx, db, ""), 1, "a failed post writes no event")
}

func TestPostJournalEntry_ApprovalSwitch(t *testing.T) {
	db, ctx, chart := setup(t, "biz-wf-approval")
	cfg := *config.DefaultLedgerConfig()
	cfg.RequireApproval = true
	ledgertest.UseConfig(t, cfg)

	draft := ledgertest.Draft(t, ctx, db, ledgertest.Date(2024, 4, 2),
		ledgertest.Dr(chart.ID("1010"), 100), ledgertest.Cr(chart.ID("4000"), 100))
	_, err := workflow.PostJournalEntry(ctx, db, draft.ID, "clerk")
	require.ErrorIs(t, err, models.ErrApprovalRequired)
	assert.Empty(t, events(t, ctx, db, ""))

	_, err = models.ApproveJournalEntry(ctx, db, draft.ID, "controller")
	require.NoError(t, err)
	posted, err := workflow.PostJournalEntry(ctx, db, draft.ID, "clerk")
	require.NoError(t, err)
	assert.Equal(t, "clerk", *posted.PostedBy)

	anonymous := utils.SetBusinessIdInContext(context.Background(), "biz-wf-approval")
	_, err = workflow.PostJournalEntry(anonymous, db, draft.ID, "")
	require.ErrorIs(t, err, models.ErrValidation, "somebody must be accountable for a posting")
}

func TestVoidJournalEntry(t *testing.T) {
	db, ctx, chart := setup(t, "biz-wf-void")
	posted := ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 4, 2),
		ledgertest.Dr(chart.ID("6010"), 90), ledgertest.Cr(chart.ID("1020"), 90))

	_, _, err := workflow.VoidJournalEntry(ctx, db, posted.ID, "   ", "")
	require.ErrorIs(t, err, models.ErrValidation)

	voided, reversal, err := workflow.VoidJournalEntry(ctx, db, posted.ID, "wrong supplier", "")
	require.NoError(t, err)
	assert.Equal(t, models.JournalEntryStatusVoid, voided.Status)
	assert.Equal(t, "JE-2", reversal.EntryNumber)

	pending := events(t, ctx, db, models.OutboxPublishStatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, models.LedgerEventEntryVoided, pending[0].EventType)
	var payload workflow.EntryEventPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, reversal.ID, payload.ReversalId)
	assert.Equal(t, "wrong supplier", payload.Reason)

	balance, err := models.BalanceAsOf(ctx, db, chart.ID("1020"), ledgertest.Date(2024, 4, 30))
	require.NoError(t, err)
	ledgertest.RequireDecimal(t, 0, balance, "bank")
}

func TestClosePeriod_EmitsEventOnce(t *testing.T) {
	db, ctx, chart := setup(t, "biz-wf-close")
	_, err := models.GenerateFiscalYear(ctx, db, 2024, time.January)
	require.NoError(t, err)
	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 1, 9),
		ledgertest.Dr(chart.ID("1010"), 500), ledgertest.Cr(chart.ID("3000"), 500))

	period, snapshots, err := workflow.ClosePeriod(ctx, db, ledgertest.Date(2024, 1, 31), "")
	require.NoError(t, err)
	assert.True(t, period.IsClosed)
	assert.Len(t, snapshots, len(chart))

	_, _, err = workflow.ClosePeriod(ctx, db, ledgertest.Date(2024, 1, 31), "")
	require.ErrorIs(t, err, models.ErrPeriodAlreadyClosed)

	closed := events(t, ctx, db, "")
	require.Len(t, closed, 1)
	assert.Equal(t, models.LedgerEventPeriodClosed, closed[0].EventType)
	var payload workflow.PeriodClosedPayload
	require.NoError(t, json.Unmarshal(closed[0].Payload, &payload))
	assert.Equal(t, "2024-01-31", payload.EndDate)
	assert.Equal(t, len(chart), payload.Snapshots)
}

func TestReconciliationWorkflow_EmitsCompletion(t *testing.T) {
	db, ctx, chart := setup(t, "biz-wf-rec")
	bank := chart.ID("1020")
	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 1, 9), ledgertest.Dr(bank, 300), ledgertest.Cr(chart.ID("4000"), 300))
	_, err := models.ImportBankTransactions(ctx, db, bank, []models.NewBankTransaction{
		{TransactionDate: ledgertest.Date(2024, 1, 12), Amount: ledgertest.Amount(300), ExternalRef: "b-1"},
	})
	require.NoError(t, err)

	// The configured window is three days, so a three day gap still matches.
	rec, err := models.CreateReconciliation(ctx, db, &models.NewReconciliation{
		AccountId: bank, PeriodStart: ledgertest.Date(2024, 1, 1), PeriodEnd: ledgertest.Date(2024, 1, 31),
		StatementBalance: ledgertest.Amount(300),
	})
	require.NoError(t, err)
	rec, err = workflow.AutoMatchReconciliation(ctx, db, rec.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationStatusCompleted, rec.Status)

	completed := events(t, ctx, db, "")
	require.Len(t, completed, 1)
	assert.Equal(t, models.LedgerEventReconciliationCompleted, completed[0].EventType)

	second, err := models.CreateReconciliation(ctx, db, &models.NewReconciliation{
		AccountId: bank, PeriodStart: ledgertest.Date(2024, 2, 1), PeriodEnd: ledgertest.Date(2024, 2, 29),
		StatementBalance: ledgertest.Amount(300),
	})
	require.NoError(t, err)
	second, err = workflow.AutoMatchReconciliation(ctx, db, second.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationStatusCompleted, second.Status, "nothing moved and the statement agrees")
	_, err = workflow.CompleteReconciliation(ctx, db, second.ID, "")
	require.ErrorIs(t, err, models.ErrReconciliationNotDraft)
	assert.Len(t, events(t, ctx, db, ""), 2)
}

func TestOutboxDispatcher_RetriesThenDeadLettersThenRevives(t *testing.T) {
	db, ctx, chart := setup(t, "biz-wf-outbox")
	ledgertest.Post(t, ctx, db, ledgertest.Date(2024, 4, 2),
		ledgertest.Dr(chart.ID("1010"), 10), ledgertest.Cr(chart.ID("4000"), 10))
	draft := ledgertest.Draft(t, ctx, db, ledgertest.Date(2024, 4, 3),
		ledgertest.Dr(chart.ID("1010"), 20), ledgertest.Cr(chart.ID("4000"), 20))
	_, err := workflow.PostJournalEntry(ctx, db, draft.ID, "")
	require.NoError(t, err)

	pub := &fakePublisher{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	d := workflow.NewOutboxDispatcher(db, logger, pub)
	d.MaxAttempts = 2
	d.InitialBackoff = 0

	pub.setFailure(errors.New("broker unavailable"))
	assert.Equal(t, 0, d.DispatchOnce(ctx))
	failed := events(t, ctx, db, models.OutboxPublishStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].PublishAttempts)
	require.NotNil(t, failed[0].LastPublishError)
	assert.Equal(t, "broker unavailable", *failed[0].LastPublishError)
	require.NotNil(t, failed[0].NextAttemptAt)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, d.DispatchOnce(ctx))
	dead := events(t, ctx, db, models.OutboxPublishStatusDead)
	require.Len(t, dead, 1)
	assert.Equal(t, 2, dead[0].PublishAttempts)

	revived, err := models.ReviveDeadLedgerEvents(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), revived)

	pub.setFailure(nil)
	assert.Equal(t, 1, d.DispatchOnce(ctx))
	sent := events(t, ctx, db, models.OutboxPublishStatusSent)
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].PubSubMessageId)
	assert.Equal(t, fmt.Sprintf("msg-%d", sent[0].ID), *sent[0].PubSubMessageId)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, string(models.LedgerEventEntryPosted), pub.sent[0].EventType)
	assert.Equal(t, "biz-wf-outbox", pub.sent[0].BusinessId)

	assert.Equal(t, 0, d.DispatchOnce(ctx), "sent rows are not published again")
}

func TestOutboxDispatcher_ReclaimsStaleAndDeadLettersExhausted(t *testing.T) {
	db, ctx, chart := setup(t, "biz-wf-claim")
	for day := 3; day <= 4; day++ {
		draft := ledgertest.Draft(t, ctx, db, ledgertest.Date(2024, 4, day),
			ledgertest.Dr(chart.ID("1010"), 20), ledgertest.Cr(chart.ID("4000"), 20))
		_, err := workflow.PostJournalEntry(ctx, db, draft.ID, "")
		require.NoError(t, err)
	}
	pending := events(t, ctx, db, models.OutboxPublishStatusPending)
	require.Len(t, pending, 2)
	stale, exhausted := pending[0].ID, pending[1].ID

	crashedAt := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&models.LedgerEventRecord{}).Where("id = ?", stale).Updates(map[string]interface{}{
		"publish_status": models.OutboxPublishStatusProcessing, "locked_at": crashedAt, "locked_by": "crashed", "publish_attempts": 1,
	}).Error)
	require.NoError(t, db.Model(&models.LedgerEventRecord{}).Where("id = ?", exhausted).
		Update("publish_attempts", 3).Error)

	pub := &fakePublisher{}
	d := workflow.NewOutboxDispatcher(db, nil, pub)
	d.MaxAttempts = 3
	assert.Equal(t, 1, d.DispatchOnce(ctx))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, stale, pub.sent[0].ID)
	sent := events(t, ctx, db, models.OutboxPublishStatusSent)
	require.Len(t, sent, 1)
	assert.Equal(t, 2, sent[0].PublishAttempts)
	assert.Nil(t, sent[0].LockedBy)
	assert.Nil(t, sent[0].LockedAt)

	dead := events(t, ctx, db, models.OutboxPublishStatusDead)
	require.Len(t, dead, 1)
	assert.Equal(t, exhausted, dead[0].ID)
	assert.Equal(t, 3, dead[0].PublishAttempts, "a dead-lettered event is not charged another attempt")
	require.NotNil(t, dead[0].LastPublishError)
	assert.Equal(t, "gave up after 3 publish attempts", *dead[0].LastPublishError)
}

func TestOutboxDispatcher_BacksOffFailedRows(t *testing.T) {
	db, ctx, chart := setup(t, "biz-wf-backoff")
	draft := ledgertest.Draft(t, ctx, db, ledgertest.Date(2024, 4, 3),
		ledgertest.Dr(chart.ID("1010"), 20), ledgertest.Cr(chart.ID("4000"), 20))
	_, err := workflow.PostJournalEntry(ctx, db, draft.ID, "")
	require.NoError(t, err)

	pub := &fakePublisher{fail: errors.New("timeout")}
	d := workflow.NewOutboxDispatcher(db, nil, pub)
	d.InitialBackoff = time.Hour

	assert.Equal(t, 0, d.DispatchOnce(ctx))
	pub.setFailure(nil)
	assert.Equal(t, 0, d.DispatchOnce(ctx), "not due for an hour")
	failed := events(t, ctx, db, models.OutboxPublishStatusFailed)
	require.Len(t, failed, 1)
	assert.True(t, failed[0].NextAttemptAt.After(time.Now().Add(50*time.Minute)))
	assert.Empty(t, pub.sent)
}

func TestPostJournalEntry_ConcurrentPostingsToSharedAccount(t *testing.T) {
	db, ctx, chart := setup(t, "biz-wf-concurrent")
	cash := chart.ID("1010")
	revenue := []int{chart.ID("4000"), chart.ID("4900"), chart.ID("8000")}

	const n = 12
	drafts := make([]*models.JournalEntry, n)
	for i := range drafts {
		drafts[i] = ledgertest.Draft(t, ctx, db, ledgertest.Date(2024, 5, 1+i),
			ledgertest.Dr(cash, int64(10*(i+1))), ledgertest.Cr(revenue[i%len(revenue)], int64(10*(i+1))))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for _, d := range drafts {
		for attempt := 0; attempt < 2; attempt++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				_, err := workflow.PostJournalEntry(ctx, db, id, "")
				errs <- err
			}(d.ID)
		}
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, models.ErrInvalidStateTransition, "the losing duplicate sees the entry already posted")
	}
	assert.Equal(t, n, succeeded, "each entry posts exactly once")

	balance, err := models.BalanceAsOf(ctx, db, cash, ledgertest.Date(2024, 5, 31))
	require.NoError(t, err)
	ledgertest.RequireDecimal(t, 10*n*(n+1)/2, balance, "cash")
	assert.Len(t, events(t, ctx, db, models.OutboxPublishStatusPending), n)
}
