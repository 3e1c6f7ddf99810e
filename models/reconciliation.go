package models

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// reconcileTolerance is the largest difference still treated as reconciled.
var reconcileTolerance = decimal.NewFromFloat(0.01)

type Reconciliation struct {
	ID               int                  `gorm:"primary_key" json:"id"`
	BusinessId       string               `gorm:"size:64;not null;index:idx_rec_biz_acct,priority:1" json:"business_id"`
	AccountId        int                  `gorm:"not null;index:idx_rec_biz_acct,priority:2" json:"account_id"`
	PeriodStart      time.Time            `gorm:"type:date;not null" json:"period_start"`
	PeriodEnd        time.Time            `gorm:"type:date;not null;index" json:"period_end"`
	OpeningBalance   decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"opening_balance"`
	StatementBalance decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"statement_balance"`
	ClearedBalance   decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"cleared_balance"`
	Difference       decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"difference"`
	Status           ReconciliationStatus `gorm:"size:16;not null;index" json:"status"`
	CreatedBy        string               `gorm:"size:100" json:"created_by"`
	CompletedBy      *string              `gorm:"size:100" json:"completed_by"`
	CompletedAt      *time.Time           `json:"completed_at"`
	Items            []ReconciliationItem `gorm:"foreignKey:ReconciliationId" json:"items"`
	CreatedAt        time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReconciliationItem is one ledger line or bank transaction considered by a reconciliation.
// Amount is in the reconciled account's natural direction.
type ReconciliationItem struct {
	ID               int                      `gorm:"primary_key" json:"id"`
	ReconciliationId int                      `gorm:"not null;index" json:"reconciliation_id"`
	BusinessId       string                   `gorm:"size:64;not null;index" json:"business_id"`
	SourceType       ReconciliationSourceType `gorm:"size:20;not null;index:idx_ri_source,priority:1" json:"source_type"`
	SourceId         int                      `gorm:"not null;index:idx_ri_source,priority:2" json:"source_id"`
	TransactionDate  time.Time                `gorm:"type:date;not null" json:"transaction_date"`
	Amount           decimal.Decimal          `gorm:"type:decimal(20,4);not null" json:"amount"`
	Description      string                   `gorm:"size:255" json:"description"`
	IsCleared        bool                     `gorm:"not null;default:false" json:"is_cleared"`
	IsMatched        bool                     `gorm:"not null;default:false" json:"is_matched"`
	MatchType        MatchType                `gorm:"size:16" json:"match_type"`
	MatchConfidence  decimal.Decimal          `gorm:"type:decimal(5,4);not null;default:0" json:"match_confidence"`
	MatchedItemId    *int                     `json:"matched_item_id"`
	CreatedAt        time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

// ItemSource is the origin of a reconciliation item: a JournalLineSource or a BankTransactionSource.
type ItemSource interface {
	SourceType() ReconciliationSourceType
	SourceId() int
}

type JournalLineSource struct{ LineId int }

func (s JournalLineSource) SourceType() ReconciliationSourceType {
	return ReconciliationSourceJournalLine
}
func (s JournalLineSource) SourceId() int { return s.LineId }

type BankTransactionSource struct{ BankTransactionId int }

func (s BankTransactionSource) SourceType() ReconciliationSourceType {
	return ReconciliationSourceBankTransaction
}
func (s BankTransactionSource) SourceId() int { return s.BankTransactionId }

func (i *ReconciliationItem) Source() ItemSource {
	if i.SourceType == ReconciliationSourceBankTransaction {
		return BankTransactionSource{BankTransactionId: i.SourceId}
	}
	return JournalLineSource{LineId: i.SourceId}
}

func (i *ReconciliationItem) setSource(s ItemSource) {
	i.SourceType = s.SourceType()
	i.SourceId = s.SourceId()
}

func (i *ReconciliationItem) IsLedger() bool { return i.SourceType == ReconciliationSourceJournalLine }

type NewReconciliation struct {
	AccountId        int             `json:"account_id" validate:"required,gt=0"`
	PeriodStart      time.Time       `json:"period_start" validate:"required"`
	PeriodEnd        time.Time       `json:"period_end" validate:"required"`
	StatementBalance decimal.Decimal `json:"statement_balance"`
}

func CreateReconciliation(ctx context.Context, db *gorm.DB, input *NewReconciliation) (*Reconciliation, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, errorf(ErrValidation, "%v", err)
	}
	start, end := utils.ToDate(input.PeriodStart), utils.ToDate(input.PeriodEnd)
	if start.After(end) {
		return nil, errorf(ErrInvalidDateRange, "start %s is after end %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	if _, err := GetAccount(ctx, db, input.AccountId); err != nil {
		return nil, err
	}
	actor, _ := utils.GetUserNameFromContext(ctx)

	rec := Reconciliation{
		BusinessId:       businessId,
		AccountId:        input.AccountId,
		PeriodStart:      start,
		PeriodEnd:        end,
		StatementBalance: input.StatementBalance,
		Status:           ReconciliationStatusDraft,
		CreatedBy:        actor,
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The previous completed statement carries forward as this reconciliation's opening balance.
		var prev Reconciliation
		err := tx.Where("business_id = ? AND account_id = ? AND status = ? AND period_end < ?",
			businessId, input.AccountId, ReconciliationStatusCompleted, start).
			Order("period_end DESC, id DESC").First(&prev).Error
		switch {
		case err == nil:
			rec.OpeningBalance = prev.StatementBalance
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		rec.ClearedBalance = rec.OpeningBalance
		rec.Difference = rec.StatementBalance.Sub(rec.ClearedBalance)
		return tx.Create(&rec).Error
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return &rec, nil
}

func GetReconciliation(ctx context.Context, db *gorm.DB, id int) (*Reconciliation, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	return loadReconciliation(db.WithContext(ctx), businessId, id, false)
}

func ListReconciliations(ctx context.Context, db *gorm.DB, accountId int) ([]*Reconciliation, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	var rows []*Reconciliation
	if err := db.WithContext(ctx).
		Where("business_id = ? AND account_id = ?", businessId, accountId).
		Order("period_end DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func loadReconciliation(tx *gorm.DB, businessId string, id int, forUpdate bool) (*Reconciliation, error) {
	var rec Reconciliation
	q := tx
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("business_id = ?", businessId).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("transaction_date ASC, id ASC") }).
		First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errorf(ErrReconciliationNotFound, "reconciliation %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func loadOpenReconciliation(tx *gorm.DB, businessId string, id int) (*Reconciliation, error) {
	rec, err := loadReconciliation(tx, businessId, id, true)
	if err != nil {
		return nil, err
	}
	if rec.Status == ReconciliationStatusCompleted {
		return nil, errorf(ErrReconciliationNotDraft, "reconciliation %d is completed", id)
	}
	return rec, nil
}

type ledgerCandidate struct {
	LineId      int
	EntryDate   time.Time
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
	EntryNumber string
}

// unreconciledLines lists posted lines of the account in the window that no completed
// reconciliation, and not rec itself, already holds.
func unreconciledLines(tx *gorm.DB, rec *Reconciliation) ([]ledgerCandidate, error) {
	var rows []ledgerCandidate
	err := tx.Raw(`SELECT l.id AS line_id, e.entry_date AS entry_date, l.debit AS debit, l.credit AS credit,
		l.description AS description, e.entry_number AS entry_number
	FROM journal_entry_lines l
	JOIN journal_entries e ON e.id = l.journal_entry_id
	WHERE e.business_id = ? AND e.status IN ? AND l.account_id = ?
		AND e.entry_date >= ? AND e.entry_date <= ?
		AND l.id NOT IN (
			SELECT i.source_id FROM reconciliation_items i
			JOIN reconciliations r ON r.id = i.reconciliation_id
			WHERE r.business_id = ? AND i.source_type = ? AND (r.status = ? OR r.id = ?)
		)
	ORDER BY e.entry_date ASC, l.id ASC`,
		rec.BusinessId, LedgerVisibleStatuses, rec.AccountId, rec.PeriodStart, rec.PeriodEnd,
		rec.BusinessId, ReconciliationSourceJournalLine, ReconciliationStatusCompleted, rec.ID).
		Scan(&rows).Error
	return rows, err
}

func unreconciledBankTransactions(tx *gorm.DB, rec *Reconciliation) ([]*BankTransaction, error) {
	var rows []*BankTransaction
	err := tx.Where(`business_id = ? AND account_id = ? AND transaction_date >= ? AND transaction_date <= ?
		AND id NOT IN (
			SELECT i.source_id FROM reconciliation_items i
			JOIN reconciliations r ON r.id = i.reconciliation_id
			WHERE r.business_id = ? AND i.source_type = ? AND (r.status = ? OR r.id = ?)
		)`,
		rec.BusinessId, rec.AccountId, rec.PeriodStart, rec.PeriodEnd,
		rec.BusinessId, ReconciliationSourceBankTransaction, ReconciliationStatusCompleted, rec.ID).
		Order("transaction_date ASC, id ASC").Find(&rows).Error
	return rows, err
}

// matchConfidence is 1 on the same date and falls linearly with distance inside the window.
func matchConfidence(days, windowDays int) decimal.Decimal {
	if days == 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(1).Sub(decimal.NewFromInt(int64(days)).Div(decimal.NewFromInt(int64(windowDays + 1)))).Round(4)
}

// AutoMatch pulls the window's unreconciled ledger lines and bank transactions into rec and
// pairs them. Every ledger line pulled in is cleared whether or not it pairs; pairing only
// decides the match fields. Without bank transactions every ledger item is system-matched.
// The reconciliation is completed when nothing is left unmatched and the difference is within tolerance.
func AutoMatch(ctx context.Context, tx *gorm.DB, id int, windowDays int, actor string) (*Reconciliation, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := loadOpenReconciliation(tx, businessId, id)
	if err != nil {
		return nil, err
	}
	account, err := GetAccount(ctx, tx, rec.AccountId)
	if err != nil {
		return nil, err
	}

	lines, err := unreconciledLines(tx, rec)
	if err != nil {
		return nil, err
	}
	bankTxns, err := unreconciledBankTransactions(tx, rec)
	if err != nil {
		return nil, err
	}
	var added []*ReconciliationItem
	for _, l := range lines {
		description := l.Description
		if description == "" {
			description = l.EntryNumber
		}
		item := &ReconciliationItem{
			ReconciliationId: rec.ID,
			BusinessId:       businessId,
			TransactionDate:  utils.ToDate(l.EntryDate),
			Amount:           account.Natural(l.Debit.Sub(l.Credit)),
			Description:      description,
			IsCleared:        true,
		}
		item.setSource(JournalLineSource{LineId: l.LineId})
		added = append(added, item)
	}
	for _, b := range bankTxns {
		item := &ReconciliationItem{
			ReconciliationId: rec.ID,
			BusinessId:       businessId,
			TransactionDate:  utils.ToDate(b.TransactionDate),
			Amount:           account.Natural(b.Amount),
			Description:      b.Description,
		}
		item.setSource(BankTransactionSource{BankTransactionId: b.ID})
		added = append(added, item)
	}
	if len(added) > 0 {
		if err := tx.Create(&added).Error; err != nil {
			return nil, err
		}
	}

	items := make([]*ReconciliationItem, 0, len(rec.Items)+len(added))
	for i := range rec.Items {
		items = append(items, &rec.Items[i])
	}
	items = append(items, added...)

	changed := pairItems(items, windowDays)
	for _, item := range changed {
		if err := tx.Model(&ReconciliationItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
			"is_cleared":       item.IsCleared,
			"is_matched":       item.IsMatched,
			"match_type":       item.MatchType,
			"match_confidence": item.MatchConfidence,
			"matched_item_id":  item.MatchedItemId,
		}).Error; err != nil {
			return nil, err
		}
	}

	rec.Items = rec.Items[:0]
	for _, item := range items {
		rec.Items = append(rec.Items, *item)
	}
	if err := recalculate(tx, rec, actor, true); err != nil {
		return nil, err
	}
	return rec, nil
}

// pairItems matches unmatched items in place and returns the ones it changed.
func pairItems(items []*ReconciliationItem, windowDays int) []*ReconciliationItem {
	var ledger, bank []*ReconciliationItem
	hasBank := false
	for _, item := range items {
		if !item.IsLedger() {
			hasBank = true
		}
		if item.IsMatched {
			continue
		}
		if item.IsLedger() {
			ledger = append(ledger, item)
		} else {
			bank = append(bank, item)
		}
	}

	var changed []*ReconciliationItem
	if !hasBank {
		for _, l := range ledger {
			l.IsMatched, l.IsCleared = true, true
			l.MatchType = MatchTypeSystem
			l.MatchConfidence = decimal.NewFromInt(1)
			changed = append(changed, l)
		}
		return changed
	}

	sort.SliceStable(bank, func(i, j int) bool {
		if !bank[i].TransactionDate.Equal(bank[j].TransactionDate) {
			return bank[i].TransactionDate.Before(bank[j].TransactionDate)
		}
		return bank[i].ID < bank[j].ID
	})
	taken := map[*ReconciliationItem]bool{}
	for _, b := range bank {
		var best *ReconciliationItem
		bestDays := 0
		for _, l := range ledger {
			if taken[l] || !l.Amount.Equal(b.Amount) {
				continue
			}
			days := utils.DaysBetween(l.TransactionDate, b.TransactionDate)
			if days > windowDays {
				continue
			}
			if best == nil || days < bestDays || (days == bestDays && l.ID < best.ID) {
				best, bestDays = l, days
			}
		}
		if best == nil {
			continue
		}
		taken[best] = true
		confidence := matchConfidence(bestDays, windowDays)
		linkItems(best, b, MatchTypeAuto, confidence)
		changed = append(changed, best, b)
	}
	return changed
}

func linkItems(ledger, bank *ReconciliationItem, matchType MatchType, confidence decimal.Decimal) {
	ledgerId, bankId := ledger.ID, bank.ID
	for _, it := range []*ReconciliationItem{ledger, bank} {
		it.IsMatched, it.IsCleared = true, true
		it.MatchType = matchType
		it.MatchConfidence = confidence
	}
	ledger.MatchedItemId = &bankId
	bank.MatchedItemId = &ledgerId
}

// recalculate refreshes the cleared balance, difference and status of rec and saves them.
// Only autoComplete callers may move the reconciliation to COMPLETED.
func recalculate(tx *gorm.DB, rec *Reconciliation, actor string, autoComplete bool) error {
	cleared := rec.OpeningBalance
	unmatched := 0
	for _, item := range rec.Items {
		if !item.IsMatched {
			unmatched++
		}
		if item.IsLedger() && item.IsCleared {
			cleared = cleared.Add(item.Amount)
		}
	}
	rec.ClearedBalance = cleared
	rec.Difference = rec.StatementBalance.Sub(cleared)
	rec.Status = ReconciliationStatusInProgress

	updates := map[string]interface{}{
		"cleared_balance": rec.ClearedBalance,
		"difference":      rec.Difference,
	}
	if autoComplete && unmatched == 0 && rec.Difference.Abs().LessThan(reconcileTolerance) {
		now := time.Now().UTC()
		rec.Status = ReconciliationStatusCompleted
		rec.CompletedBy, rec.CompletedAt = &actor, &now
		updates["completed_by"] = actor
		updates["completed_at"] = now
	}
	updates["status"] = rec.Status
	return tx.Model(&Reconciliation{}).Where("id = ?", rec.ID).Updates(updates).Error
}

// CompleteReconciliation finalizes rec. Every item must be matched and the difference within tolerance.
func CompleteReconciliation(ctx context.Context, tx *gorm.DB, id int, actor string) (*Reconciliation, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := loadOpenReconciliation(tx, businessId, id)
	if err != nil {
		return nil, err
	}
	for _, item := range rec.Items {
		if !item.IsMatched {
			return nil, errorf(ErrUnmatchedItemsRemain, "item %d is not matched", item.ID)
		}
	}
	if err := recalculate(tx, rec, actor, true); err != nil {
		return nil, err
	}
	if rec.Status != ReconciliationStatusCompleted {
		return nil, errorf(ErrReconciliationUnbalanced, "difference %s exceeds tolerance", rec.Difference.StringFixed(2))
	}
	return rec, nil
}

func findItem(rec *Reconciliation, itemId int) (*ReconciliationItem, error) {
	for i := range rec.Items {
		if rec.Items[i].ID == itemId {
			return &rec.Items[i], nil
		}
	}
	return nil, errorf(ErrReconciliationItemNotFound, "item %d is not part of reconciliation %d", itemId, rec.ID)
}

func saveItemMatch(tx *gorm.DB, item *ReconciliationItem) error {
	return tx.Model(&ReconciliationItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
		"is_cleared":       item.IsCleared,
		"is_matched":       item.IsMatched,
		"match_type":       item.MatchType,
		"match_confidence": item.MatchConfidence,
		"matched_item_id":  item.MatchedItemId,
	}).Error
}

// MatchItems pairs a bank item with a ledger item by hand.
func MatchItems(ctx context.Context, db *gorm.DB, reconciliationId, bankItemId, ledgerItemId int) (*Reconciliation, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	actor, _ := utils.GetUserNameFromContext(ctx)
	var rec *Reconciliation
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err = loadOpenReconciliation(tx, businessId, reconciliationId)
		if err != nil {
			return err
		}
		bank, err := findItem(rec, bankItemId)
		if err != nil {
			return err
		}
		ledger, err := findItem(rec, ledgerItemId)
		if err != nil {
			return err
		}
		if bank.IsLedger() || !ledger.IsLedger() {
			return errorf(ErrValidation, "a match pairs one bank item with one ledger item")
		}
		if bank.IsMatched || ledger.IsMatched {
			return errorf(ErrValidation, "both items must be unmatched")
		}
		linkItems(ledger, bank, MatchTypeManual, decimal.NewFromInt(1))
		if err := saveItemMatch(tx, ledger); err != nil {
			return err
		}
		if err := saveItemMatch(tx, bank); err != nil {
			return err
		}
		return recalculate(tx, rec, actor, false)
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return rec, nil
}

// UnmatchItem drops the match of an item and of its counterpart, if any.
// Whether a ledger item is cleared is left to SetItemCleared.
func UnmatchItem(ctx context.Context, db *gorm.DB, reconciliationId, itemId int) (*Reconciliation, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	actor, _ := utils.GetUserNameFromContext(ctx)
	var rec *Reconciliation
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err = loadOpenReconciliation(tx, businessId, reconciliationId)
		if err != nil {
			return err
		}
		item, err := findItem(rec, itemId)
		if err != nil {
			return err
		}
		targets := []*ReconciliationItem{item}
		if item.MatchedItemId != nil {
			partner, err := findItem(rec, *item.MatchedItemId)
			if err != nil {
				return err
			}
			targets = append(targets, partner)
		}
		for _, t := range targets {
			t.IsMatched = false
			t.MatchType = MatchTypeNone
			t.MatchConfidence = decimal.Zero
			t.MatchedItemId = nil
			if err := saveItemMatch(tx, t); err != nil {
				return err
			}
		}
		return recalculate(tx, rec, actor, false)
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return rec, nil
}

// SetItemCleared toggles whether a ledger item counts toward the cleared balance.
func SetItemCleared(ctx context.Context, db *gorm.DB, reconciliationId, itemId int, cleared bool) (*Reconciliation, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	actor, _ := utils.GetUserNameFromContext(ctx)
	var rec *Reconciliation
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err = loadOpenReconciliation(tx, businessId, reconciliationId)
		if err != nil {
			return err
		}
		item, err := findItem(rec, itemId)
		if err != nil {
			return err
		}
		item.IsCleared = cleared
		if err := tx.Model(&ReconciliationItem{}).Where("id = ?", item.ID).Update("is_cleared", cleared).Error; err != nil {
			return err
		}
		return recalculate(tx, rec, actor, false)
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return rec, nil
}
