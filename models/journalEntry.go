package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	entryNumberPrefix        = "JE-"
	createEntryIdempotencyOp = "journal_entry.create"
)

type JournalEntry struct {
	ID                int                `gorm:"primary_key" json:"id"`
	BusinessId        string             `gorm:"size:64;not null;uniqueIndex:uniq_entry_number,priority:1;index:idx_je_biz_date,priority:1" json:"business_id"`
	EntryNumber       string             `gorm:"size:32;not null;uniqueIndex:uniq_entry_number,priority:2" json:"entry_number"`
	SequenceNo        int                `gorm:"not null;index" json:"sequence_no"`
	EntryDate         time.Time          `gorm:"type:date;not null;index:idx_je_biz_date,priority:2" json:"entry_date"`
	Reference         string             `gorm:"size:255;index" json:"reference"`
	Description       string             `gorm:"type:text" json:"description"`
	CurrencyCode      string             `gorm:"size:3" json:"currency_code"`
	ExchangeRate      decimal.Decimal    `gorm:"type:decimal(20,4);default:1" json:"exchange_rate"`
	EntryKind         JournalEntryKind   `gorm:"size:16;not null;default:'STANDARD'" json:"entry_kind"`
	Status            JournalEntryStatus `gorm:"size:16;not null;index" json:"status"`
	TotalDebit        decimal.Decimal    `gorm:"type:decimal(20,4);not null;default:0" json:"total_debit"`
	TotalCredit       decimal.Decimal    `gorm:"type:decimal(20,4);not null;default:0" json:"total_credit"`
	CreatedBy         string             `gorm:"size:100" json:"created_by"`
	ApprovedBy        *string            `gorm:"size:100" json:"approved_by"`
	ApprovedAt        *time.Time         `json:"approved_at"`
	PostedBy          *string            `gorm:"size:100" json:"posted_by"`
	PostedAt          *time.Time         `gorm:"index" json:"posted_at"`
	RejectedBy        *string            `gorm:"size:100" json:"rejected_by"`
	RejectedAt        *time.Time         `json:"rejected_at"`
	RejectReason      *string            `gorm:"type:text" json:"reject_reason"`
	VoidedBy          *string            `gorm:"size:100" json:"voided_by"`
	VoidedAt          *time.Time         `json:"voided_at"`
	VoidReason        *string            `gorm:"type:text" json:"void_reason"`
	ReversesEntryId   *int               `gorm:"index" json:"reverses_entry_id"`
	ReversedByEntryId *int               `gorm:"index" json:"reversed_by_entry_id"`
	Lines             []JournalEntryLine `gorm:"foreignKey:JournalEntryId" json:"lines"`
	CreatedAt         time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewJournalEntry struct {
	EntryDate      time.Time             `json:"entry_date" validate:"required"`
	Reference      string                `json:"reference" validate:"max=255"`
	Description    string                `json:"description"`
	CurrencyCode   string                `json:"currency_code" validate:"omitempty,len=3"`
	ExchangeRate   decimal.Decimal       `json:"exchange_rate"`
	EntryKind      JournalEntryKind      `json:"entry_kind"`
	// IdempotencyKey makes retried creates return the entry of the first attempt.
	IdempotencyKey string                `json:"idempotency_key" validate:"max=255"`
	Lines          []NewJournalEntryLine `json:"lines" validate:"dive"`
}

type JournalEntryFilter struct {
	Status    *JournalEntryStatus
	EntryKind *JournalEntryKind
	FromDate  *time.Time
	ToDate    *time.Time
	AccountId *int
	Reference *string
}

type JournalEntriesEdge struct {
	Cursor string        `json:"cursor"`
	Node   *JournalEntry `json:"node"`
}

type JournalEntriesConnection struct {
	Edges    []*JournalEntriesEdge `json:"edges"`
	PageInfo *PageInfo             `json:"pageInfo"`
}

// Posted and void entries are immutable except for the fields voiding writes.
var voidWritableFields = map[string]bool{
	"Status":            true,
	"VoidedBy":          true,
	"VoidedAt":          true,
	"VoidReason":        true,
	"ReversedByEntryId": true,
	"UpdatedAt":         true,
}

func (j *JournalEntry) BeforeUpdate(tx *gorm.DB) error {
	if j.Status != JournalEntryStatusPosted && j.Status != JournalEntryStatusVoid {
		return nil
	}
	if tx == nil || tx.Statement == nil || tx.Statement.Schema == nil {
		return nil
	}
	for _, f := range tx.Statement.Schema.Fields {
		if !tx.Statement.Changed(f.Name) {
			continue
		}
		if j.Status == JournalEntryStatusVoid || !voidWritableFields[f.Name] {
			return errorf(ErrImmutableLedger, "%s of a %s entry cannot be updated", f.Name, j.Status)
		}
	}
	return nil
}

func (j *JournalEntry) BeforeDelete(tx *gorm.DB) error {
	status := j.Status
	if status == "" && j.ID > 0 {
		var err error
		if status, err = entryStatus(tx, j.ID); err != nil {
			return err
		}
	}
	if status == JournalEntryStatusPosted || status == JournalEntryStatusVoid {
		return errorf(ErrImmutableLedger, "%s journal entries cannot be deleted", status)
	}
	return nil
}

func (j *JournalEntry) AccountIds() []int {
	ids := make([]int, 0, len(j.Lines))
	for _, l := range j.Lines {
		ids = append(ids, l.AccountId)
	}
	ids = utils.UniqueSlice(ids)
	sort.Ints(ids)
	return ids
}

// buildLines validates input lines and returns them numbered 1..n with their totals.
func (input *NewJournalEntry) buildLines(businessId string) ([]JournalEntryLine, decimal.Decimal, decimal.Decimal, error) {
	totalDebit, totalCredit := decimal.Zero, decimal.Zero
	if len(input.Lines) == 0 {
		return nil, totalDebit, totalCredit, errorf(ErrValidation, "a journal entry needs at least one line")
	}
	lines := make([]JournalEntryLine, 0, len(input.Lines))
	for i, l := range input.Lines {
		lineNo := i + 1
		if err := checkLine(lineNo, l.Debit, l.Credit); err != nil {
			return nil, totalDebit, totalCredit, err
		}
		totalDebit = totalDebit.Add(l.Debit)
		totalCredit = totalCredit.Add(l.Credit)
		lines = append(lines, JournalEntryLine{
			BusinessId:   businessId,
			LineNo:       lineNo,
			AccountId:    l.AccountId,
			Description:  l.Description,
			Debit:        l.Debit,
			Credit:       l.Credit,
			CurrencyCode: input.CurrencyCode,
			TaxCode:      l.TaxCode,
			EntityRef:    l.EntityRef,
		})
	}
	if !totalDebit.Equal(totalCredit) {
		return nil, totalDebit, totalCredit, errorf(ErrUnbalancedEntry, "total debit %s does not equal total credit %s",
			totalDebit.StringFixed(4), totalCredit.StringFixed(4))
	}
	return lines, totalDebit, totalCredit, nil
}

func (input *NewJournalEntry) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return errorf(ErrValidation, "%v", err)
	}
	if input.EntryKind != "" && !input.EntryKind.IsValid() {
		return errorf(ErrValidation, "unknown entry kind %q", input.EntryKind)
	}
	if input.EntryKind == JournalEntryKindReversing {
		return errorf(ErrValidation, "reversing entries are generated by voiding")
	}
	if input.ExchangeRate.IsNegative() {
		return errorf(ErrValidation, "exchange rate must not be negative")
	}
	return nil
}

// ensureAccountsPostable fails with ErrInvalidAccount unless every account exists and is active.
func ensureAccountsPostable(tx *gorm.DB, businessId string, accountIds []int) error {
	accounts, err := loadAccountsById(tx, businessId, accountIds)
	if err != nil {
		return err
	}
	for _, id := range accountIds {
		a, ok := accounts[id]
		if !ok {
			return errorf(ErrInvalidAccount, "account %d does not exist", id)
		}
		if !a.IsActive() {
			return errorf(ErrInvalidAccount, "account %s is %s", a.Code, a.Status)
		}
	}
	return nil
}

// insertEntry assigns the next number of the business and inserts entry with its lines.
func insertEntry(tx *gorm.DB, entry *JournalEntry) error {
	seq, err := nextEntrySequence(tx, entry.BusinessId)
	if err != nil {
		return err
	}
	entry.SequenceNo = seq
	entry.EntryNumber = entryNumberPrefix + fmt.Sprint(seq)
	if err := tx.Create(entry).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return errorf(ErrConcurrencyConflict, "entry number %s was taken concurrently", entry.EntryNumber)
		}
		return err
	}
	return nil
}

// CreateJournalEntry validates input and persists it as a DRAFT entry.
// Nothing is written when any rule fails.
func CreateJournalEntry(ctx context.Context, db *gorm.DB, input *NewJournalEntry) (*JournalEntry, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	lines, totalDebit, totalCredit, err := input.buildLines(businessId)
	if err != nil {
		return nil, err
	}
	actor, _ := utils.GetUserNameFromContext(ctx)

	entry := JournalEntry{
		BusinessId:   businessId,
		EntryDate:    utils.ToDate(input.EntryDate),
		Reference:    strings.TrimSpace(input.Reference),
		Description:  input.Description,
		CurrencyCode: input.CurrencyCode,
		ExchangeRate: input.ExchangeRate,
		EntryKind:    input.EntryKind,
		Status:       JournalEntryStatusDraft,
		TotalDebit:   totalDebit,
		TotalCredit:  totalCredit,
		CreatedBy:    actor,
		Lines:        lines,
	}
	if entry.EntryKind == "" {
		entry.EntryKind = JournalEntryKindStandard
	}
	if entry.ExchangeRate.IsZero() {
		entry.ExchangeRate = decimal.NewFromInt(1)
	}

	var replayed *JournalEntry
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.IdempotencyKey != "" {
			existingId, err := beginIdempotency(tx, businessId, createEntryIdempotencyOp, input.IdempotencyKey)
			if err != nil {
				return err
			}
			if existingId > 0 {
				replayed, err = loadEntry(tx, businessId, existingId, false)
				return err
			}
		}
		if err := ensureAccountsPostable(tx, businessId, entry.AccountIds()); err != nil {
			return err
		}
		if err := EnsurePeriodOpen(tx, businessId, entry.EntryDate); err != nil {
			return err
		}
		if err := insertEntry(tx, &entry); err != nil {
			return err
		}
		if input.IdempotencyKey != "" {
			return markIdempotencySucceeded(tx, businessId, createEntryIdempotencyOp, input.IdempotencyKey, entry.ID)
		}
		return nil
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	if replayed != nil {
		return replayed, nil
	}
	return &entry, nil
}

// UpdateDraftJournalEntry replaces the header and lines of a DRAFT entry and clears any approval.
func UpdateDraftJournalEntry(ctx context.Context, db *gorm.DB, id int, input *NewJournalEntry) (*JournalEntry, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	lines, totalDebit, totalCredit, err := input.buildLines(businessId)
	if err != nil {
		return nil, err
	}

	var entry *JournalEntry
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err = loadEntry(tx, businessId, id, true)
		if err != nil {
			return err
		}
		if entry.Status != JournalEntryStatusDraft {
			return errorf(ErrInvalidStateTransition, "only draft entries can be edited; entry %s is %s", entry.EntryNumber, entry.Status)
		}
		entryDate := utils.ToDate(input.EntryDate)
		probe := JournalEntry{Lines: lines}
		if err := ensureAccountsPostable(tx, businessId, probe.AccountIds()); err != nil {
			return err
		}
		if err := EnsurePeriodOpen(tx, businessId, entryDate); err != nil {
			return err
		}

		if err := tx.Where("journal_entry_id = ?", entry.ID).
			Delete(&JournalEntryLine{JournalEntryId: entry.ID}).Error; err != nil {
			return err
		}
		for i := range lines {
			lines[i].JournalEntryId = entry.ID
		}
		if err := tx.Create(&lines).Error; err != nil {
			return err
		}

		kind := input.EntryKind
		if kind == "" {
			kind = JournalEntryKindStandard
		}
		rate := input.ExchangeRate
		if rate.IsZero() {
			rate = decimal.NewFromInt(1)
		}
		if err := tx.Model(entry).Updates(map[string]interface{}{
			"EntryDate":    entryDate,
			"Reference":    strings.TrimSpace(input.Reference),
			"Description":  input.Description,
			"CurrencyCode": input.CurrencyCode,
			"ExchangeRate": rate,
			"EntryKind":    kind,
			"TotalDebit":   totalDebit,
			"TotalCredit":  totalCredit,
			"ApprovedBy":   nil,
			"ApprovedAt":   nil,
		}).Error; err != nil {
			return err
		}
		entry.ApprovedBy, entry.ApprovedAt = nil, nil
		entry.Lines = lines
		return nil
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return entry, nil
}

// ApproveJournalEntry records approval on a DRAFT entry. Approval does not post.
func ApproveJournalEntry(ctx context.Context, db *gorm.DB, id int, actor string) (*JournalEntry, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	var entry *JournalEntry
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err = loadEntry(tx, businessId, id, true)
		if err != nil {
			return err
		}
		if entry.Status != JournalEntryStatusDraft {
			return errorf(ErrInvalidStateTransition, "cannot approve a %s entry", entry.Status)
		}
		now := time.Now().UTC()
		if err := tx.Model(entry).Updates(map[string]interface{}{"ApprovedBy": actor, "ApprovedAt": now}).Error; err != nil {
			return err
		}
		entry.ApprovedBy, entry.ApprovedAt = &actor, &now
		return nil
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return entry, nil
}

func RejectJournalEntry(ctx context.Context, db *gorm.DB, id int, actor, reason string) (*JournalEntry, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	var entry *JournalEntry
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err = loadEntry(tx, businessId, id, true)
		if err != nil {
			return err
		}
		if entry.Status != JournalEntryStatusDraft {
			return errorf(ErrInvalidStateTransition, "cannot reject a %s entry", entry.Status)
		}
		now := time.Now().UTC()
		if err := tx.Model(entry).Updates(map[string]interface{}{
			"Status":       JournalEntryStatusRejected,
			"RejectedBy":   actor,
			"RejectedAt":   now,
			"RejectReason": reason,
		}).Error; err != nil {
			return err
		}
		entry.Status = JournalEntryStatusRejected
		entry.RejectedBy, entry.RejectedAt, entry.RejectReason = &actor, &now, &reason
		return nil
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return entry, nil
}

// PostEntry moves a DRAFT entry to POSTED inside tx. Callers hold the account locks.
func PostEntry(ctx context.Context, tx *gorm.DB, id int, actor string, requireApproval bool) (*JournalEntry, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	entry, err := loadEntry(tx, businessId, id, true)
	if err != nil {
		return nil, err
	}
	if entry.Status != JournalEntryStatusDraft {
		return nil, errorf(ErrInvalidStateTransition, "cannot post a %s entry", entry.Status)
	}
	if requireApproval && entry.ApprovedBy == nil {
		return nil, errorf(ErrApprovalRequired, "entry %s must be approved before posting", entry.EntryNumber)
	}
	if !entry.TotalDebit.Equal(entry.TotalCredit) {
		return nil, errorf(ErrUnbalancedEntry, "entry %s is out of balance", entry.EntryNumber)
	}
	if err := ensureAccountsPostable(tx, businessId, entry.AccountIds()); err != nil {
		return nil, err
	}
	if err := EnsurePeriodOpen(tx, businessId, entry.EntryDate); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := tx.Model(entry).Updates(map[string]interface{}{
		"Status":   JournalEntryStatusPosted,
		"PostedBy": actor,
		"PostedAt": now,
	}).Error; err != nil {
		return nil, err
	}
	entry.Status = JournalEntryStatusPosted
	entry.PostedBy, entry.PostedAt = &actor, &now
	return entry, nil
}

// VoidEntry marks a POSTED entry VOID and inserts its posted reversal on the same date.
// It returns the voided entry and the reversal.
func VoidEntry(ctx context.Context, tx *gorm.DB, id int, reason, actor string) (*JournalEntry, *JournalEntry, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, nil, err
	}
	entry, err := loadEntry(tx, businessId, id, true)
	if err != nil {
		return nil, nil, err
	}
	if entry.Status != JournalEntryStatusPosted {
		return nil, nil, errorf(ErrInvalidStateTransition, "cannot void a %s entry", entry.Status)
	}
	if entry.EntryKind == JournalEntryKindReversing {
		return nil, nil, errorf(ErrInvalidStateTransition, "reversing entry %s cannot be voided", entry.EntryNumber)
	}
	if err := EnsurePeriodOpen(tx, businessId, entry.EntryDate); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	reversal := entry.reversal(actor, reason, now)
	if err := insertEntry(tx, reversal); err != nil {
		return nil, nil, err
	}
	if err := tx.Model(entry).Updates(map[string]interface{}{
		"Status":            JournalEntryStatusVoid,
		"VoidedBy":          actor,
		"VoidedAt":          now,
		"VoidReason":        reason,
		"ReversedByEntryId": reversal.ID,
	}).Error; err != nil {
		return nil, nil, err
	}
	entry.Status = JournalEntryStatusVoid
	entry.VoidedBy, entry.VoidedAt, entry.VoidReason = &actor, &now, &reason
	entry.ReversedByEntryId = &reversal.ID
	return entry, reversal, nil
}

// reversal builds the posted mirror of j with every line's sides swapped.
func (j *JournalEntry) reversal(actor, reason string, at time.Time) *JournalEntry {
	lines := make([]JournalEntryLine, 0, len(j.Lines))
	for _, l := range j.Lines {
		lines = append(lines, JournalEntryLine{
			BusinessId:   l.BusinessId,
			LineNo:       l.LineNo,
			AccountId:    l.AccountId,
			Description:  l.Description,
			Debit:        l.Credit,
			Credit:       l.Debit,
			CurrencyCode: l.CurrencyCode,
			TaxCode:      l.TaxCode,
			EntityRef:    l.EntityRef,
		})
	}
	reverses := j.ID
	return &JournalEntry{
		BusinessId:      j.BusinessId,
		EntryDate:       j.EntryDate,
		Reference:       j.EntryNumber,
		Description:     fmt.Sprintf("Reversal of %s: %s", j.EntryNumber, reason),
		CurrencyCode:    j.CurrencyCode,
		ExchangeRate:    j.ExchangeRate,
		EntryKind:       JournalEntryKindReversing,
		Status:          JournalEntryStatusPosted,
		TotalDebit:      j.TotalCredit,
		TotalCredit:     j.TotalDebit,
		CreatedBy:       actor,
		ApprovedBy:      &actor,
		ApprovedAt:      &at,
		PostedBy:        &actor,
		PostedAt:        &at,
		ReversesEntryId: &reverses,
		Lines:           lines,
	}
}

// DeleteJournalEntry removes a DRAFT or REJECTED entry with its lines.
// An approved draft is only deleted when force is set; posted and void entries never are.
func DeleteJournalEntry(ctx context.Context, db *gorm.DB, id int, force bool) (*JournalEntry, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	var entry *JournalEntry
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err = loadEntry(tx, businessId, id, true)
		if err != nil {
			return err
		}
		switch entry.Status {
		case JournalEntryStatusDraft, JournalEntryStatusRejected:
		default:
			return errorf(ErrInvalidStateTransition, "%s entries cannot be deleted; void them instead", entry.Status)
		}
		if entry.ApprovedBy != nil && entry.Status == JournalEntryStatusDraft && !force {
			return errorf(ErrInvalidStateTransition, "entry %s is approved; deleting it requires force", entry.EntryNumber)
		}
		if err := tx.Where("journal_entry_id = ?", entry.ID).
			Delete(&JournalEntryLine{JournalEntryId: entry.ID}).Error; err != nil {
			return err
		}
		return tx.Delete(entry).Error
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return entry, nil
}

func GetJournalEntry(ctx context.Context, db *gorm.DB, id int) (*JournalEntry, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	return loadEntry(db.WithContext(ctx), businessId, id, false)
}

// EntryAccountIds lists the sorted distinct accounts touched by an entry, without locking.
func EntryAccountIds(ctx context.Context, db *gorm.DB, id int) ([]int, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	var ids []int
	if err := db.WithContext(ctx).Model(&JournalEntryLine{}).
		Where("business_id = ? AND journal_entry_id = ?", businessId, id).
		Distinct("account_id").Order("account_id").Pluck("account_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func loadEntry(tx *gorm.DB, businessId string, id int, forUpdate bool) (*JournalEntry, error) {
	var entry JournalEntry
	q := tx
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("business_id = ?", businessId).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		First(&entry, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errorf(ErrJournalEntryNotFound, "journal entry %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListJournalEntries pages entries newest first. The cursor encodes (entry_date, id).
func ListJournalEntries(ctx context.Context, db *gorm.DB, filter JournalEntryFilter, limit *int, after *string) (*JournalEntriesConnection, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	pageSize := 50
	if limit != nil && *limit > 0 && *limit <= 500 {
		pageSize = *limit
	}

	dbCtx := db.WithContext(ctx).Model(&JournalEntry{}).Where("journal_entries.business_id = ?", businessId)
	if filter.Status != nil {
		dbCtx = dbCtx.Where("journal_entries.status = ?", *filter.Status)
	}
	if filter.EntryKind != nil {
		dbCtx = dbCtx.Where("journal_entries.entry_kind = ?", *filter.EntryKind)
	}
	if filter.FromDate != nil {
		dbCtx = dbCtx.Where("journal_entries.entry_date >= ?", utils.ToDate(*filter.FromDate))
	}
	if filter.ToDate != nil {
		dbCtx = dbCtx.Where("journal_entries.entry_date <= ?", utils.ToDate(*filter.ToDate))
	}
	if filter.Reference != nil && *filter.Reference != "" {
		dbCtx = dbCtx.Where("journal_entries.reference LIKE ?", "%"+*filter.Reference+"%")
	}
	if filter.AccountId != nil {
		dbCtx = dbCtx.Where("EXISTS (SELECT 1 FROM journal_entry_lines l WHERE l.journal_entry_id = journal_entries.id AND l.account_id = ?)", *filter.AccountId)
	}
	if cursorDate, cursorId := DecodeCompositeCursor(after); cursorId > 0 {
		if d, err := utils.ParseDate(cursorDate); err == nil {
			dbCtx = dbCtx.Where("(journal_entries.entry_date < ?) OR (journal_entries.entry_date = ? AND journal_entries.id < ?)", d, d, cursorId)
		}
	}

	var entries []*JournalEntry
	if err := dbCtx.Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		Order("journal_entries.entry_date DESC, journal_entries.id DESC").
		Limit(pageSize + 1).Find(&entries).Error; err != nil {
		return nil, err
	}

	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	conn := &JournalEntriesConnection{PageInfo: &PageInfo{HasNextPage: hasNext}}
	for _, e := range entries {
		conn.Edges = append(conn.Edges, &JournalEntriesEdge{
			Cursor: EncodeCompositeCursor(e.EntryDate.Format(time.DateOnly), e.ID),
			Node:   e,
		})
	}
	if len(conn.Edges) > 0 {
		conn.PageInfo.StartCursor = conn.Edges[0].Cursor
		conn.PageInfo.EndCursor = conn.Edges[len(conn.Edges)-1].Cursor
	}
	return conn, nil
}
