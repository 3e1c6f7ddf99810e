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

const fullCodeSeparator = "."

type Account struct {
	ID                int              `gorm:"primary_key" json:"id"`
	BusinessId        string           `gorm:"size:64;not null;index;uniqueIndex:uniq_account_code,priority:1" json:"business_id"`
	Code              string           `gorm:"size:32;not null;uniqueIndex:uniq_account_code,priority:2" json:"code"`
	FullCode          string           `gorm:"size:255;index" json:"full_code"`
	Name              string           `gorm:"size:100;not null;index" json:"name"`
	AccountType       AccountType      `gorm:"size:16;not null;index" json:"account_type"`
	SubType           AccountSubType   `gorm:"size:32;index" json:"sub_type"`
	NormalBalance     NormalBalance    `gorm:"size:8;not null" json:"normal_balance"`
	IsContra          bool             `gorm:"not null;default:false" json:"is_contra"`
	Status            AccountStatus    `gorm:"size:16;not null;index" json:"status"`
	ParentAccountId   int              `gorm:"not null;default:0;index" json:"parent_account_id"`
	Path              string           `gorm:"size:512;index" json:"path"`
	Level             int              `gorm:"not null;default:0" json:"level"`
	CashflowActivity  CashflowActivity `gorm:"size:16" json:"cashflow_activity"`
	IsCashEquivalent  bool             `gorm:"not null;default:false;index" json:"is_cash_equivalent"`
	IsSystemDefault   bool             `gorm:"not null;default:false" json:"is_system_default"`
	SystemDefaultCode string           `gorm:"size:32;index" json:"system_default_code"`
	Description       string           `gorm:"type:text" json:"description"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAccount struct {
	Code              string           `json:"code" validate:"required,max=32,excludesall=./"`
	Name              string           `json:"name" validate:"required,max=100"`
	AccountType       AccountType      `json:"account_type" validate:"required"`
	SubType           AccountSubType   `json:"sub_type"`
	ParentAccountId   int              `json:"parent_account_id" validate:"gte=0"`
	// NormalBalance overrides the side derived from AccountType.
	NormalBalance     *NormalBalance   `json:"normal_balance"`
	IsContra          bool             `json:"is_contra"`
	CashflowActivity  CashflowActivity `json:"cashflow_activity"`
	// IsCashEquivalent defaults to true for CASH and BANK subtypes.
	IsCashEquivalent  *bool            `json:"is_cash_equivalent"`
	IsSystemDefault   bool             `json:"is_system_default"`
	SystemDefaultCode string           `json:"system_default_code" validate:"max=32"`
	Description       string           `json:"description"`
}

// UpdateAccount carries optional changes; nil fields are left alone.
type UpdateAccount struct {
	Code             *string           `json:"code" validate:"omitempty,max=32,excludesall=./"`
	Name             *string           `json:"name" validate:"omitempty,max=100"`
	Description      *string           `json:"description"`
	AccountType      *AccountType      `json:"account_type"`
	SubType          *AccountSubType   `json:"sub_type"`
	ParentAccountId  *int              `json:"parent_account_id" validate:"omitempty,gte=0"`
	CashflowActivity *CashflowActivity `json:"cashflow_activity"`
	IsCashEquivalent *bool             `json:"is_cash_equivalent"`
}

type AccountFilter struct {
	AccountType *AccountType
	SubType     *AccountSubType
	Status      *AccountStatus
	Name        *string
	Code        *string
}

// AccountNode is one account with its children, for tree display.
type AccountNode struct {
	Account  *Account       `json:"account"`
	Children []*AccountNode `json:"children"`
}

// BalanceSign converts a debit-minus-credit amount into the account's natural direction.
// It is -1 for credit-normal accounts, and flips once more for contra accounts.
func (a *Account) BalanceSign() decimal.Decimal {
	sign := decimal.NewFromInt(1)
	if a.NormalBalance == NormalBalanceCredit {
		sign = sign.Neg()
	}
	if a.IsContra {
		sign = sign.Neg()
	}
	return sign
}

// Natural expresses a raw debit-minus-credit amount in the account's natural positive direction.
func (a *Account) Natural(raw decimal.Decimal) decimal.Decimal {
	return raw.Mul(a.BalanceSign())
}

// Raw is the inverse of Natural.
func (a *Account) Raw(natural decimal.Decimal) decimal.Decimal {
	return natural.Mul(a.BalanceSign())
}

func (a *Account) IsActive() bool { return a.Status == AccountStatusActive }

func (input *NewAccount) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return errorf(ErrValidation, "%v", err)
	}
	if !input.AccountType.IsValid() {
		return errorf(ErrValidation, "unknown account type %q", input.AccountType)
	}
	if !SubTypeAllowed(input.AccountType, input.SubType) {
		return errorf(ErrValidation, "sub type %q is not allowed for %s accounts", input.SubType, input.AccountType)
	}
	if input.NormalBalance != nil && !input.NormalBalance.IsValid() {
		return errorf(ErrValidation, "unknown normal balance %q", *input.NormalBalance)
	}
	if !input.CashflowActivity.IsValid() {
		return errorf(ErrValidation, "unknown cashflow activity %q", input.CashflowActivity)
	}
	return nil
}

func requireBusinessId(ctx context.Context) (string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", errorf(ErrValidation, "business id is required")
	}
	return businessId, nil
}

func CreateAccount(ctx context.Context, db *gorm.DB, input *NewAccount) (*Account, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	account := Account{
		BusinessId:        businessId,
		Code:              strings.TrimSpace(input.Code),
		Name:              strings.TrimSpace(input.Name),
		AccountType:       input.AccountType,
		SubType:           input.SubType,
		NormalBalance:     input.AccountType.DefaultNormalBalance(),
		IsContra:          input.IsContra,
		Status:            AccountStatusActive,
		ParentAccountId:   input.ParentAccountId,
		CashflowActivity:  input.CashflowActivity,
		IsCashEquivalent:  input.SubType == AccountSubTypeCash || input.SubType == AccountSubTypeBank,
		IsSystemDefault:   input.IsSystemDefault,
		SystemDefaultCode: input.SystemDefaultCode,
		Description:       input.Description,
	}
	if input.NormalBalance != nil {
		account.NormalBalance = *input.NormalBalance
	}
	if input.IsCashEquivalent != nil {
		account.IsCashEquivalent = *input.IsCashEquivalent
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureCodeAvailable(tx, businessId, account.Code, 0); err != nil {
			return err
		}
		var parent *Account
		if account.ParentAccountId > 0 {
			parent, err = loadParent(tx, businessId, account.ParentAccountId)
			if err != nil {
				return err
			}
		}
		if err := tx.Create(&account).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return errorf(ErrDuplicateCode, "account code %q already exists", account.Code)
			}
			return err
		}
		account.applyHierarchy(parent)
		return tx.Model(&account).Updates(map[string]interface{}{
			"path":      account.Path,
			"level":     account.Level,
			"full_code": account.FullCode,
		}).Error
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return &account, nil
}

// applyHierarchy derives path, level and full code from the parent (nil for a root).
func (a *Account) applyHierarchy(parent *Account) {
	if parent == nil {
		a.Path = fmt.Sprintf("/%d/", a.ID)
		a.Level = 0
		a.FullCode = a.Code
		return
	}
	a.Path = fmt.Sprintf("%s%d/", parent.Path, a.ID)
	a.Level = parent.Level + 1
	a.FullCode = parent.FullCode + fullCodeSeparator + a.Code
}

func ensureCodeAvailable(tx *gorm.DB, businessId, code string, exceptId int) error {
	var count int64
	q := tx.Model(&Account{}).Where("business_id = ? AND code = ?", businessId, code)
	if exceptId > 0 {
		q = q.Where("id <> ?", exceptId)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errorf(ErrDuplicateCode, "account code %q already exists", code)
	}
	return nil
}

func loadParent(tx *gorm.DB, businessId string, parentId int) (*Account, error) {
	var parent Account
	err := tx.Where("business_id = ?", businessId).First(&parent, parentId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errorf(ErrInvalidParent, "parent account %d not found", parentId)
	}
	if err != nil {
		return nil, err
	}
	if !parent.IsActive() {
		return nil, errorf(ErrInvalidParent, "parent account %s is %s", parent.Code, parent.Status)
	}
	return &parent, nil
}

// ensureNoCycle walks the ancestors of newParentId and fails if accountId is among them.
func ensureNoCycle(tx *gorm.DB, businessId string, accountId, newParentId int) error {
	seen := map[int]bool{}
	current := newParentId
	for current > 0 {
		if current == accountId {
			return errorf(ErrInvalidParent, "account %d cannot be its own ancestor", accountId)
		}
		if seen[current] {
			return errorf(ErrInvalidParent, "existing hierarchy contains a cycle at account %d", current)
		}
		seen[current] = true
		var parentId int
		if err := tx.Model(&Account{}).
			Where("business_id = ? AND id = ?", businessId, current).
			Select("parent_account_id").Scan(&parentId).Error; err != nil {
			return err
		}
		current = parentId
	}
	return nil
}

func UpdateAccountDetails(ctx context.Context, db *gorm.DB, id int, input *UpdateAccount) (*Account, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, errorf(ErrValidation, "%v", err)
	}

	var account Account
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ?", businessId).First(&account, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errorf(ErrAccountNotFound, "account %d", id)
			}
			return err
		}

		updates := map[string]interface{}{}
		if input.Name != nil {
			account.Name = strings.TrimSpace(*input.Name)
			updates["name"] = account.Name
		}
		if input.Description != nil {
			account.Description = *input.Description
			updates["description"] = account.Description
		}
		if input.CashflowActivity != nil {
			if !input.CashflowActivity.IsValid() {
				return errorf(ErrValidation, "unknown cashflow activity %q", *input.CashflowActivity)
			}
			account.CashflowActivity = *input.CashflowActivity
			updates["cashflow_activity"] = account.CashflowActivity
		}
		if input.IsCashEquivalent != nil {
			account.IsCashEquivalent = *input.IsCashEquivalent
			updates["is_cash_equivalent"] = account.IsCashEquivalent
		}
		if input.AccountType != nil && *input.AccountType != account.AccountType {
			if !input.AccountType.IsValid() {
				return errorf(ErrValidation, "unknown account type %q", *input.AccountType)
			}
			used, err := hasPostedLines(tx, businessId, account.ID)
			if err != nil {
				return err
			}
			if used {
				return errorf(ErrAccountInUse, "account %s has posted lines; its type cannot change", account.Code)
			}
			account.AccountType = *input.AccountType
			account.NormalBalance = account.AccountType.DefaultNormalBalance()
			updates["account_type"] = account.AccountType
			updates["normal_balance"] = account.NormalBalance
		}
		if input.SubType != nil {
			account.SubType = *input.SubType
			updates["sub_type"] = account.SubType
		}
		if !SubTypeAllowed(account.AccountType, account.SubType) {
			return errorf(ErrValidation, "sub type %q is not allowed for %s accounts", account.SubType, account.AccountType)
		}

		hierarchyChanged := false
		if input.Code != nil && strings.TrimSpace(*input.Code) != account.Code {
			code := strings.TrimSpace(*input.Code)
			if err := ensureCodeAvailable(tx, businessId, code, account.ID); err != nil {
				return err
			}
			account.Code = code
			updates["code"] = code
			hierarchyChanged = true
		}
		if input.ParentAccountId != nil && *input.ParentAccountId != account.ParentAccountId {
			if account.IsSystemDefault {
				return errorf(ErrSystemAccount, "system account %s cannot be moved", account.Code)
			}
			newParentId := *input.ParentAccountId
			if newParentId > 0 {
				if _, err := loadParent(tx, businessId, newParentId); err != nil {
					return err
				}
				if err := ensureNoCycle(tx, businessId, account.ID, newParentId); err != nil {
					return err
				}
			}
			account.ParentAccountId = newParentId
			updates["parent_account_id"] = newParentId
			hierarchyChanged = true
		}

		if len(updates) > 0 {
			if err := tx.Model(&Account{}).Where("id = ?", account.ID).Updates(updates).Error; err != nil {
				if isDuplicateKeyErr(err) {
					return errorf(ErrDuplicateCode, "account code %q already exists", account.Code)
				}
				return err
			}
		}
		if hierarchyChanged {
			return rebuildSubtree(tx, businessId, &account)
		}
		return nil
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return &account, nil
}

// rebuildSubtree recomputes path, level and full code for root and every descendant
// after a reparent or code change.
func rebuildSubtree(tx *gorm.DB, businessId string, root *Account) error {
	oldPath := root.Path
	var parent *Account
	if root.ParentAccountId > 0 {
		var p Account
		if err := tx.Where("business_id = ?", businessId).First(&p, root.ParentAccountId).Error; err != nil {
			return err
		}
		parent = &p
	}
	root.applyHierarchy(parent)
	if err := tx.Model(&Account{}).Where("id = ?", root.ID).Updates(map[string]interface{}{
		"path": root.Path, "level": root.Level, "full_code": root.FullCode,
	}).Error; err != nil {
		return err
	}

	var descendants []*Account
	if err := tx.Where("business_id = ? AND path LIKE ? AND id <> ?", businessId, oldPath+"%", root.ID).
		Order("level ASC, id ASC").Find(&descendants).Error; err != nil {
		return err
	}
	byId := map[int]*Account{root.ID: root}
	for _, d := range descendants {
		p, ok := byId[d.ParentAccountId]
		if !ok {
			return fmt.Errorf("account %d: parent %d missing from subtree of %d", d.ID, d.ParentAccountId, root.ID)
		}
		d.applyHierarchy(p)
		byId[d.ID] = d
		if err := tx.Model(&Account{}).Where("id = ?", d.ID).Updates(map[string]interface{}{
			"path": d.Path, "level": d.Level, "full_code": d.FullCode,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

// SetAccountStatus activates, deactivates or retires an account.
// Deactivating or closing cascades to every descendant; activating requires an active parent.
// Closing is refused while the account or any descendant is a system default.
func SetAccountStatus(ctx context.Context, db *gorm.DB, id int, status AccountStatus) (*Account, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, errorf(ErrValidation, "unknown account status %q", status)
	}

	var account Account
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("business_id = ?", businessId).First(&account, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errorf(ErrAccountNotFound, "account %d", id)
			}
			return err
		}
		if status == AccountStatusActive {
			if account.ParentAccountId > 0 {
				if _, err := loadParent(tx, businessId, account.ParentAccountId); err != nil {
					return err
				}
			}
			account.Status = status
			return tx.Model(&Account{}).Where("id = ?", account.ID).Update("status", status).Error
		}
		if status == AccountStatusClosed {
			var system Account
			err := tx.Where("business_id = ? AND path LIKE ? AND is_system_default = ?", businessId, account.Path+"%", true).
				Order("path ASC").Limit(1).Find(&system).Error
			if err != nil {
				return err
			}
			if system.ID != 0 {
				return errorf(ErrSystemAccount, "closing %s would close system account %s", account.Code, system.Code)
			}
		}
		account.Status = status
		return tx.Model(&Account{}).
			Where("business_id = ? AND path LIKE ?", businessId, account.Path+"%").
			Update("status", status).Error
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return &account, nil
}

// DeleteAccount physically removes an account that never carried posted lines and has no children.
func DeleteAccount(ctx context.Context, db *gorm.DB, id int) (*Account, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}

	var account Account
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ?", businessId).First(&account, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errorf(ErrAccountNotFound, "account %d", id)
			}
			return err
		}
		if account.IsSystemDefault {
			return errorf(ErrSystemAccount, "cannot delete system-default account %s", account.Code)
		}

		var children int64
		if err := tx.Model(&Account{}).
			Where("business_id = ? AND parent_account_id = ?", businessId, id).Count(&children).Error; err != nil {
			return err
		}
		if children > 0 {
			return errorf(ErrAccountInUse, "account %s has %d child account(s)", account.Code, children)
		}
		used, err := hasPostedLines(tx, businessId, id)
		if err != nil {
			return err
		}
		if used {
			return errorf(ErrAccountInUse, "account %s has posted journal lines", account.Code)
		}
		return tx.Delete(&Account{}, id).Error
	})
	if err != nil {
		return nil, TranslateDBError(err)
	}
	return &account, nil
}

func hasPostedLines(tx *gorm.DB, businessId string, accountId int) (bool, error) {
	var count int64
	err := tx.Table("journal_entry_lines AS l").
		Joins("JOIN journal_entries AS e ON e.id = l.journal_entry_id").
		Where("e.business_id = ? AND l.account_id = ? AND e.status IN ?", businessId, accountId, LedgerVisibleStatuses).
		Count(&count).Error
	return count > 0, err
}

func GetAccount(ctx context.Context, db *gorm.DB, id int) (*Account, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	var account Account
	err = db.WithContext(ctx).Where("business_id = ?", businessId).First(&account, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errorf(ErrAccountNotFound, "account %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func GetAccountByCode(ctx context.Context, db *gorm.DB, code string) (*Account, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	var account Account
	err = db.WithContext(ctx).Where("business_id = ? AND code = ?", businessId, code).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errorf(ErrAccountNotFound, "account code %q", code)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func ListAccounts(ctx context.Context, db *gorm.DB, filter AccountFilter) ([]*Account, error) {
	businessId, err := requireBusinessId(ctx)
	if err != nil {
		return nil, err
	}
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if filter.AccountType != nil {
		dbCtx = dbCtx.Where("account_type = ?", *filter.AccountType)
	}
	if filter.SubType != nil {
		dbCtx = dbCtx.Where("sub_type = ?", *filter.SubType)
	}
	if filter.Status != nil {
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}
	if filter.Name != nil && *filter.Name != "" {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*filter.Name+"%")
	}
	if filter.Code != nil && *filter.Code != "" {
		dbCtx = dbCtx.Where("code LIKE ?", "%"+*filter.Code+"%")
	}
	var results []*Account
	if err := dbCtx.Order("full_code ASC, id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListDescendants returns every account below id, ordered by depth, using the materialized path.
func ListDescendants(ctx context.Context, db *gorm.DB, id int) ([]*Account, error) {
	root, err := GetAccount(ctx, db, id)
	if err != nil {
		return nil, err
	}
	var results []*Account
	err = db.WithContext(ctx).
		Where("business_id = ? AND path LIKE ? AND id <> ?", root.BusinessId, root.Path+"%", root.ID).
		Order("level ASC, full_code ASC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetAccountTree returns the chart of accounts as a forest ordered by code.
func GetAccountTree(ctx context.Context, db *gorm.DB) ([]*AccountNode, error) {
	accounts, err := ListAccounts(ctx, db, AccountFilter{})
	if err != nil {
		return nil, err
	}
	return BuildAccountTree(accounts), nil
}

func BuildAccountTree(accounts []*Account) []*AccountNode {
	nodes := make(map[int]*AccountNode, len(accounts))
	for _, a := range accounts {
		nodes[a.ID] = &AccountNode{Account: a}
	}
	var roots []*AccountNode
	for _, a := range accounts {
		node := nodes[a.ID]
		if parent, ok := nodes[a.ParentAccountId]; ok && a.ParentAccountId > 0 {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}
	var sortNodes func([]*AccountNode)
	sortNodes = func(list []*AccountNode) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Account.Code < list[j].Account.Code })
		for _, n := range list {
			sortNodes(n.Children)
		}
	}
	sortNodes(roots)
	return roots
}

// loadAccountsById fetches the given accounts of a business keyed by id.
func loadAccountsById(tx *gorm.DB, businessId string, ids []int) (map[int]*Account, error) {
	ids = utils.UniqueSlice(ids)
	var accounts []*Account
	if len(ids) > 0 {
		if err := tx.Where("business_id = ? AND id IN ?", businessId, ids).Find(&accounts).Error; err != nil {
			return nil, err
		}
	}
	result := make(map[int]*Account, len(accounts))
	for _, a := range accounts {
		result[a.ID] = a
	}
	return result, nil
}

// LoadAccounts returns every account of the business ordered by id.
func LoadAccounts(tx *gorm.DB, businessId string) ([]*Account, error) {
	var accounts []*Account
	if err := tx.Where("business_id = ?", businessId).Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}
