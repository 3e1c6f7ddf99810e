package models

type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
	AccountTypeGain      AccountType = "GAIN"
	AccountTypeLoss      AccountType = "LOSS"
	AccountTypeTemporary AccountType = "TEMPORARY"
)

func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue,
		AccountTypeExpense, AccountTypeGain, AccountTypeLoss, AccountTypeTemporary:
		return true
	}
	return false
}

// DefaultNormalBalance is DEBIT for asset, expense and loss accounts, CREDIT otherwise.
func (t AccountType) DefaultNormalBalance() NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense, AccountTypeLoss:
		return NormalBalanceDebit
	}
	return NormalBalanceCredit
}

// IsIncomeStatement reports whether balances of this type roll into earnings.
func (t AccountType) IsIncomeStatement() bool {
	switch t {
	case AccountTypeRevenue, AccountTypeExpense, AccountTypeGain, AccountTypeLoss:
		return true
	}
	return false
}

type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "DEBIT"
	NormalBalanceCredit NormalBalance = "CREDIT"
)

func (n NormalBalance) IsValid() bool {
	return n == NormalBalanceDebit || n == NormalBalanceCredit
}

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusInactive AccountStatus = "INACTIVE"
	AccountStatusClosed   AccountStatus = "CLOSED"
)

func (s AccountStatus) IsValid() bool {
	return s == AccountStatusActive || s == AccountStatusInactive || s == AccountStatusClosed
}

// AccountSubType is a stable grouping used by statements and cash-flow classification.
type AccountSubType string

const (
	AccountSubTypeNone                  AccountSubType = ""
	AccountSubTypeCash                  AccountSubType = "CASH"
	AccountSubTypeBank                  AccountSubType = "BANK"
	AccountSubTypeAccountsReceivable    AccountSubType = "ACCOUNTS_RECEIVABLE"
	AccountSubTypeInventory             AccountSubType = "INVENTORY"
	AccountSubTypeOtherCurrentAsset     AccountSubType = "OTHER_CURRENT_ASSET"
	AccountSubTypeFixedAsset            AccountSubType = "FIXED_ASSET"
	AccountSubTypeInvestment            AccountSubType = "INVESTMENT"
	AccountSubTypeAccountsPayable       AccountSubType = "ACCOUNTS_PAYABLE"
	AccountSubTypeOtherCurrentLiability AccountSubType = "OTHER_CURRENT_LIABILITY"
	AccountSubTypeLongTermLiability     AccountSubType = "LONG_TERM_LIABILITY"
	AccountSubTypeOwnerEquity           AccountSubType = "OWNER_EQUITY"
	AccountSubTypeRetainedEarnings      AccountSubType = "RETAINED_EARNINGS"
	AccountSubTypeOperatingRevenue      AccountSubType = "OPERATING_REVENUE"
	AccountSubTypeOtherIncome           AccountSubType = "OTHER_INCOME"
	AccountSubTypeCostOfGoodsSold       AccountSubType = "COST_OF_GOODS_SOLD"
	AccountSubTypeOperatingExpense      AccountSubType = "OPERATING_EXPENSE"
	AccountSubTypeDepreciation          AccountSubType = "DEPRECIATION"
	AccountSubTypeAmortization          AccountSubType = "AMORTIZATION"
	AccountSubTypeOtherExpense          AccountSubType = "OTHER_EXPENSE"
)

var subTypesByAccountType = map[AccountType][]AccountSubType{
	AccountTypeAsset: {AccountSubTypeCash, AccountSubTypeBank, AccountSubTypeAccountsReceivable, AccountSubTypeInventory,
		AccountSubTypeOtherCurrentAsset, AccountSubTypeFixedAsset, AccountSubTypeInvestment},
	AccountTypeLiability: {AccountSubTypeAccountsPayable, AccountSubTypeOtherCurrentLiability, AccountSubTypeLongTermLiability},
	AccountTypeEquity:    {AccountSubTypeOwnerEquity, AccountSubTypeRetainedEarnings},
	AccountTypeRevenue:   {AccountSubTypeOperatingRevenue, AccountSubTypeOtherIncome},
	AccountTypeExpense: {AccountSubTypeCostOfGoodsSold, AccountSubTypeOperatingExpense, AccountSubTypeDepreciation,
		AccountSubTypeAmortization, AccountSubTypeOtherExpense},
}

// SubTypeAllowed reports whether s may be attached to an account of type t. The empty subtype is always allowed.
func SubTypeAllowed(t AccountType, s AccountSubType) bool {
	if s == AccountSubTypeNone {
		return true
	}
	for _, allowed := range subTypesByAccountType[t] {
		if allowed == s {
			return true
		}
	}
	return false
}

func (s AccountSubType) IsCurrentAsset() bool {
	switch s {
	case AccountSubTypeAccountsReceivable, AccountSubTypeInventory, AccountSubTypeOtherCurrentAsset:
		return true
	}
	return false
}

func (s AccountSubType) IsCurrentLiability() bool {
	return s == AccountSubTypeAccountsPayable || s == AccountSubTypeOtherCurrentLiability
}

func (s AccountSubType) IsNonCashCharge() bool {
	return s == AccountSubTypeDepreciation || s == AccountSubTypeAmortization
}

type CashflowActivity string

const (
	CashflowActivityNone      CashflowActivity = ""
	CashflowActivityOperating CashflowActivity = "OPERATING"
	CashflowActivityInvesting CashflowActivity = "INVESTING"
	CashflowActivityFinancing CashflowActivity = "FINANCING"
)

func (c CashflowActivity) IsValid() bool {
	switch c {
	case CashflowActivityNone, CashflowActivityOperating, CashflowActivityInvesting, CashflowActivityFinancing:
		return true
	}
	return false
}

type JournalEntryStatus string

const (
	JournalEntryStatusDraft    JournalEntryStatus = "DRAFT"
	JournalEntryStatusPosted   JournalEntryStatus = "POSTED"
	JournalEntryStatusVoid     JournalEntryStatus = "VOID"
	JournalEntryStatusRejected JournalEntryStatus = "REJECTED"
)

// LedgerVisibleStatuses are the statuses whose lines count toward balances.
// A void entry stays visible together with its reversing entry so the two net to zero.
var LedgerVisibleStatuses = []JournalEntryStatus{JournalEntryStatusPosted, JournalEntryStatusVoid}

// JournalEntryKind distinguishes ordinary, period-end adjusting and system reversing entries.
// All kinds share the same status transitions.
type JournalEntryKind string

const (
	JournalEntryKindStandard  JournalEntryKind = "STANDARD"
	JournalEntryKindAdjusting JournalEntryKind = "ADJUSTING"
	JournalEntryKindReversing JournalEntryKind = "REVERSING"
)

func (k JournalEntryKind) IsValid() bool {
	return k == JournalEntryKindStandard || k == JournalEntryKindAdjusting || k == JournalEntryKindReversing
}

type ReconciliationStatus string

const (
	ReconciliationStatusDraft      ReconciliationStatus = "DRAFT"
	ReconciliationStatusInProgress ReconciliationStatus = "IN_PROGRESS"
	ReconciliationStatusCompleted  ReconciliationStatus = "COMPLETED"
)

type MatchType string

const (
	MatchTypeNone   MatchType = ""
	MatchTypeManual MatchType = "MANUAL"
	MatchTypeAuto   MatchType = "AUTO"
	MatchTypeSystem MatchType = "SYSTEM"
)

type ReconciliationSourceType string

const (
	ReconciliationSourceJournalLine     ReconciliationSourceType = "JOURNAL_LINE"
	ReconciliationSourceBankTransaction ReconciliationSourceType = "BANK_TRANSACTION"
)

type LedgerEventType string

const (
	LedgerEventEntryPosted             LedgerEventType = "ENTRY_POSTED"
	LedgerEventEntryVoided             LedgerEventType = "ENTRY_VOIDED"
	LedgerEventPeriodClosed            LedgerEventType = "PERIOD_CLOSED"
	LedgerEventReconciliationCompleted LedgerEventType = "RECONCILIATION_COMPLETED"
)
