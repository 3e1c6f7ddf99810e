package models

import (
	"errors"
	"fmt"

	"github.com/bsm/redislock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// ErrorKind groups ledger failures by how a caller should react to them.
type ErrorKind string

const (
	// KindValidation is malformed or missing input, rejected before any write.
	KindValidation ErrorKind = "VALIDATION_ERROR"
	// KindInvariantViolation is input that would break a ledger invariant.
	KindInvariantViolation ErrorKind = "INVARIANT_VIOLATION"
	// KindStateConflict is an operation that is illegal in the target's current state.
	KindStateConflict ErrorKind = "STATE_CONFLICT"
	KindNotFound      ErrorKind = "NOT_FOUND"
	// KindConcurrencyConflict is a serialization failure; the whole operation may be retried.
	KindConcurrencyConflict ErrorKind = "CONCURRENCY_CONFLICT"
)

// LedgerError is the only error type the ledger core returns for domain failures.
// errors.Is matches on Code, so wrapped instances compare equal to the exported sentinels.
type LedgerError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *LedgerError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *LedgerError) Unwrap() error { return e.Err }

func (e *LedgerError) Is(target error) bool {
	var t *LedgerError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Retryable is true only for concurrency conflicts.
func (e *LedgerError) Retryable() bool { return e.Kind == KindConcurrencyConflict }

func newLedgerError(kind ErrorKind, code string) *LedgerError {
	return &LedgerError{Kind: kind, Code: code}
}

var (
	ErrValidation                 = newLedgerError(KindValidation, "ValidationError")
	ErrInvalidLine                = newLedgerError(KindInvariantViolation, "InvalidLine")
	ErrUnbalancedEntry            = newLedgerError(KindInvariantViolation, "UnbalancedEntry")
	ErrInvalidAccount             = newLedgerError(KindValidation, "InvalidAccount")
	ErrDuplicateCode              = newLedgerError(KindValidation, "DuplicateCode")
	ErrInvalidParent              = newLedgerError(KindInvariantViolation, "InvalidParent")
	ErrAccountInUse               = newLedgerError(KindStateConflict, "AccountInUse")
	ErrSystemAccount              = newLedgerError(KindStateConflict, "SystemAccount")
	ErrInvalidDateRange           = newLedgerError(KindValidation, "InvalidDateRange")
	ErrPeriodClosed               = newLedgerError(KindStateConflict, "PeriodClosed")
	ErrPeriodAlreadyClosed        = newLedgerError(KindStateConflict, "PeriodAlreadyClosed")
	ErrPeriodOverlap              = newLedgerError(KindInvariantViolation, "PeriodOverlap")
	ErrInvalidStateTransition     = newLedgerError(KindStateConflict, "InvalidStateTransition")
	ErrApprovalRequired           = newLedgerError(KindStateConflict, "ApprovalRequired")
	ErrImmutableLedger            = newLedgerError(KindInvariantViolation, "ImmutableLedger")
	ErrNoCashAccountConfigured    = newLedgerError(KindStateConflict, "NoCashAccountConfigured")
	ErrUnmatchedItemsRemain       = newLedgerError(KindStateConflict, "UnmatchedItemsRemain")
	ErrReconciliationNotDraft     = newLedgerError(KindStateConflict, "ReconciliationNotDraft")
	ErrReconciliationUnbalanced   = newLedgerError(KindStateConflict, "ReconciliationOutOfBalance")
	ErrAccountNotFound            = newLedgerError(KindNotFound, "AccountNotFound")
	ErrJournalEntryNotFound       = newLedgerError(KindNotFound, "JournalEntryNotFound")
	ErrPeriodNotFound             = newLedgerError(KindNotFound, "PeriodNotFound")
	ErrReconciliationNotFound     = newLedgerError(KindNotFound, "ReconciliationNotFound")
	ErrReconciliationItemNotFound = newLedgerError(KindNotFound, "ReconciliationItemNotFound")
	ErrConcurrencyConflict        = newLedgerError(KindConcurrencyConflict, "ConcurrencyConflict")
)

// errorf derives a detailed error from a sentinel.
func errorf(sentinel *LedgerError, format string, args ...any) *LedgerError {
	return &LedgerError{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorKindOf reports the kind of a ledger error, or "" for anything else.
func ErrorKindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// TranslateDBError maps driver-level serialization failures to ErrConcurrencyConflict
// and lets every other error through unchanged.
func TranslateDBError(err error) error {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return &LedgerError{Kind: KindConcurrencyConflict, Code: ErrConcurrencyConflict.Code, Message: mysqlErr.Message, Err: err}
		}
	}
	if errors.Is(err, redislock.ErrNotObtained) {
		return &LedgerError{Kind: KindConcurrencyConflict, Code: ErrConcurrencyConflict.Code, Message: "posting lock busy", Err: err}
	}
	return err
}

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDuplicateEntry
	}
	return false
}
