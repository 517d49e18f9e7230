package domain

import (
	"errors"
	"fmt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors: compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Validation errors: the request itself is malformed or incomplete.
var (
	// ErrValidation is the generic validation failure. More specific sentinels
	// below are classified the same way by IsValidation.
	ErrValidation = errors.New("validation failed")

	// ErrBetNotEligible is returned when matching is attempted for a bet that is
	// neither verified nor already matched.
	ErrBetNotEligible = errors.New("bet is not eligible for matching")

	// ErrMissingOutcome is returned when a settlement preview lacks an outcome
	// for one of the surebet's bets.
	ErrMissingOutcome = errors.New("missing outcome for linked bet")

	// ErrInvalidOutcome is returned for outcomes other than WON, LOST or VOID.
	ErrInvalidOutcome = errors.New("invalid outcome: must be WON, LOST or VOID")

	// ErrUnresolvableStake is returned when neither a native nor an EUR stake is
	// recorded on a bet.
	ErrUnresolvableStake = errors.New("bet stake cannot be resolved")

	// ErrUnresolvableOdds is returned when neither normalized nor original odds
	// are recorded on a bet.
	ErrUnresolvableOdds = errors.New("bet odds cannot be resolved")

	// ErrPreviewMismatch is returned when a preview handed to Commit does not
	// cover exactly the bets currently linked to the surebet.
	ErrPreviewMismatch = errors.New("settlement preview does not match surebet bets")

	// ErrZeroAmount is returned for corrections or funding of exactly zero.
	ErrZeroAmount = errors.New("amount must not be zero")

	// ErrEmptyNote is returned when a correction carries no note.
	ErrEmptyNote = errors.New("note must not be empty")

	// ErrUnsupportedCurrency is returned for currencies outside the configured set.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrBookmakerMismatch is returned when a bookmaker does not belong to the
	// associate it is used with.
	ErrBookmakerMismatch = errors.New("bookmaker does not belong to associate")

	// ErrSelfCounterparty is returned when an associate is named as its own
	// counterparty.
	ErrSelfCounterparty = errors.New("counterparty must differ from associate")

	// ErrFXRateMissing is returned when no FX snapshot exists for a currency.
	ErrFXRateMissing = errors.New("fx rate unavailable")
)

// Not-found errors.
var (
	ErrBetNotFound        = errors.New("bet not found")
	ErrSurebetNotFound    = errors.New("surebet not found")
	ErrAssociateNotFound  = errors.New("associate not found")
	ErrBookmakerNotFound  = errors.New("bookmaker not found")
	ErrEntryNotFound      = errors.New("ledger entry not found")
	ErrLinkNotFound       = errors.New("settlement link not found")
	ErrCounterpartyAbsent = errors.New("counterparty associate not found")
)

// Integrity violations: the operation would break an invariant of stored data.
var (
	// ErrLedgerImmutable is returned for any attempt to update or delete a
	// ledger entry.
	ErrLedgerImmutable = errors.New("ledger entries are append-only")

	// ErrSideImmutable is returned when a bet is re-linked to a surebet with a
	// different side tag.
	ErrSideImmutable = errors.New("surebet side assignment is immutable")

	// ErrBetAlreadyLinked is returned when a bet is linked to a second surebet.
	ErrBetAlreadyLinked = errors.New("bet is already linked to another surebet")

	// ErrInvalidTransition is returned for a bet status change outside the
	// allowed lifecycle.
	ErrInvalidTransition = errors.New("invalid bet status transition")

	// ErrProvenanceUnresolvable is returned when a settlement link cannot be
	// rebuilt from ledger rows.
	ErrProvenanceUnresolvable = errors.New("settlement provenance cannot be reconstructed")
)

// Conflict errors: valid request, but the current state does not allow it.
var (
	// ErrSurebetNotOpen is returned when committing a surebet that is already
	// settled or cancelled.
	ErrSurebetNotOpen = errors.New("surebet is not open")

	// ErrLinkExists is returned when a surebet already has a settlement link.
	ErrLinkExists = errors.New("settlement link already exists")

	// ErrDuplicateResult is returned when a second BET_RESULT is written for
	// the same bet.
	ErrDuplicateResult = errors.New("bet already has a settlement result")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller lacks the required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenExpired is returned when a JWT has passed its TTL.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")
)

// ──────────────────────────────────────────────────────────────────────────────
// TransactionError
// ──────────────────────────────────────────────────────────────────────────────

// TransactionError reports an unexpected failure inside a multi-write
// operation. The surrounding transaction has been rolled back when it is
// returned.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: transaction rolled back: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// AsTransactionError wraps err unless it is already classified, in which case
// it is returned unchanged so callers keep the original category.
func AsTransactionError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) || IsNotFound(err) || IsIntegrity(err) || IsConflict(err) {
		return err
	}
	var te *TransactionError
	if errors.As(err, &te) {
		return err
	}
	return &TransactionError{Op: op, Err: err}
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

var validationErrors = []error{
	ErrValidation,
	ErrBetNotEligible,
	ErrMissingOutcome,
	ErrInvalidOutcome,
	ErrUnresolvableStake,
	ErrUnresolvableOdds,
	ErrPreviewMismatch,
	ErrZeroAmount,
	ErrEmptyNote,
	ErrUnsupportedCurrency,
	ErrBookmakerMismatch,
	ErrSelfCounterparty,
	ErrFXRateMissing,
}

var notFoundErrors = []error{
	ErrBetNotFound,
	ErrSurebetNotFound,
	ErrAssociateNotFound,
	ErrBookmakerNotFound,
	ErrEntryNotFound,
	ErrLinkNotFound,
	ErrCounterpartyAbsent,
}

var integrityErrors = []error{
	ErrLedgerImmutable,
	ErrSideImmutable,
	ErrBetAlreadyLinked,
	ErrInvalidTransition,
	ErrProvenanceUnresolvable,
}

var conflictErrors = []error{
	ErrSurebetNotOpen,
	ErrLinkExists,
	ErrDuplicateResult,
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is a request validation failure (HTTP 400).
func IsValidation(err error) bool { return isAny(err, validationErrors) }

// IsNotFound reports whether err is one of the domain "not found" errors.
func IsNotFound(err error) bool { return isAny(err, notFoundErrors) }

// IsIntegrity reports whether err is an integrity violation.
func IsIntegrity(err error) bool { return isAny(err, integrityErrors) }

// IsConflict reports whether err is a state conflict such as a re-commit.
func IsConflict(err error) bool { return isAny(err, conflictErrors) }

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	return isAny(err, []error{ErrUnauthorized, ErrForbidden, ErrTokenExpired, ErrTokenInvalid})
}
