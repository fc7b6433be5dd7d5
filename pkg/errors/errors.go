// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Lookup errors
var (
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrContractNotFound    = errors.New("contract not found")
	ErrDisputeNotFound     = errors.New("dispute not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Pool errors
var (
	ErrActiveDispute        = errors.New("active dispute exists for this contract")
	ErrReleaseInProgress    = errors.New("release already in progress for payment")
	ErrNotPending           = errors.New("transaction is not pending")
	ErrNotRefund            = errors.New("transaction is not a refund")
	ErrTransactionFrozen    = errors.New("transaction is already frozen")
	ErrTransactionNotFrozen = errors.New("transaction is not frozen")
	ErrNotFreezable         = errors.New("only completed deposits and holds can be frozen")
	ErrPaymentNotInPool     = errors.New("payment is not held in the pool")
	ErrPendingRetry         = errors.New("a pending release for this payment is awaiting retry")
	ErrNotFundingEntry      = errors.New("only deposit and hold entries can be force released")
)

// Dispute errors
var (
	ErrDisputeAlreadyActive  = errors.New("an active dispute already exists for this contract")
	ErrDisputeClosed         = errors.New("dispute is already resolved or dismissed")
	ErrContractNotDisputable = errors.New("disputes can only be raised on accepted or fulfilled contracts")
	ErrNotContractParty      = errors.New("user is not a party to the contract")
	ErrInvalidResolution     = errors.New("invalid resolution")
	ErrInvalidRefundAmount   = errors.New("invalid refund amount")
	ErrNoRaiserPayment       = errors.New("no pooled payment found for dispute raiser")
	ErrInvalidTransition     = errors.New("invalid dispute status transition")
	ErrInvalidDisputeReason  = errors.New("dispute reason must be between 10 and 2000 characters")
)

// Request errors
var (
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
