package service

import (
	"errors"
	"fmt"
	"strings"
)

// Expected business errors. The HTTP layer maps each kind to a status code;
// none of them are fatal.
var (
	ErrAccountNotFound  = errors.New("credit account not found")
	ErrWeddingNotFound  = errors.New("wedding not found")
	ErrAlreadyPublished = errors.New("wedding is already published")
	ErrAlreadyArchived  = errors.New("wedding is already archived")
	ErrNotPublished     = errors.New("wedding is not published")
	ErrDuplicateRequest = errors.New("request already processed")
	ErrInvalidAmount    = errors.New("amount must be a positive integer")
)

// InsufficientCreditsError reports the exact shortfall so the caller can tell
// the admin precisely how many credits are missing.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// NegativeBalanceError rejects an adjustment that would drive total_credits
// below zero.
type NegativeBalanceError struct {
	Resulting int64
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("adjustment would drive total credits to %d", e.Resulting)
}

// NotReadyError carries the list of missing items blocking a publish.
type NotReadyError struct {
	Missing []string
}

func (e *NotReadyError) Error() string {
	return "wedding is not ready to publish: missing " + strings.Join(e.Missing, ", ")
}
