// Package domainerr holds the typed errors shared by the quota, session and
// token packages. Each typed error matches its sentinel through errors.Is.
package domainerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("not_found")
	ErrDuplicatePurchase   = errors.New("duplicate_purchase")
	ErrBandwidthExceeded   = errors.New("bandwidth_exceeded")
	ErrDeviceLimitExceeded = errors.New("device_limit_exceeded")
	ErrSubscriptionExpired = errors.New("subscription_expired")
	ErrInvalidProduct      = errors.New("invalid_product")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrPaymentFailed       = errors.New("payment_failed")
)

type NotFoundError struct {
	Entity string
	ID     string
}

func NotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DuplicatePurchaseError signals a replayed purchase token. Callers treat it
// as an already-succeeded purchase.
type DuplicatePurchaseError struct {
	Token string
}

func (e *DuplicatePurchaseError) Error() string {
	return fmt.Sprintf("purchase token %q already processed", e.Token)
}

func (e *DuplicatePurchaseError) Is(target error) bool { return target == ErrDuplicatePurchase }

type BandwidthExceededError struct {
	Used  int64
	Limit int64
}

func (e *BandwidthExceededError) Error() string {
	return fmt.Sprintf("bandwidth quota exceeded: used %d of %d bytes", e.Used, e.Limit)
}

func (e *BandwidthExceededError) Is(target error) bool { return target == ErrBandwidthExceeded }

type DeviceLimitExceededError struct {
	Active int64
	Limit  int64
}

func (e *DeviceLimitExceededError) Error() string {
	return fmt.Sprintf("device limit reached: %d of %d active sessions", e.Active, e.Limit)
}

func (e *DeviceLimitExceededError) Is(target error) bool { return target == ErrDeviceLimitExceeded }

type SubscriptionExpiredError struct {
	SubscriptionID string
	EndDate        *time.Time
}

func (e *SubscriptionExpiredError) Error() string {
	if e.EndDate == nil {
		return fmt.Sprintf("subscription %s is not active", e.SubscriptionID)
	}
	return fmt.Sprintf("subscription %s expired at %s", e.SubscriptionID, e.EndDate.UTC().Format(time.RFC3339))
}

func (e *SubscriptionExpiredError) Is(target error) bool { return target == ErrSubscriptionExpired }

// IsPolicyViolation reports errors that block a connection attempt.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, ErrBandwidthExceeded) ||
		errors.Is(err, ErrDeviceLimitExceeded) ||
		errors.Is(err, ErrSubscriptionExpired)
}
