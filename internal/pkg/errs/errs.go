package errs

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// Sentinel errors shared by the allocation, entitlement and quota packages.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrCapacityExceeded       = errors.New("subscription capacity exceeded")
	ErrAlreadyAllocated       = errors.New("guild is already allocated to another subscription")
	ErrSubscriptionCancelled  = errors.New("subscription is cancelled")
	ErrPremiumRequired        = errors.New("feature requires a premium guild")
	ErrConflictRetryable      = errors.New("concurrent modification, retry the operation")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	ErrSubscriptionNotFound = fmt.Errorf("subscription %w", ErrNotFound)
	ErrGuildNotFound        = fmt.Errorf("guild %w", ErrNotFound)
	ErrAllocationNotFound   = fmt.Errorf("allocation %w", ErrNotFound)
	ErrFeatureNotFound      = fmt.Errorf("feature %w", ErrNotFound)
	ErrGroupMemberNotFound  = fmt.Errorf("group member %w", ErrNotFound)
)

// MySQL server error numbers that indicate the transaction lost a lock race.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// CapacityError reports the usage a failed allocation observed.
type CapacityError struct {
	Used int
	Max  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("subscription capacity exceeded (%d/%d servers in use)", e.Used, e.Max)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

// Classify maps storage-layer errors onto the taxonomy above. Errors that
// already carry one of the sentinels are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if isDomain(err) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrConflictRetryable, err)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDeadlock, mysqlLockWaitTimeout:
			return fmt.Errorf("%w: %v", ErrConflictRetryable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
}

func isDomain(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrAlreadyAllocated) ||
		errors.Is(err, ErrSubscriptionCancelled) ||
		errors.Is(err, ErrPremiumRequired) ||
		errors.Is(err, ErrConflictRetryable) ||
		errors.Is(err, ErrPersistenceUnavailable)
}

// IsNotFound reports whether err is any of the not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the whole operation may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflictRetryable)
}

// IsPersistence reports whether err is a storage failure.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistenceUnavailable)
}
