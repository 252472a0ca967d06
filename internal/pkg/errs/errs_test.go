package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"record not found", gorm.ErrRecordNotFound, ErrNotFound},
		{"deadlock", &mysql.MySQLError{Number: 1213}, ErrConflictRetryable},
		{"lock wait timeout", &mysql.MySQLError{Number: 1205}, ErrConflictRetryable},
		{"deadline", context.DeadlineExceeded, ErrConflictRetryable},
		{"duplicate key", &mysql.MySQLError{Number: 1062}, ErrPersistenceUnavailable},
		{"connection", errors.New("dial tcp: connection refused"), ErrPersistenceUnavailable},
		{"domain error kept", ErrAlreadyAllocated, ErrAlreadyAllocated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Classify(tt.in), tt.want)
		})
	}
	assert.NoError(t, Classify(nil))
}

func TestCapacityErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("allocate: %w", &CapacityError{Used: 3, Max: 3})

	assert.ErrorIs(t, err, ErrCapacityExceeded)
	var capErr *CapacityError
	assert.True(t, errors.As(err, &capErr))
	assert.Equal(t, 3, capErr.Max)
	assert.Contains(t, err.Error(), "3/3")
}
