package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation_MatchesCode23505(t *testing.T) {
	err := &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
	assert.True(t, isUniqueViolation(err))
}

func TestIsUniqueViolation_RejectsOtherPqCodes(t *testing.T) {
	err := &pq.Error{Code: "23503", Message: "foreign key violation"}
	assert.False(t, isUniqueViolation(err))
}

func TestIsUniqueViolation_RejectsNonPqErrors(t *testing.T) {
	assert.False(t, isUniqueViolation(fmt.Errorf("boom")))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}

func TestIsUniqueViolation_UnwrapsWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("insert book: %w", &pq.Error{Code: "23505"})
	assert.True(t, isUniqueViolation(wrapped))
}
