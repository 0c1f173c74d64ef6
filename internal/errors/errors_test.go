package appErrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersistenceError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("ingest: %w", NewPersistence("upsert customer", cause))

	assert.True(t, IsPersistence(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ingest: persistence: upsert customer: connection refused", err.Error())
}

func TestCollaboratorError_Matching(t *testing.T) {
	err := NewCollaborator(Generation, errors.New("timeout"))

	assert.True(t, IsCollaborator(err, Generation))
	assert.True(t, IsCollaborator(err, ""))
	assert.False(t, IsCollaborator(err, Delivery))
	assert.False(t, IsPersistence(err))
}

func TestNilCauses(t *testing.T) {
	assert.Nil(t, NewPersistence("op", nil))
	assert.Nil(t, NewCollaborator(Discount, nil))
}

func TestValidationError(t *testing.T) {
	err := NewValidation("id", "checkout id is required")

	assert.True(t, IsValidation(err))
	assert.EqualError(t, err, "invalid id: checkout id is required")
	assert.EqualError(t, NewConfiguration("GRAPH_CLIENT_ID"), "missing configuration: GRAPH_CLIENT_ID")
}
