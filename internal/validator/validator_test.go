package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ierr "github.com/tixello/settlement/internal/errors"
)

type issueRequest struct {
	Currency string `validate:"required,currency"`
	Amount   int64  `validate:"gt=0"`
}

func TestValidateRequest(t *testing.T) {
	require.NoError(t, ValidateRequest(&issueRequest{Currency: "RON", Amount: 100}))

	err := ValidateRequest(&issueRequest{Currency: "ron", Amount: 100})
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))

	err = ValidateRequest(&issueRequest{Currency: "EUR"})
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
}
