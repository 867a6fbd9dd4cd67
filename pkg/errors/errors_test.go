package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrConflict, "submission already cancelled")
	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, "submission already cancelled", err.Message)
	require.Equal(t, "conflict", ErrConflict.Message)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	err := FromError(fmt.Errorf("boom"))
	require.Equal(t, ErrInternal.Code, err.Code)
	require.Equal(t, http.StatusInternalServerError, err.Status)
}

func TestValidationCarriesFields(t *testing.T) {
	err := Validation(map[string][]string{"to_basic_salary": {"Please enter a valid amount"}})
	require.ErrorIs(t, err, ErrValidation)
	require.Len(t, err.Fields, 1)
	require.Nil(t, ErrValidation.Fields)
}

func TestMessageOf(t *testing.T) {
	require.Equal(t, "Employee not found", MessageOf(Clone(ErrUpstream, "Employee not found"), "fallback"))
	require.Equal(t, "fallback", MessageOf(stderrors.New("dial tcp: refused"), "fallback"))
	require.Equal(t, "fallback", MessageOf(Wrap(stderrors.New("x"), ErrInternal.Code, 500, ErrInternal.Message), "fallback"))
	require.Empty(t, MessageOf(nil, "fallback"))
}
