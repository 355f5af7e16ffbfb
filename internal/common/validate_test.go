package common

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name,omitempty" validate:"omitempty,max=3"`
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	appErr := Validate(sample{Email: "nope", Name: "toolong"})
	require.NotNil(t, appErr)
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	require.Equal(t, "VALIDATION_ERROR", appErr.Code)

	details, ok := appErr.Details.([]FieldError)
	require.True(t, ok)
	require.ElementsMatch(t, []FieldError{
		{Field: "email", Rule: "email"},
		{Field: "name", Rule: "max", Param: "3"},
	}, details)
}

func TestValidateAcceptsValidInput(t *testing.T) {
	require.Nil(t, Validate(sample{Email: "ana@example.com"}))
}
