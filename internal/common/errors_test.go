package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteErrorUsesAppError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("checkout: %w", NewAppError("PRODUCT_NOT_FOUND", "unknown product", http.StatusNotFound, cause).WithDetails(map[string]string{"productId": "x"}))

	rr := httptest.NewRecorder()
	WriteError(rr, err)

	require.Equal(t, http.StatusNotFound, rr.Code)
	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "PRODUCT_NOT_FOUND", body.Error.Code)
	require.Equal(t, "unknown product", body.Error.Message)
	require.True(t, errors.Is(err, cause))
}

func TestWriteErrorHidesUnknownErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("dial tcp 10.0.0.1: refused"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "10.0.0.1")
	require.Contains(t, rr.Body.String(), "INTERNAL")
}
