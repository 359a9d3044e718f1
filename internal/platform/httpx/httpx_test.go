package httpx_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/ledgerdesk/internal/platform/httpx"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{shared.NewValidationError("name", "is required"), http.StatusBadRequest},
		{fmt.Errorf("%w: bad", shared.ErrValidation), http.StatusBadRequest},
		{shared.ErrUnauthorized, http.StatusUnauthorized},
		{shared.ErrInvalidCredentials, http.StatusUnauthorized},
		{fmt.Errorf("%w: sale", shared.ErrForbidden), http.StatusForbidden},
		{shared.ErrCSRFTokenMismatch, http.StatusForbidden},
		{fmt.Errorf("sale: %w", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: Completed -> Draft", shared.ErrInvalidTransition), http.StatusConflict},
		{shared.ErrNegativeStock, http.StatusConflict},
		{shared.ErrIdempotencyConflict, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, httpx.StatusFor(tc.err), tc.err.Error())
	}
}

func TestRespondErrorMasksInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	httpx.RespondError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil, errors.New("pq: connection refused"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"internal error"}`, rec.Body.String())
}

func TestRespondErrorIncludesFields(t *testing.T) {
	rec := httptest.NewRecorder()
	httpx.RespondError(rec, httptest.NewRequest(http.MethodPost, "/", nil), nil, shared.NewValidationError("quantity", "must be gt 0"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body httpx.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "must be gt 0", body.Fields["quantity"])
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","quantity":5}`))
	err := httpx.DecodeJSON(httptest.NewRecorder(), req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	err = httpx.DecodeJSON(httptest.NewRecorder(), req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestValidatorUsesJSONFieldNames(t *testing.T) {
	type item struct {
		Quantity int `json:"quantity" validate:"gt=0"`
	}
	type input struct {
		Items []item `json:"items" validate:"required,min=1,dive"`
	}
	err := httpx.NewValidator().Struct(input{Items: []item{{Quantity: 0}}})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "must be gt 0", verr.Fields["items[0].quantity"])
}
