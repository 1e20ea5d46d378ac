package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProblemWritesProblemJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	Problem(rr, http.StatusConflict, "Conflict", "number already allocated")

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	var pd ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pd))
	require.Equal(t, "about:blank", pd.Type)
	require.Equal(t, "Conflict", pd.Title)
	require.Equal(t, http.StatusConflict, pd.Status)
	require.Equal(t, "number already allocated", pd.Detail)
}

func TestJSONWritesPlainJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON(rr, http.StatusCreated, map[string]int{"id": 7})

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.JSONEq(t, `{"id":7}`, rr.Body.String())
}

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: offer 1", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: already finalized", ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: amount must be positive", ErrValidation), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code)
	}
}
