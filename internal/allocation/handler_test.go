package allocation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/groupspend/groupspend/internal/shared"
)

func serve(t *testing.T, svc *Service, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(shared.ContextWithUserID(req.Context(), user))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerReplaceExpenses(t *testing.T) {
	f := newFixture()
	body := `{"expenses":[{"name":"Pizza","amount":{"minor":1800,"currency":"USD"},
"shares":[{"user_id":"alice","amount":{"minor":900,"currency":"USD"}},{"user_id":"bob","amount":{"minor":900,"currency":"USD"}}]}]}`

	rec := serve(t, f.svc, http.MethodPut, "/receipts/r1/expenses", "alice", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.repo.expenses["r1"], 1)
}

func TestHandlerReplaceExpensesMismatch(t *testing.T) {
	f := newFixture()
	body := `{"expenses":[{"name":"Pizza","amount":{"minor":1800,"currency":"USD"},
"shares":[{"user_id":"alice","amount":{"minor":900,"currency":"USD"}}]}]}`

	rec := serve(t, f.svc, http.MethodPut, "/receipts/r1/expenses", "alice", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem struct {
		Errors []shared.FieldError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "expenses[0].shares", problem.Errors[0].Field)
	require.Empty(t, f.repo.expenses["r1"])
}

func TestHandlerRejectsUnknownFields(t *testing.T) {
	f := newFixture()
	rec := serve(t, f.svc, http.MethodPut, "/receipts/r1/expenses", "alice", `{"expenses":[],"extra":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerEqualSplit(t *testing.T) {
	f := newFixture()
	rec := serve(t, f.svc, http.MethodPost, "/receipts/r1/expenses/equal-split", "bob",
		`{"amount":{"minor":301,"currency":"USD"},"members":["bob","carol"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Shares []Share `json:"shares"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, []Share{{UserID: "bob", Amount: usd(151)}, {UserID: "carol", Amount: usd(150)}}, out.Shares)
}

func TestHandlerValidateDoesNotWrite(t *testing.T) {
	f := newFixture()
	body := `{"expenses":[{"name":"Soda","amount":{"minor":301,"currency":"USD"},
"shares":[{"user_id":"carol","amount":{"minor":301,"currency":"USD"}}]}]}`
	rec := serve(t, f.svc, http.MethodPost, "/receipts/r1/expenses/validate", "alice", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Valid)
	require.Zero(t, f.repo.commits)
}

func TestHandlerForbiddenForOutsider(t *testing.T) {
	f := newFixture()
	rec := serve(t, f.svc, http.MethodGet, "/receipts/r1/expenses", "mallory", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}
