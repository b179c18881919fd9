package receipts

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/groupspend/groupspend/internal/shared"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type stubQueue struct {
	requests []ScanRequest
}

func (q *stubQueue) EnqueueScan(_ context.Context, req ScanRequest) (string, error) {
	q.requests = append(q.requests, req)
	return "task-1", nil
}

func newTestRouter(t *testing.T, svc *Service, queue ScanQueue) http.Handler {
	t.Helper()
	guard := memberSet{"g1": {"alice": true}}
	h := NewHandler(nil, svc, guard, queue, HandlerConfig{MaxImageBytes: 1 << 10})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if user := req.Header.Get("X-Test-User"); user != "" {
				req = req.WithContext(shared.ContextWithUserID(req.Context(), user))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.MountRoutes(r)
	return r
}

func multipartImage(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("image", "receipt.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestHandlerCreateReceipt(t *testing.T) {
	svc := NewService(newMemoryReceiptRepo(), memberSet{"g1": {"alice": true}}, NewParser("USD", decimal.NewFromInt(25)), nil)
	router := newTestRouter(t, svc, nil)

	payload := `{"title":"Lunch","total_amount":{"minor":1000,"currency":"USD"},"currency":"USD","date":"2024-04-02",
"items":[{"name":"Soup","quantity":2,"unit_price":{"minor":500,"currency":"USD"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/groups/g1/receipts", strings.NewReader(payload))
	req.Header.Set("X-Test-User", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var draft Draft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	require.Equal(t, "Lunch", draft.Receipt.Title)
	require.NotEmpty(t, draft.Receipt.ID)
}

func TestHandlerCreateReceiptValidation(t *testing.T) {
	svc := NewService(newMemoryReceiptRepo(), memberSet{"g1": {"alice": true}}, NewParser("USD", decimal.NewFromInt(25)), nil)
	router := newTestRouter(t, svc, nil)

	payload := `{"title":"","total_amount":{"minor":1000,"currency":"USD"},"currency":"USD","date":"nope","items":[]}`
	req := httptest.NewRequest(http.MethodPost, "/groups/g1/receipts", strings.NewReader(payload))
	req.Header.Set("X-Test-User", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var problem struct {
		Errors []shared.FieldError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Len(t, problem.Errors, 2)
}

func TestHandlerGetForbiddenForOutsider(t *testing.T) {
	repo := newMemoryReceiptRepo()
	svc := NewService(repo, memberSet{"g1": {"alice": true}}, NewParser("USD", decimal.NewFromInt(25)), nil)
	draft, err := svc.Create(context.Background(), ReceiptInput{
		Title: "x", TotalAmount: validInput().TotalAmount, Currency: "USD", Date: "2024-01-01", GroupID: "g1", UploadedBy: "alice",
	})
	require.NoError(t, err)
	router := newTestRouter(t, svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/receipts/"+draft.Receipt.ID, nil)
	req.Header.Set("X-Test-User", "mallory")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerParseUpload(t *testing.T) {
	svc := NewService(newMemoryReceiptRepo(), memberSet{"g1": {"alice": true}}, NewParser("USD", decimal.NewFromInt(25)), nil).
		WithExtractor(&stubExtractor{payload: []byte(`{"title":"Bakery","totalAmount":4,"items":[{"name":"Bun","price":4}]}`)})
	router := newTestRouter(t, svc, nil)

	body, contentType := multipartImage(t, pngHeader)
	req := httptest.NewRequest(http.MethodPost, "/groups/g1/receipts/parse", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Test-User", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var draft Draft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	require.Equal(t, "Bakery", draft.Receipt.Title)
	require.Empty(t, draft.Receipt.ID)
}

func TestHandlerParseRejectsNonImage(t *testing.T) {
	svc := NewService(newMemoryReceiptRepo(), memberSet{"g1": {"alice": true}}, NewParser("USD", decimal.NewFromInt(25)), nil).
		WithExtractor(&stubExtractor{})
	router := newTestRouter(t, svc, nil)

	body, contentType := multipartImage(t, []byte("just some text"))
	req := httptest.NewRequest(http.MethodPost, "/groups/g1/receipts/parse", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Test-User", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerScanQueuesImage(t *testing.T) {
	svc := NewService(newMemoryReceiptRepo(), memberSet{"g1": {"alice": true}}, NewParser("USD", decimal.NewFromInt(25)), nil)
	queue := &stubQueue{}
	router := newTestRouter(t, svc, queue)

	body, contentType := multipartImage(t, pngHeader)
	req := httptest.NewRequest(http.MethodPost, "/groups/g1/receipts/scan", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Test-User", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, queue.requests, 1)
	require.Equal(t, "image/png", queue.requests[0].MimeType)
	require.Equal(t, "alice", queue.requests[0].UploadedBy)
}

func TestHandlerScanWithoutQueue(t *testing.T) {
	svc := NewService(newMemoryReceiptRepo(), memberSet{"g1": {"alice": true}}, NewParser("USD", decimal.NewFromInt(25)), nil)
	router := newTestRouter(t, svc, nil)

	body, contentType := multipartImage(t, pngHeader)
	req := httptest.NewRequest(http.MethodPost, "/groups/g1/receipts/scan", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Test-User", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerCandidatePreviewAndSave(t *testing.T) {
	repo := newMemoryReceiptRepo()
	svc := NewService(repo, memberSet{"g1": {"alice": true}}, NewParser("USD", decimal.NewFromInt(25)), nil)
	router := newTestRouter(t, svc, nil)
	payload := "```json\n{\"title\":\"Cafe\",\"totalAmount\":12.5,\"items\":[{\"name\":\"Coffee\"}]}\n```"

	req := httptest.NewRequest(http.MethodPost, "/groups/g1/receipts/candidate", strings.NewReader(payload))
	req.Header.Set("X-Test-User", "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Empty(t, repo.receipts)

	req = httptest.NewRequest(http.MethodPost, "/groups/g1/receipts/candidate?save=true", strings.NewReader(payload))
	req.Header.Set("X-Test-User", "alice")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var draft Draft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	require.NotEmpty(t, draft.Receipt.ID)
	require.Equal(t, int64(1250), draft.Receipt.TotalAmount.Minor)
	require.Len(t, repo.receipts, 1)
}

func TestHandlerCandidateSaveRequiresMembership(t *testing.T) {
	repo := newMemoryReceiptRepo()
	svc := NewService(repo, memberSet{"g1": {"alice": true}}, NewParser("USD", decimal.NewFromInt(25)), nil)
	router := newTestRouter(t, svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/groups/g1/receipts/candidate?save=true",
		strings.NewReader(`{"title":"Cafe","totalAmount":3,"items":[]}`))
	req.Header.Set("X-Test-User", "mallory")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, repo.receipts)
}

type memoryKeys struct {
	claimed  map[string]bool
	released int
}

func (m *memoryKeys) Claim(_ context.Context, scope, key string) error {
	if m.claimed[scope+"/"+key] {
		return shared.ErrConflict
	}
	m.claimed[scope+"/"+key] = true
	return nil
}

func (m *memoryKeys) Release(_ context.Context, scope, key string) error {
	delete(m.claimed, scope+"/"+key)
	m.released++
	return nil
}

func TestHandlerCreateIsIdempotent(t *testing.T) {
	repo := newMemoryReceiptRepo()
	svc := NewService(repo, memberSet{"g1": {"alice": true}}, NewParser("USD", decimal.NewFromInt(25)), nil)
	keys := &memoryKeys{claimed: map[string]bool{}}
	h := NewHandler(nil, svc, memberSet{"g1": {"alice": true}}, nil, HandlerConfig{}).WithIdempotency(keys)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithUserID(req.Context(), "alice")))
		})
	})
	h.MountRoutes(r)

	post := func(payload string) int {
		req := httptest.NewRequest(http.MethodPost, "/groups/g1/receipts", strings.NewReader(payload))
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}
	valid := `{"title":"Lunch","total_amount":{"minor":500,"currency":"USD"},"date":"2024-04-02",
"items":[{"name":"Soup","quantity":1,"unit_price":{"minor":500,"currency":"USD"}}]}`
	invalid := `{"title":"Lunch","total_amount":{"minor":500,"currency":"USD"},"date":"never"}`

	require.Equal(t, http.StatusUnprocessableEntity, post(invalid))
	require.Equal(t, 1, keys.released, "failed requests give the key back")

	require.Equal(t, http.StatusCreated, post(valid))
	require.Equal(t, http.StatusConflict, post(valid))
	require.Len(t, repo.receipts, 1)
}
