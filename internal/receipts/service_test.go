package receipts

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/shared"
)

type memoryReceiptRepo struct {
	receipts map[string]Receipt
	nextID   int
	failWith error
}

func newMemoryReceiptRepo() *memoryReceiptRepo {
	return &memoryReceiptRepo{receipts: make(map[string]Receipt)}
}

func (r *memoryReceiptRepo) CreateReceipt(_ context.Context, rec Receipt) (Receipt, error) {
	if r.failWith != nil {
		return Receipt{}, r.failWith
	}
	r.nextID++
	rec.ID = "r" + strconv.Itoa(r.nextID)
	for i := range rec.Items {
		rec.Items[i].ID = rec.ID + "-" + strconv.Itoa(i)
	}
	r.receipts[rec.ID] = rec
	return rec, nil
}

func (r *memoryReceiptRepo) FindReceipt(_ context.Context, id string) (Receipt, error) {
	rec, ok := r.receipts[id]
	if !ok {
		return Receipt{}, shared.ErrNotFound
	}
	return rec, nil
}

func (r *memoryReceiptRepo) ListByGroup(_ context.Context, groupID string) ([]Receipt, error) {
	var out []Receipt
	for _, rec := range r.receipts {
		if rec.GroupID == groupID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryReceiptRepo) ListActiveGroupIDs(_ context.Context, since time.Time) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range r.receipts {
		if !rec.CreatedAt.Before(since) && !seen[rec.GroupID] {
			seen[rec.GroupID] = true
			out = append(out, rec.GroupID)
		}
	}
	return out, nil
}

type memberSet map[string]map[string]bool

func (m memberSet) RequireMember(_ context.Context, groupID, userID string) error {
	if m[groupID][userID] {
		return nil
	}
	return shared.ErrForbidden
}

type stubExtractor struct {
	payload []byte
	err     error
	calls   int
}

func (s *stubExtractor) ExtractReceipt(context.Context, []byte, string) ([]byte, error) {
	s.calls++
	return s.payload, s.err
}

type recordingPublisher struct {
	keys     []string
	payloads []any
}

func (p *recordingPublisher) Publish(_ context.Context, key string, payload any) error {
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, payload)
	return nil
}

type countingRecorder struct {
	created     map[string]int
	extractions map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{created: map[string]int{}, extractions: map[string]int{}}
}

func (c *countingRecorder) ObserveReceiptCreated(source string) { c.created[source]++ }
func (c *countingRecorder) ObserveExtraction(outcome string)    { c.extractions[outcome]++ }

func newTestService() (*Service, *memoryReceiptRepo) {
	repo := newMemoryReceiptRepo()
	guard := memberSet{"g1": {"alice": true, "bob": true}}
	svc := NewService(repo, guard, NewParser("USD", decimal.NewFromInt(25)), nil)
	return svc, repo
}

func TestServiceCreateStoresAndPublishes(t *testing.T) {
	svc, repo := newTestService()
	pub := &recordingPublisher{}
	rec := newCountingRecorder()
	svc.WithPublisher(pub).WithRecorder(rec)

	draft, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.NotEmpty(t, draft.Receipt.ID)
	require.Contains(t, repo.receipts, draft.Receipt.ID)
	require.Equal(t, []string{EventReceiptCreated}, pub.keys)
	evt, ok := pub.payloads[0].(CreatedEvent)
	require.True(t, ok)
	require.Equal(t, int64(700), evt.TotalMinor)
	require.Equal(t, 1, rec.created["manual"])
}

func TestServiceCreateDefaultsCurrency(t *testing.T) {
	svc, _ := newTestService()
	in := validInput()
	in.Currency = ""
	in.TotalAmount = money.Money{Minor: 700}
	for i := range in.Items {
		in.Items[i].UnitPrice.Currency = ""
	}
	draft, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "USD", draft.Receipt.Currency)
}

func TestServiceCreateRequiresMembership(t *testing.T) {
	svc, repo := newTestService()
	in := validInput()
	in.UploadedBy = "mallory"
	_, err := svc.Create(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.Empty(t, repo.receipts)
}

func TestServiceCreateWrapsStorageFailure(t *testing.T) {
	svc, repo := newTestService()
	repo.failWith = errors.New("disk full")
	_, err := svc.Create(context.Background(), validInput())
	var se *shared.StorageError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "create receipt", se.Op)
}

func TestServiceExtractAndCreate(t *testing.T) {
	svc, repo := newTestService()
	ex := &stubExtractor{payload: []byte("```json\n{\"title\":\"Taxi\",\"totalAmount\":18,\"items\":[{\"name\":\"Ride\",\"price\":18}]}\n```")}
	rec := newCountingRecorder()
	svc.WithExtractor(ex).WithRecorder(rec)

	draft, err := svc.ExtractAndCreate(context.Background(), []byte{0xff}, "image/jpeg", "g1", "bob")
	require.NoError(t, err)
	require.Equal(t, "Taxi", draft.Receipt.Title)
	require.Equal(t, "bob", draft.Receipt.UploadedBy)
	require.Len(t, repo.receipts, 1)
	require.Equal(t, 1, rec.extractions["ok"])
	require.Equal(t, 1, rec.created["extraction"])
}

func TestServiceExtractFailureIsNotRetried(t *testing.T) {
	svc, repo := newTestService()
	ex := &stubExtractor{err: errors.New("upstream 500")}
	svc.WithExtractor(ex)

	_, err := svc.ExtractAndCreate(context.Background(), []byte{1}, "image/png", "g1", "alice")
	var ee *shared.ExtractionError
	require.True(t, errors.As(err, &ee))
	require.Equal(t, 1, ex.calls)
	require.Empty(t, repo.receipts)
}

func TestServiceExtractRejectsBadPayload(t *testing.T) {
	svc, repo := newTestService()
	svc.WithExtractor(&stubExtractor{payload: []byte(`{"totalAmount":3,"items":[]}`)})

	_, err := svc.ExtractAndCreate(context.Background(), []byte{1}, "image/png", "g1", "alice")
	require.ErrorIs(t, err, ErrInvalidParse)
	require.Empty(t, repo.receipts)
}

func TestServiceExtractWithoutBackend(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Extract(context.Background(), []byte{1}, "image/png", "g1", "alice")
	require.ErrorIs(t, err, ErrExtractorUnavailable)
	require.ErrorIs(t, err, shared.ErrUnavailable)
}

func TestServiceGetChecksMembership(t *testing.T) {
	svc, _ := newTestService()
	draft, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), draft.Receipt.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, draft.Receipt.ID, got.ID)

	_, err = svc.Get(context.Background(), draft.Receipt.ID, "mallory")
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Get(context.Background(), "missing", "bob")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
