package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/upeohq/staffdesk/internal/config"
	"github.com/upeohq/staffdesk/internal/domain"
	"github.com/upeohq/staffdesk/internal/domain/identity"
	"github.com/upeohq/staffdesk/internal/domain/maillog"
	"github.com/upeohq/staffdesk/internal/domain/mpesa"
	"github.com/upeohq/staffdesk/internal/domain/signup"
	"github.com/upeohq/staffdesk/internal/service"
)

const testWebhookSecret = "test-secret"

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// memStore is a minimal in-memory store for handler tests.
type memStore struct {
	mu       sync.Mutex
	requests map[int64]signup.Request
	nextID   int64
	logs     []maillog.Entry
}

func newMemStore() *memStore {
	return &memStore{requests: make(map[int64]signup.Request)}
}

func (m *memStore) add(email, branch string) signup.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r := signup.Request{ID: m.nextID, Email: email, Branch: branch, Status: signup.StatusPending, CreatedAt: time.Now()}
	m.requests[r.ID] = r
	return r
}

func (m *memStore) ListPendingRequests(context.Context) ([]signup.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []signup.Request
	for _, r := range m.requests {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) GetRequestsByIDs(_ context.Context, ids []int64) ([]signup.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []signup.Request
	for _, id := range ids {
		if r, ok := m.requests[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) CreateRequest(_ context.Context, req signup.CreateRequest) (*signup.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if strings.EqualFold(r.Email, req.Email) {
			return nil, domain.ErrConflict
		}
	}
	m.nextID++
	r := signup.Request{ID: m.nextID, Email: req.Email, Branch: req.Branch, Status: signup.StatusPending, CreatedAt: time.Now()}
	m.requests[r.ID] = r
	return &r, nil
}

func (m *memStore) DeleteRequest(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, id)
	return nil
}

func (m *memStore) PendingRequestExists(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if strings.EqualFold(r.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertEmailLog(_ context.Context, entry *maillog.Entry) (*maillog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *entry
	e.ID = int64(len(m.logs) + 1)
	e.SentTo = strings.ToLower(e.SentTo)
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	m.logs = append(m.logs, e)
	return &e, nil
}

func (m *memStore) ApplyEmailEvent(_ context.Context, ev maillog.Event) (*maillog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].SentTo == strings.ToLower(ev.SentTo) {
			e := m.logs[i]
			if !maillog.CanTransition(e.Status, ev.Status) {
				return nil, domain.ErrConflict
			}
			e.Status = ev.Status
			e.BounceReason = ev.BounceReason
			m.logs[i] = e
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) ListEmailLogsSince(context.Context, time.Time) ([]maillog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]maillog.Entry(nil), m.logs...), nil
}

// memDirectory is an always-empty directory that accepts all creates.
type memDirectory struct {
	mu      sync.Mutex
	created []identity.Account
}

func (d *memDirectory) List(context.Context, int, int) ([]identity.Account, error) {
	return nil, nil
}

func (d *memDirectory) Create(_ context.Context, params identity.CreateParams) (*identity.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct := identity.Account{ID: fmt.Sprintf("u-%d", len(d.created)+1), Email: params.Email}
	d.created = append(d.created, acct)
	return &acct, nil
}

func (d *memDirectory) UpdateByID(_ context.Context, id string, _ identity.UpdateParams) (*identity.Account, error) {
	return &identity.Account{ID: id}, nil
}

type memMailer struct{}

func (memMailer) Send(context.Context, string, string, string) (string, error) {
	return "<m@staffdesk>", nil
}

type stubAPI struct{}

func (stubAPI) QueryStatus(_ context.Context, id string) (mpesa.Status, error) {
	return mpesa.Status{TransactionID: id, Result: mpesa.ResultCompleted, CheckedAt: time.Now()}, nil
}

func newTestRouter(store *memStore) (chi.Router, *service.MailLogReducer) {
	log := slog.New(slog.DiscardHandler)
	dir := &memDirectory{}

	signupSvc := service.NewSignupService(store, nil, nil, log)
	orch := service.NewOrchestrator(store, dir, memMailer{}, nil, nil, nil,
		config.Provision{PasswordLength: 12, EmailSubject: "Your Staffdesk account"}, 1000, log)
	reducer := service.NewMailLogReducer(store, nil, nil, nil,
		config.Reconcile{Interval: time.Minute, Lookback: 24 * time.Hour}, log)
	checker := service.NewStatusChecker(stubAPI{}, nil, 5, 0, log)

	h := NewHandlers(signupSvc, orch, reducer, checker, nil, log)
	r := chi.NewRouter()
	MountRoutes(r, h, config.Webhook{EmailSecret: testWebhookSecret})
	return r, reducer
}

func doJSON(t *testing.T, r chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestListRequests(t *testing.T) {
	store := newMemStore()
	store.add("amina@upeo.co.ke", "Westlands")
	r, _ := newTestRouter(store)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/requests", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Requests []signup.Request `json:"requests"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(resp.Requests))
	}
}

func TestCreateRequestValidation(t *testing.T) {
	r, _ := newTestRouter(newMemStore())

	rec := doJSON(t, r, http.MethodPost, "/api/v1/requests", signup.CreateRequest{Email: "not-an-email", Branch: "X"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/requests", signup.CreateRequest{Email: "ok@upeo.co.ke", Branch: "Westlands"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
}

func TestApproveRequests(t *testing.T) {
	store := newMemStore()
	a := store.add("a@upeo.co.ke", "Westlands")
	b := store.add("b@upeo.co.ke", "Westlands")
	r, _ := newTestRouter(store)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/requests/approve", map[string]any{"ids": []int64{a.ID, b.ID}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var summary struct {
		Created int `json:"created"`
		Failed  int `json:"failed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if summary.Created != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/requests/approve", map[string]any{"ids": []int64{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty ids, got %d", rec.Code)
	}
}

func TestRejectRequest(t *testing.T) {
	store := newMemStore()
	a := store.add("a@upeo.co.ke", "Westlands")
	r, _ := newTestRouter(store)

	rec := doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/v1/requests/%d", a.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	// Idempotent.
	rec = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/v1/requests/%d", a.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on repeat, got %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodDelete, "/api/v1/requests/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestBulkCreateCSV(t *testing.T) {
	r, _ := newTestRouter(newMemStore())

	body := "email,branch\nok@upeo.co.ke,Westlands\nbroken,Westlands\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/bulk", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var report service.BulkReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(report.Accepted) != 1 || len(report.Rejected) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestEmailWebhookAppliesDirectlyWithoutFeed(t *testing.T) {
	store := newMemStore()
	_, _ = store.InsertEmailLog(context.Background(), &maillog.Entry{
		SentTo: "amina@upeo.co.ke", Subject: "s", Status: maillog.StatusSent,
	})
	r, reducer := newTestRouter(store)

	body, _ := json.Marshal(map[string]string{
		"sent_to":    "amina@upeo.co.ke",
		"status":     "bounced",
		"event_type": "hard_bounce",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/email", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signBody(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	if got, ok := reducer.StatusFor("amina@upeo.co.ke"); !ok || got.Status != maillog.StatusBounced {
		t.Errorf("reducer view not updated: %+v ok=%v", got, ok)
	}
}

func TestEmailWebhookRejectsUnsigned(t *testing.T) {
	r, _ := newTestRouter(newMemStore())

	rec := doJSON(t, r, http.MethodPost, "/api/v1/webhooks/email", map[string]string{
		"sent_to": "amina@upeo.co.ke", "status": "bounced",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCheckTransactionStatus(t *testing.T) {
	r, _ := newTestRouter(newMemStore())

	rec := doJSON(t, r, http.MethodPost, "/api/v1/mpesa/status", map[string]any{
		"transaction_ids": []string{"RBK1", "RBK2"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Results []mpesa.Status `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Results) != 2 || resp.Results[0].Result != mpesa.ResultCompleted {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
}
