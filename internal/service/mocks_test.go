package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/upeohq/staffdesk/internal/domain"
	"github.com/upeohq/staffdesk/internal/domain/identity"
	"github.com/upeohq/staffdesk/internal/domain/maillog"
	"github.com/upeohq/staffdesk/internal/domain/signup"
	"github.com/upeohq/staffdesk/internal/port/messagequeue"
)

// mockStore is an in-memory database.Store for service tests.
type mockStore struct {
	mu       sync.Mutex
	requests map[int64]signup.Request
	nextID   int64
	logs     []maillog.Entry
	nextLog  int64

	deleteCalls []int64
	loadErr     error
	logsErr     error
}

func newMockStore() *mockStore {
	return &mockStore{requests: make(map[int64]signup.Request)}
}

func (m *mockStore) addRequest(email, branch string) signup.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r := signup.Request{
		ID:        m.nextID,
		Email:     email,
		Branch:    branch,
		Status:    signup.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	m.requests[r.ID] = r
	return r
}

func (m *mockStore) ListPendingRequests(_ context.Context) ([]signup.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []signup.Request
	for _, r := range m.requests {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockStore) GetRequestsByIDs(_ context.Context, ids []int64) ([]signup.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []signup.Request
	for _, id := range ids {
		if r, ok := m.requests[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) CreateRequest(_ context.Context, req signup.CreateRequest) (*signup.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if strings.EqualFold(r.Email, req.Email) {
			return nil, fmt.Errorf("create request: %w", domain.ErrConflict)
		}
	}
	m.nextID++
	r := signup.Request{
		ID:        m.nextID,
		Email:     req.Email,
		Branch:    req.Branch,
		Status:    signup.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	m.requests[r.ID] = r
	return &r, nil
}

func (m *mockStore) DeleteRequest(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, id)
	delete(m.requests, id)
	return nil
}

func (m *mockStore) PendingRequestExists(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if strings.EqualFold(r.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) InsertEmailLog(_ context.Context, entry *maillog.Entry) (*maillog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logsErr != nil {
		return nil, m.logsErr
	}
	m.nextLog++
	e := *entry
	e.ID = m.nextLog
	e.SentTo = strings.ToLower(e.SentTo)
	if e.SentAt.IsZero() {
		e.SentAt = time.Now().UTC()
	}
	m.logs = append(m.logs, e)
	return &e, nil
}

func (m *mockStore) ApplyEmailEvent(_ context.Context, ev maillog.Event) (*maillog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i, e := range m.logs {
		if e.SentTo == strings.ToLower(ev.SentTo) {
			if idx == -1 || e.SentAt.After(m.logs[idx].SentAt) || (e.SentAt.Equal(m.logs[idx].SentAt) && e.ID > m.logs[idx].ID) {
				idx = i
			}
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("apply email event for %s: %w", ev.SentTo, domain.ErrNotFound)
	}
	e := m.logs[idx]
	if !maillog.CanTransition(e.Status, ev.Status) {
		return nil, fmt.Errorf("apply email event for %s: %s -> %s: %w", ev.SentTo, e.Status, ev.Status, domain.ErrConflict)
	}
	now := ev.OccurredAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	e.Status = ev.Status
	if ev.BounceReason != "" {
		e.BounceReason = ev.BounceReason
	}
	if ev.Status == maillog.StatusBounced || ev.Status == maillog.StatusComplaint {
		e.BouncedAt = &now
	}
	e.LastWebhookEvent = ev.EventType
	e.WebhookReceivedAt = &now
	m.logs[idx] = e
	return &e, nil
}

func (m *mockStore) ListEmailLogsSince(_ context.Context, since time.Time) ([]maillog.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logsErr != nil {
		return nil, m.logsErr
	}
	var out []maillog.Entry
	for _, e := range m.logs {
		if !e.SentAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// mockDirectory is an in-memory identity directory with configurable paging
// failures.
type mockDirectory struct {
	mu       sync.Mutex
	accounts []identity.Account
	nextID   int

	failPage  int // page number that returns listErr, 0 disables
	listErr   error
	createErr error
	failEmail string // createErr applies only to this email when set

	listCalls   []int
	updateCalls map[string]identity.UpdateParams
}

func newMockDirectory(emails ...string) *mockDirectory {
	d := &mockDirectory{updateCalls: make(map[string]identity.UpdateParams)}
	for _, e := range emails {
		d.nextID++
		d.accounts = append(d.accounts, identity.Account{
			ID:    fmt.Sprintf("u-%d", d.nextID),
			Email: e,
		})
	}
	return d
}

func (d *mockDirectory) List(_ context.Context, page, perPage int) ([]identity.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listCalls = append(d.listCalls, page)
	if d.failPage != 0 && page >= d.failPage {
		return nil, d.listErr
	}
	start := (page - 1) * perPage
	if start >= len(d.accounts) {
		return nil, nil
	}
	end := start + perPage
	if end > len(d.accounts) {
		end = len(d.accounts)
	}
	return d.accounts[start:end], nil
}

func (d *mockDirectory) Create(_ context.Context, params identity.CreateParams) (*identity.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil && (d.failEmail == "" || strings.EqualFold(params.Email, d.failEmail)) {
		return nil, d.createErr
	}
	d.nextID++
	acct := identity.Account{
		ID:        fmt.Sprintf("u-%d", d.nextID),
		Email:     params.Email,
		Metadata:  params.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	d.accounts = append(d.accounts, acct)
	return &acct, nil
}

func (d *mockDirectory) UpdateByID(_ context.Context, id string, params identity.UpdateParams) (*identity.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, acct := range d.accounts {
		if acct.ID == id {
			if params.Metadata != nil {
				acct.Metadata = *params.Metadata
			}
			d.accounts[i] = acct
			d.updateCalls[id] = params
			return &acct, nil
		}
	}
	return nil, fmt.Errorf("update account %s: %w", id, domain.ErrNotFound)
}

// mockMailer records sends and can be told to fail.
type mockMailer struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
	nextID  int
}

func (m *mockMailer) Send(_ context.Context, to, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, to)
	m.nextID++
	return fmt.Sprintf("<msg-%d@staffdesk>", m.nextID), nil
}

// mockQueue records publishes and hands subscriptions back to the test.
type mockQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]messagequeue.Handler
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		published: make(map[string][][]byte),
		handlers:  make(map[string]messagequeue.Handler),
	}
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = handler
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) publishedOn(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[subject])
}
