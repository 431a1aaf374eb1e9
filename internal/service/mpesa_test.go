package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/upeohq/staffdesk/internal/domain"
	"github.com/upeohq/staffdesk/internal/domain/mpesa"
)

// trackingAPI counts concurrent in-flight lookups.
type trackingAPI struct {
	inFlight    atomic.Int32
	maxObserved atomic.Int32
	delay       time.Duration
	err         error

	mu     sync.Mutex
	called []string
}

func (a *trackingAPI) QueryStatus(_ context.Context, id string) (mpesa.Status, error) {
	cur := a.inFlight.Add(1)
	for {
		prev := a.maxObserved.Load()
		if cur <= prev || a.maxObserved.CompareAndSwap(prev, cur) {
			break
		}
	}
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	a.inFlight.Add(-1)

	a.mu.Lock()
	a.called = append(a.called, id)
	a.mu.Unlock()

	if a.err != nil {
		return mpesa.Status{}, a.err
	}
	return mpesa.Status{
		TransactionID: id,
		Result:        mpesa.ResultCompleted,
		CheckedAt:     time.Now().UTC(),
	}, nil
}

func TestCheckBulkBoundedConcurrency(t *testing.T) {
	api := &trackingAPI{delay: 10 * time.Millisecond}
	c := NewStatusChecker(api, nil, 5, 0, discardLogger())

	var ids []string
	for i := 0; i < 40; i++ {
		ids = append(ids, fmt.Sprintf("RBK%04d", i))
	}

	results, err := c.CheckBulk(context.Background(), ids)
	if err != nil {
		t.Fatalf("CheckBulk: %v", err)
	}
	if len(results) != 40 {
		t.Fatalf("expected 40 results, got %d", len(results))
	}
	if got := api.maxObserved.Load(); got > 5 {
		t.Fatalf("observed %d concurrent lookups, limit is 5", got)
	}
	// Results keep input order regardless of completion order.
	for i, st := range results {
		if st.TransactionID != ids[i] {
			t.Fatalf("result %d out of order: %s", i, st.TransactionID)
		}
	}
}

func TestCheckBulkLookupFailureYieldsUnknown(t *testing.T) {
	api := &trackingAPI{err: errors.New("timeout")}
	c := NewStatusChecker(api, nil, 5, 0, discardLogger())

	results, err := c.CheckBulk(context.Background(), []string{"RBK1", "RBK2"})
	if err != nil {
		t.Fatalf("CheckBulk: %v", err)
	}
	for _, st := range results {
		if st.Result != mpesa.ResultUnknown {
			t.Errorf("expected unknown result, got %s", st.Result)
		}
	}
}

func TestCheckBulkEmpty(t *testing.T) {
	c := NewStatusChecker(&trackingAPI{}, nil, 5, 0, discardLogger())
	if _, err := c.CheckBulk(context.Background(), nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// fakeCache is a map-backed cache port for checker tests.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func TestCheckBulkUsesCache(t *testing.T) {
	api := &trackingAPI{}
	c := NewStatusChecker(api, &fakeCache{data: make(map[string][]byte)}, 5, time.Minute, discardLogger())

	if _, err := c.CheckBulk(context.Background(), []string{"RBK1"}); err != nil {
		t.Fatalf("first CheckBulk: %v", err)
	}
	if _, err := c.CheckBulk(context.Background(), []string{"RBK1"}); err != nil {
		t.Fatalf("second CheckBulk: %v", err)
	}
	if len(api.called) != 1 {
		t.Fatalf("expected 1 API lookup, got %d", len(api.called))
	}
}
