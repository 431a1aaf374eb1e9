package service

import (
	"context"
	"errors"
	"testing"

	"github.com/upeohq/staffdesk/internal/domain"
	"github.com/upeohq/staffdesk/internal/domain/signup"
	"github.com/upeohq/staffdesk/internal/port/messagequeue"
)

func TestCreateNormalizesEmail(t *testing.T) {
	store := newMockStore()
	s := NewSignupService(store, newMockQueue(), nil, discardLogger())

	created, err := s.Create(context.Background(), signup.CreateRequest{
		Email:  "  Wanjiku.Njeri@UPEO.co.ke ",
		Branch: "Westlands",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Email != "wanjiku.njeri@upeo.co.ke" {
		t.Errorf("email not normalized: %q", created.Email)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	s := NewSignupService(newMockStore(), newMockQueue(), nil, discardLogger())

	cases := []signup.CreateRequest{
		{Email: "", Branch: "Westlands"},
		{Email: "not-an-email", Branch: "Westlands"},
		{Email: "ok@upeo.co.ke", Branch: ""},
	}
	for _, c := range cases {
		if _, err := s.Create(context.Background(), c); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error for %+v, got %v", c, err)
		}
	}
}

func TestCreateDuplicatePending(t *testing.T) {
	store := newMockStore()
	store.addRequest("dup@upeo.co.ke", "Westlands")
	s := NewSignupService(store, newMockQueue(), nil, discardLogger())

	_, err := s.Create(context.Background(), signup.CreateRequest{Email: "dup@upeo.co.ke", Branch: "Westlands"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestBulkCreateReportsEveryRejection(t *testing.T) {
	store := newMockStore()
	store.addRequest("taken@upeo.co.ke", "Westlands")
	queue := newMockQueue()
	s := NewSignupService(store, queue, nil, discardLogger())

	report, err := s.BulkCreate(context.Background(), []signup.CreateRequest{
		{Email: "ok1@upeo.co.ke", Branch: "Westlands"},
		{Email: "broken", Branch: "Westlands"},
		{Email: "taken@upeo.co.ke", Branch: "Westlands"},
		{Email: "ok2@upeo.co.ke", Branch: ""},
		{Email: "OK3@upeo.co.ke", Branch: "Kisumu"},
	})
	if err != nil {
		t.Fatalf("BulkCreate: %v", err)
	}

	if len(report.Accepted) != 2 {
		t.Fatalf("expected 2 accepted, got %d", len(report.Accepted))
	}
	if len(report.Rejected) != 3 {
		t.Fatalf("expected 3 rejected, got %d", len(report.Rejected))
	}
	// Row numbers are 1-based in input order.
	if report.Rejected[0].Row != 2 || report.Rejected[1].Row != 3 || report.Rejected[2].Row != 4 {
		t.Errorf("unexpected rejected rows: %+v", report.Rejected)
	}
	for _, rej := range report.Rejected {
		if rej.Reason == "" {
			t.Errorf("rejection without reason: %+v", rej)
		}
	}
	if queue.publishedOn(messagequeue.SubjectRequestsChanged) != 1 {
		t.Error("expected one requests-changed message for the batch")
	}
}

func TestBulkCreateEmpty(t *testing.T) {
	s := NewSignupService(newMockStore(), newMockQueue(), nil, discardLogger())
	if _, err := s.BulkCreate(context.Background(), nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
