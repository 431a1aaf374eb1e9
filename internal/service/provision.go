package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/upeohq/staffdesk/internal/adapter/otel"
	"github.com/upeohq/staffdesk/internal/adapter/ws"
	"github.com/upeohq/staffdesk/internal/config"
	"github.com/upeohq/staffdesk/internal/domain"
	"github.com/upeohq/staffdesk/internal/domain/identity"
	"github.com/upeohq/staffdesk/internal/domain/maillog"
	"github.com/upeohq/staffdesk/internal/domain/provision"
	"github.com/upeohq/staffdesk/internal/domain/signup"
	"github.com/upeohq/staffdesk/internal/port/database"
	"github.com/upeohq/staffdesk/internal/port/directory"
	"github.com/upeohq/staffdesk/internal/port/mailer"
	"github.com/upeohq/staffdesk/internal/port/messagequeue"
)

// Orchestrator runs the staff provisioning workflow: it resolves approved
// signup requests against the identity directory, mutates accounts, removes
// the resolved request rows and emails out temporary credentials. Batches run
// strictly one at a time.
type Orchestrator struct {
	store   database.Store
	lister  *DirectoryLister
	dir     directory.Directory
	mail    mailer.Mailer
	queue   messagequeue.Queue
	hub     *ws.Hub
	metrics *otel.Metrics
	log     *slog.Logger

	passwordLength int
	emailSubject   string
	observer       LogObserver

	mu    sync.Mutex
	phase provision.Phase
}

// LogObserver receives email log entries as soon as the orchestrator records
// them, so status queries see a send without waiting for a reconcile pass.
type LogObserver interface {
	Observe(entry maillog.Entry)
}

// NewOrchestrator wires the provisioning workflow.
func NewOrchestrator(
	store database.Store,
	dir directory.Directory,
	mail mailer.Mailer,
	queue messagequeue.Queue,
	hub *ws.Hub,
	metrics *otel.Metrics,
	cfg config.Provision,
	pageSize int,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:          store,
		lister:         NewDirectoryLister(dir, pageSize, log),
		dir:            dir,
		mail:           mail,
		queue:          queue,
		hub:            hub,
		metrics:        metrics,
		log:            log,
		passwordLength: cfg.PasswordLength,
		emailSubject:   cfg.EmailSubject,
		phase:          provision.PhaseIdle,
	}
}

// SetLogObserver registers an observer notified of every email log entry the
// orchestrator records. Call before the first Approve.
func (o *Orchestrator) SetLogObserver(obs LogObserver) {
	o.observer = obs
}

// Phase returns the current batch phase.
func (o *Orchestrator) Phase() provision.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// advance moves the batch to the next phase, enforcing the legal ordering.
func (o *Orchestrator) advance(ctx context.Context, to provision.Phase) error {
	o.mu.Lock()
	from := o.phase
	if !provision.CanAdvance(from, to) {
		o.mu.Unlock()
		return fmt.Errorf("illegal phase transition %s -> %s", from, to)
	}
	o.phase = to
	o.mu.Unlock()

	o.broadcast(ctx, ws.EventProvisionProgress, ws.ProvisionProgressEvent{Phase: string(to)})
	return nil
}

// reset returns the machine to idle after a terminal phase.
func (o *Orchestrator) reset() {
	o.mu.Lock()
	o.phase = provision.PhaseIdle
	o.mu.Unlock()
}

// Approve provisions the given pending requests. Per-item failures do not
// stop the batch; the summary reports every item's outcome.
func (o *Orchestrator) Approve(ctx context.Context, ids []int64) (provision.Summary, error) {
	if len(ids) == 0 {
		return provision.Summary{}, fmt.Errorf("%w: no request ids given", domain.ErrValidation)
	}

	start := time.Now()
	if err := o.advance(ctx, provision.PhaseListing); err != nil {
		return provision.Summary{}, err
	}
	defer o.reset()

	snapshot := o.lister.ListAll(ctx)
	if snapshot.Partial {
		o.log.Warn("provisioning with partial directory snapshot",
			"loaded", snapshot.Len(), "error", snapshot.Err)
	}

	requests, err := o.store.GetRequestsByIDs(ctx, ids)
	if err != nil {
		_ = o.advance(ctx, provision.PhaseFailed)
		return provision.Summary{}, fmt.Errorf("load requests: %w", err)
	}

	byID := make(map[int64]signup.Request, len(requests))
	for _, r := range requests {
		byID[r.ID] = r
	}

	items := make([]provision.ItemResult, 0, len(ids))
	seen := make(map[string]bool, len(ids))

	for _, id := range ids {
		if err := o.advance(ctx, provision.PhaseResolving); err != nil {
			return provision.Summarize(items), err
		}

		req, ok := byID[id]
		var item provision.ItemResult
		switch {
		case !ok:
			item = provision.ItemResult{
				RequestID: id,
				Outcome:   provision.OutcomeSkipped,
				Reason:    "request no longer pending",
			}
		case seen[req.Key()]:
			item = provision.ItemResult{
				RequestID: id,
				Email:     req.Email,
				Outcome:   provision.OutcomeSkipped,
				Reason:    "duplicate email in batch",
			}
		default:
			seen[req.Key()] = true
			item = o.provisionOne(ctx, req, snapshot)
		}

		if err := o.advance(ctx, provision.PhaseNotifying); err != nil {
			return provision.Summarize(items), err
		}

		items = append(items, item)
		o.count(ctx, item.Outcome)
		o.broadcast(ctx, ws.EventProvisionProgress, ws.ProvisionProgressEvent{
			Phase:     string(provision.PhaseNotifying),
			RequestID: item.RequestID,
			Email:     item.Email,
			Outcome:   string(item.Outcome),
		})
	}

	if err := o.advance(ctx, provision.PhaseDone); err != nil {
		return provision.Summarize(items), err
	}

	summary := provision.Summarize(items)
	o.log.Info("provisioning batch finished",
		"requested", len(ids),
		"created", summary.Created,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", time.Since(start))
	if o.metrics != nil {
		o.metrics.BatchDuration.Record(ctx, time.Since(start).Seconds())
	}

	o.publishRequestsChanged(ctx, "batch approved", "")
	o.broadcast(ctx, ws.EventProvisionSummary, ws.ProvisionSummaryEvent{
		Created: summary.Created,
		Updated: summary.Updated,
		Skipped: summary.Skipped,
		Failed:  summary.Failed,
	})
	return summary, nil
}

// provisionOne runs the strict per-request step order: resolve, mutate the
// directory, delete the request row, send the credential email, log the send.
// The batch is already in the Resolving phase when this is called.
func (o *Orchestrator) provisionOne(ctx context.Context, req signup.Request, snapshot *Snapshot) provision.ItemResult {
	item := provision.ItemResult{RequestID: req.ID, Email: req.Email}

	acct, resolution := snapshot.Resolve(req.Email)
	if resolution == ResolutionUnknown {
		item.Outcome = provision.OutcomeFailed
		item.Reason = "directory listing incomplete, cannot rule out an existing account"
		o.log.Error("request failed on partial snapshot", "request_id", req.ID, "email", req.Email)
		return item
	}

	if err := o.advance(ctx, provision.PhaseMutating); err != nil {
		item.Outcome = provision.OutcomeFailed
		item.Reason = err.Error()
		return item
	}

	password, err := GenerateTempPassword(o.passwordLength)
	if err != nil {
		item.Outcome = provision.OutcomeFailed
		item.Reason = "generate credential: " + err.Error()
		return item
	}

	meta := identity.Metadata{
		Role:      identity.RoleStaff,
		Branch:    req.Branch,
		UpdatedAt: time.Now().UTC(),
	}

	switch resolution {
	case ResolutionFound:
		_, err = o.dir.UpdateByID(ctx, acct.ID, identity.UpdateParams{
			Password: &password,
			Metadata: &meta,
		})
		if err != nil {
			item.Outcome = provision.OutcomeFailed
			item.Reason = "update account: " + err.Error()
			o.log.Error("account update failed", "request_id", req.ID, "email", req.Email, "error", err)
			return item
		}
		item.Outcome = provision.OutcomeUpdated

	case ResolutionNotFound:
		created, err := o.dir.Create(ctx, identity.CreateParams{
			Email:    req.Email,
			Password: password,
			Metadata: meta,
		})
		if err != nil {
			if errors.Is(err, directory.ErrAlreadyRegistered) {
				item.Outcome = provision.OutcomeSkipped
				item.Reason = "email already registered"
				o.log.Warn("create raced an existing registration", "request_id", req.ID, "email", req.Email)
				return item
			}
			item.Outcome = provision.OutcomeFailed
			item.Reason = "create account: " + err.Error()
			o.log.Error("account create failed", "request_id", req.ID, "email", req.Email, "error", err)
			return item
		}
		snapshot.Add(*created)
		item.Outcome = provision.OutcomeCreated
	}

	// The account mutation succeeded, so the request is resolved even if the
	// steps below fail. Deleting an already-deleted row is a no-op.
	if err := o.store.DeleteRequest(ctx, req.ID); err != nil {
		o.log.Error("delete resolved request failed", "request_id", req.ID, "error", err)
	}

	item.EmailSent = o.sendCredentialEmail(ctx, req, password)
	return item
}

// sendCredentialEmail emails the temporary credential and records the attempt
// in the email log. The log row is written whether or not the send succeeded.
func (o *Orchestrator) sendCredentialEmail(ctx context.Context, req signup.Request, password string) bool {
	html := credentialEmailBody(req.Email, password, req.Branch)

	messageID, sendErr := o.mail.Send(ctx, req.Email, o.emailSubject, html)

	entry := &maillog.Entry{
		SentTo:    req.Email,
		Subject:   o.emailSubject,
		RequestID: &req.ID,
		MessageID: messageID,
		Status:    maillog.StatusSent,
		SentAt:    time.Now().UTC(),
	}
	if sendErr != nil {
		entry.Status = maillog.StatusFailed
		o.log.Error("credential email failed", "request_id", req.ID, "email", req.Email, "error", sendErr)
	}

	stored, err := o.store.InsertEmailLog(ctx, entry)
	if err != nil {
		o.log.Error("record email log failed", "request_id", req.ID, "email", req.Email, "error", err)
		stored = entry
	}
	if o.observer != nil {
		o.observer.Observe(*stored)
	}

	if sendErr != nil {
		return false
	}
	if o.metrics != nil {
		o.metrics.EmailsSent.Add(ctx, 1)
	}
	return true
}

// Reject removes a pending request without provisioning. Rejecting an absent
// id is a no-op so the operation can be retried safely.
func (o *Orchestrator) Reject(ctx context.Context, id int64) error {
	if err := o.store.DeleteRequest(ctx, id); err != nil {
		return fmt.Errorf("reject request %d: %w", id, err)
	}
	o.log.Info("signup request rejected", "request_id", id)
	o.publishRequestsChanged(ctx, "request rejected", "")
	return nil
}

func (o *Orchestrator) count(ctx context.Context, outcome provision.Outcome) {
	if o.metrics == nil {
		return
	}
	switch outcome {
	case provision.OutcomeCreated:
		o.metrics.AccountsCreated.Add(ctx, 1)
	case provision.OutcomeUpdated:
		o.metrics.AccountsUpdated.Add(ctx, 1)
	case provision.OutcomeSkipped:
		o.metrics.RequestsSkipped.Add(ctx, 1)
	case provision.OutcomeFailed:
		o.metrics.RequestsFailed.Add(ctx, 1)
	}
}

func (o *Orchestrator) broadcast(ctx context.Context, eventType string, payload any) {
	if o.hub == nil {
		return
	}
	o.hub.BroadcastEvent(ctx, eventType, payload)
}

func (o *Orchestrator) publishRequestsChanged(ctx context.Context, reason, email string) {
	o.broadcast(ctx, ws.EventRequestsChanged, ws.RequestsChangedEvent{Reason: reason, Email: email})
	if o.queue == nil {
		return
	}
	payload, err := json.Marshal(messagequeue.RequestsChangedPayload{Reason: reason, Email: email})
	if err != nil {
		return
	}
	if err := o.queue.Publish(ctx, messagequeue.SubjectRequestsChanged, payload); err != nil {
		o.log.Warn("publish requests changed failed", "error", err)
	}
}

func credentialEmailBody(email, password, branch string) string {
	return fmt.Sprintf(`<p>Hello,</p>
<p>Your Staffdesk account for <b>%s</b> is ready.</p>
<p>Sign in with <b>%s</b> and the temporary password below, then change it immediately:</p>
<pre>%s</pre>
<p>Staffdesk</p>`, branch, email, password)
}
