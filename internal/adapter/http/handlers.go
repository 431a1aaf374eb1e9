// Package http exposes the Staffdesk admin API over chi.
package http

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/upeohq/staffdesk/internal/domain/maillog"
	"github.com/upeohq/staffdesk/internal/domain/signup"
	"github.com/upeohq/staffdesk/internal/port/messagequeue"
	"github.com/upeohq/staffdesk/internal/service"
)

const defaultBodyLimit = 1 << 20 // 1 MiB

// Handlers bundles the services the API fronts.
type Handlers struct {
	signup  *service.SignupService
	orch    *service.Orchestrator
	reducer *service.MailLogReducer
	checker *service.StatusChecker
	queue   messagequeue.Queue
	log     *slog.Logger
}

// NewHandlers creates the API handler set.
func NewHandlers(
	signupSvc *service.SignupService,
	orch *service.Orchestrator,
	reducer *service.MailLogReducer,
	checker *service.StatusChecker,
	queue messagequeue.Queue,
	log *slog.Logger,
) *Handlers {
	return &Handlers{
		signup:  signupSvc,
		orch:    orch,
		reducer: reducer,
		checker: checker,
		queue:   queue,
		log:     log,
	}
}

// --- Signup requests ---

func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.signup.ListPending(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if requests == nil {
		requests = []signup.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *Handlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[signup.CreateRequest](w, r, defaultBodyLimit)
	if !ok {
		return
	}
	created, err := h.signup.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "request not found")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// BulkCreateRequests accepts either a JSON array of rows or a CSV body with
// an email,branch header. Every invalid row comes back in the report.
func (h *Handlers) BulkCreateRequests(w http.ResponseWriter, r *http.Request) {
	var rows []signup.CreateRequest

	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv") {
		var ok bool
		rows, ok = readCSVRows(w, r)
		if !ok {
			return
		}
	} else {
		payload, ok := readJSON[struct {
			Rows []signup.CreateRequest `json:"rows"`
		}](w, r, defaultBodyLimit)
		if !ok {
			return
		}
		rows = payload.Rows
	}

	report, err := h.signup.BulkCreate(r.Context(), rows)
	if err != nil {
		writeDomainError(w, err, "bulk intake failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func readCSVRows(w http.ResponseWriter, r *http.Request) ([]signup.CreateRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultBodyLimit)
	reader := csv.NewReader(r.Body)
	reader.FieldsPerRecord = -1

	var rows []signup.CreateRequest
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed CSV: "+err.Error())
			return nil, false
		}
		if len(record) == 0 {
			continue
		}
		// Skip a header row.
		if strings.EqualFold(strings.TrimSpace(record[0]), "email") {
			continue
		}
		row := signup.CreateRequest{Email: record[0]}
		if len(record) > 1 {
			row.Branch = record[1]
		}
		rows = append(rows, row)
	}
	return rows, true
}

// --- Provisioning ---

func (h *Handlers) ApproveRequests(w http.ResponseWriter, r *http.Request) {
	payload, ok := readJSON[struct {
		IDs []int64 `json:"ids"`
	}](w, r, defaultBodyLimit)
	if !ok {
		return
	}

	summary, err := h.orch.Approve(r.Context(), payload.IDs)
	if err != nil {
		writeDomainError(w, err, "requests not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handlers) RejectRequest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(urlParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	if err := h.orch.Reject(r.Context(), id); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ProvisionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"phase": string(h.orch.Phase())})
}

// --- Email logs ---

func (h *Handlers) ListEmailLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.reducer.RecentEntries(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if entries == nil {
		entries = []maillog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handlers) EmailStatus(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if !requireField(w, email, "email") {
		return
	}
	entry, ok := h.reducer.StatusFor(email)
	if !ok {
		writeError(w, http.StatusNotFound, "no email log for this address")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// --- Webhooks ---

// HandleEmailWebhook ingests a delivery event from the email provider. The
// event is relayed over the change feed when the queue is up; otherwise it is
// applied directly so a feed outage does not lose events.
func (h *Handlers) HandleEmailWebhook(w http.ResponseWriter, r *http.Request) {
	payload, ok := readJSON[messagequeue.EmailEventPayload](w, r, defaultBodyLimit)
	if !ok {
		return
	}

	status, err := maillog.ParseStatus(payload.Status)
	if err != nil {
		writeDomainError(w, err, "unknown status")
		return
	}
	if payload.SentTo == "" {
		writeError(w, http.StatusBadRequest, "sent_to is required")
		return
	}
	if payload.OccurredAt == "" {
		payload.OccurredAt = time.Now().UTC().Format(time.RFC3339)
	}

	if h.queue != nil && h.queue.IsConnected() {
		data, err := json.Marshal(payload)
		if err == nil {
			subject := messagequeue.SubjectEmailEventPrefix + string(status)
			if err := h.queue.Publish(r.Context(), subject, data); err == nil {
				w.WriteHeader(http.StatusAccepted)
				return
			}
			h.log.Warn("relay email event failed, applying directly", "error", err)
		}
	}

	ev := maillog.Event{
		SentTo:       payload.SentTo,
		MessageID:    payload.MessageID,
		Status:       status,
		BounceReason: payload.BounceReason,
		EventType:    payload.EventType,
	}
	if ts, err := time.Parse(time.RFC3339, payload.OccurredAt); err == nil {
		ev.OccurredAt = ts
	}
	if _, err := h.reducer.Apply(r.Context(), ev); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// --- M-Pesa ---

func (h *Handlers) CheckTransactionStatus(w http.ResponseWriter, r *http.Request) {
	payload, ok := readJSON[struct {
		TransactionIDs []string `json:"transaction_ids"`
	}](w, r, defaultBodyLimit)
	if !ok {
		return
	}

	results, err := h.checker.CheckBulk(r.Context(), payload.TransactionIDs)
	if err != nil {
		writeDomainError(w, err, "transactions not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
