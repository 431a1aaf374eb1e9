package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "staffdesk"

// Metrics holds all Staffdesk metric instruments.
type Metrics struct {
	AccountsCreated  metric.Int64Counter
	AccountsUpdated  metric.Int64Counter
	RequestsSkipped  metric.Int64Counter
	RequestsFailed   metric.Int64Counter
	EmailsSent       metric.Int64Counter
	EmailsBounced    metric.Int64Counter
	BatchDuration    metric.Float64Histogram
	DirectoryLatency metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AccountsCreated, err = meter.Int64Counter("staffdesk.accounts.created",
		metric.WithDescription("Number of staff accounts created"))
	if err != nil {
		return nil, err
	}

	m.AccountsUpdated, err = meter.Int64Counter("staffdesk.accounts.updated",
		metric.WithDescription("Number of staff accounts updated"))
	if err != nil {
		return nil, err
	}

	m.RequestsSkipped, err = meter.Int64Counter("staffdesk.requests.skipped",
		metric.WithDescription("Number of signup requests skipped as duplicates"))
	if err != nil {
		return nil, err
	}

	m.RequestsFailed, err = meter.Int64Counter("staffdesk.requests.failed",
		metric.WithDescription("Number of signup requests whose provisioning failed"))
	if err != nil {
		return nil, err
	}

	m.EmailsSent, err = meter.Int64Counter("staffdesk.emails.sent",
		metric.WithDescription("Number of credential emails sent"))
	if err != nil {
		return nil, err
	}

	m.EmailsBounced, err = meter.Int64Counter("staffdesk.emails.bounced",
		metric.WithDescription("Number of credential emails that bounced"))
	if err != nil {
		return nil, err
	}

	m.BatchDuration, err = meter.Float64Histogram("staffdesk.batch.duration_seconds",
		metric.WithDescription("Provisioning batch duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.DirectoryLatency, err = meter.Float64Histogram("staffdesk.directory.latency_seconds",
		metric.WithDescription("Identity directory request latency in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
