package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"fundgate/internal/audit/metrics"
	"fundgate/pkg/platform/middleware/metadata"
	"fundgate/pkg/requestcontext"
)

// Store persists audit entries. Append-only; List serves the admin query
// surface.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, q Query) ([]Entry, error)
}

// Publisher mirrors entries to a secondary sink (Kafka). Implementations
// must be non-blocking; a slow or dead sink never affects the ledger.
type Publisher interface {
	Publish(ctx context.Context, entry Entry)
}

// Recorder is the single write path for the audit ledger. Record is
// best-effort relative to the primary mutation: a failed append is logged
// and counted but never propagated, so domain transitions cannot fail
// because auditing failed.
type Recorder struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures optional Recorder dependencies.
type Option func(*Recorder)

// WithPublisher attaches a secondary sink mirror.
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) { r.publisher = p }
}

// WithMetrics attaches prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

func NewRecorder(store Store, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{store: store, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one entry. The ID is assigned here; Timestamp defaults to
// the request-scoped now, IPAddress and Device to the client metadata the
// middleware put in the context.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.IPAddress == "" {
		entry.IPAddress = metadata.GetClientIP(ctx)
	}
	if entry.Device == "" {
		entry.Device = metadata.GetDeviceSummary(ctx)
	}

	if err := r.store.Append(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "audit append failed",
			"action", entry.Action,
			"resource_type", entry.ResourceType,
			"resource_id", entry.ResourceID,
			"error", err,
		)
		if r.metrics != nil {
			r.metrics.IncrementAppendFailures()
		}
		return
	}

	if r.metrics != nil {
		r.metrics.IncrementEntriesRecorded(string(entry.Action))
	}
	if r.publisher != nil {
		r.publisher.Publish(ctx, entry)
	}
}

// List serves the read-only paginated query surface.
func (r *Recorder) List(ctx context.Context, q Query) ([]Entry, error) {
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return r.store.List(ctx, q)
}
