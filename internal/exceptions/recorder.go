// Package exceptions records anomalies that need human follow-up.
package exceptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/caseflow/internal/persistence"
	"github.com/petrijr/caseflow/pkg/api"
)

// Recorder appends case exceptions to an ExceptionStore. It never
// deduplicates: each call to Record creates a new open exception.
type Recorder struct {
	store  persistence.ExceptionStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger used for recorded exceptions.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder returns a Recorder backed by store.
func NewRecorder(store persistence.ExceptionStore, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stores a new open exception.
func (r *Recorder) Record(ctx context.Context, typ api.ExceptionType, severity api.Severity, description string, affectedIDs []string) (*api.CaseException, error) {
	if typ == "" {
		return nil, errors.New("exception type is required")
	}
	if severity == "" {
		severity = api.SeverityMedium
	}

	ex := &api.CaseException{
		ID:                r.newID(),
		Type:              typ,
		Severity:          severity,
		Description:       description,
		AffectedEntityIDs: append([]string(nil), affectedIDs...),
		Status:            api.ExceptionOpen,
		DetectedAt:        r.now(),
	}
	if err := r.store.SaveException(ctx, ex); err != nil {
		return nil, fmt.Errorf("save exception: %w", err)
	}

	r.logger.Warn("case exception recorded",
		"exception_id", ex.ID,
		"type", ex.Type,
		"severity", ex.Severity,
		"affected", len(ex.AffectedEntityIDs),
	)
	return ex, nil
}

// List returns exceptions matching filter, newest first.
func (r *Recorder) List(ctx context.Context, filter api.ExceptionFilter) ([]*api.CaseException, error) {
	return r.store.ListExceptions(ctx, filter)
}

// Get returns a single exception or api.ErrExceptionNotFound.
func (r *Recorder) Get(ctx context.Context, id string) (*api.CaseException, error) {
	return r.store.GetException(ctx, id)
}

// Resolve moves an open exception to resolved. Resolving an already
// resolved exception returns api.ErrExceptionResolved.
func (r *Recorder) Resolve(ctx context.Context, id, actor string) (*api.CaseException, error) {
	if actor == "" {
		return nil, errors.New("resolving actor is required")
	}
	ex, err := r.store.ResolveException(ctx, id, actor, r.now())
	if err != nil {
		return nil, err
	}
	r.logger.Info("case exception resolved", "exception_id", id, "resolved_by", actor)
	return ex, nil
}
