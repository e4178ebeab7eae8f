package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/caseflow/internal/sla"
	"github.com/petrijr/caseflow/pkg/api"
)

// OrphanThreshold is how long a case may wait for assignment before it is
// reported as orphaned.
const OrphanThreshold = 24 * time.Hour

// ExceptionRecorder is the part of *exceptions.Recorder the step handlers use.
type ExceptionRecorder interface {
	Record(ctx context.Context, typ api.ExceptionType, severity api.Severity, description string, affectedIDs []string) (*api.CaseException, error)
	List(ctx context.Context, filter api.ExceptionFilter) ([]*api.CaseException, error)
}

// ExceptionDetector scans the Case Store for orphaned cases and SLA
// breaches and records them as high severity exceptions.
type ExceptionDetector struct {
	Cases    api.CaseStore
	SLA      *sla.Registry
	Recorder ExceptionRecorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Detect records at most one orphaned_case exception and one sla_breach
// exception per breaching status. A failing query does not stop the other
// checks; all failures are returned joined.
func (d *ExceptionDetector) Detect(ctx context.Context) ([]*api.CaseException, error) {
	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		found []*api.CaseException
		errs  []error
	)
	record := func(typ api.ExceptionType, desc string, ids []string) {
		ex, err := d.Recorder.Record(ctx, typ, api.SeverityHigh, desc, ids)
		if err != nil {
			errs = append(errs, err)
			return
		}
		found = append(found, ex)
	}

	waiting, err := d.Cases.FindCasesByStatus(ctx, api.CaseAwaitingAssignment, now.Add(-OrphanThreshold))
	if err != nil {
		errs = append(errs, fmt.Errorf("orphaned cases: %w", err))
	} else {
		var ids []string
		for _, c := range waiting {
			if c.AssignedProfessionalID == "" {
				ids = append(ids, c.ID)
			}
		}
		if len(ids) > 0 {
			record(api.ExceptionOrphanedCase,
				fmt.Sprintf("%d case(s) awaiting assignment for more than %s", len(ids), OrphanThreshold), ids)
		}
	}

	if d.SLA != nil {
		for _, def := range d.SLA.Definitions() {
			breached, err := d.Cases.FindCasesByStatus(ctx, def.Status, now.Add(-def.Target))
			if err != nil {
				logger.Error("sla breach query failed", "status", def.Status, "error", err)
				errs = append(errs, fmt.Errorf("sla %s: %w", def.Status, err))
				continue
			}
			if len(breached) == 0 {
				continue
			}
			ids := make([]string, 0, len(breached))
			for _, c := range breached {
				ids = append(ids, c.ID)
			}
			record(api.ExceptionSLABreach,
				fmt.Sprintf("%d case(s) in status %q for longer than %s", len(ids), def.Status, def.Target), ids)
		}
	}

	logger.Info("exception detection finished", "recorded", len(found), "errors", len(errs))
	return found, errors.Join(errs...)
}

// Handle runs Detect as a workflow step.
func (d *ExceptionDetector) Handle(ctx context.Context, in api.StepInput) error {
	_, err := d.Detect(ctx)
	return err
}

// AdminNotifier tells administrators about open exceptions.
type AdminNotifier struct {
	Recorder  ExceptionRecorder
	Notifier  api.Notifier
	Recipient string
	Logger    *slog.Logger
}

// Handle sends one summary notification when open exceptions exist.
// Notifier failures are logged and never fail the step.
func (n *AdminNotifier) Handle(ctx context.Context, in api.StepInput) error {
	open, err := n.Recorder.List(ctx, api.ExceptionFilter{Status: api.ExceptionOpen})
	if err != nil {
		return fmt.Errorf("list open exceptions: %w", err)
	}
	if len(open) == 0 {
		return nil
	}

	bySeverity := map[string]int{}
	for _, ex := range open {
		bySeverity[string(ex.Severity)]++
	}
	recipient := in.Payload.String(PayloadAdminEmail)
	if recipient == "" {
		recipient = n.Recipient
	}
	send(ctx, n.Notifier, n.Logger, in, recipient, TemplateExceptionsDetected, map[string]any{
		"open":        len(open),
		"by_severity": bySeverity,
	})
	return nil
}
