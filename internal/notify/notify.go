// Package notify provides Notifier adapters.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/caseflow/pkg/api"
)

// LogNotifier writes every notification to a logger instead of delivering it.
type LogNotifier struct {
	Logger *slog.Logger
}

var _ api.Notifier = LogNotifier{}

func (n LogNotifier) Send(ctx context.Context, recipient, templateKey string, data map[string]any) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"recipient", recipient,
		"template", templateKey,
		"fields", len(data),
	)
	return nil
}

// Message is a notification captured by MemoryNotifier.
type Message struct {
	Recipient string
	Template  string
	Data      map[string]any
	SentAt    time.Time
}

// MemoryNotifier keeps notifications in memory. Used by the local runner.
type MemoryNotifier struct {
	mu   sync.Mutex
	sent []Message
}

func (n *MemoryNotifier) Send(ctx context.Context, recipient, templateKey string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Message{Recipient: recipient, Template: templateKey, Data: data, SentAt: time.Now()})
	return nil
}

// Messages returns a copy of everything sent so far.
func (n *MemoryNotifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.sent...)
}

// Async delivers notifications on background goroutines so a slow or
// failing Notifier never blocks the caller. Send always returns nil;
// delivery errors are logged.
type Async struct {
	next    api.Notifier
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// DefaultSendTimeout bounds a single background delivery.
const DefaultSendTimeout = 30 * time.Second

// NewAsync wraps next. A non-positive timeout means DefaultSendTimeout.
func NewAsync(next api.Notifier, logger *slog.Logger, timeout time.Duration) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Async{next: next, logger: logger, timeout: timeout}
}

func (a *Async) Send(ctx context.Context, recipient, templateKey string, data map[string]any) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.Send(sendCtx, recipient, templateKey, data); err != nil {
			a.logger.Error("notification delivery failed",
				"recipient", recipient,
				"template", templateKey,
				"error", err,
			)
		}
	}()
	return nil
}

// Wait blocks until every in-flight delivery has finished.
func (a *Async) Wait() {
	a.wg.Wait()
}
