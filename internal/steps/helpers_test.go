package steps

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petrijr/caseflow/pkg/api"
)

var testNow = time.Date(2026, 7, 14, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type sentMessage struct {
	Recipient string
	Template  string
	Data      map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
}

func (n *recordingNotifier) Send(ctx context.Context, recipient, templateKey string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp down")
	}
	n.sent = append(n.sent, sentMessage{Recipient: recipient, Template: templateKey, Data: data})
	return nil
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

// brokenCases fails FindCasesByStatus for one status.
type brokenCases struct {
	api.CaseStore
	status string
}

func (b brokenCases) FindCasesByStatus(ctx context.Context, status string, olderThan time.Time) ([]api.CaseRef, error) {
	if status == b.status {
		return nil, errors.New("replica lag")
	}
	return b.CaseStore.FindCasesByStatus(ctx, status, olderThan)
}
