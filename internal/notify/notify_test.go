package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowNotifier struct {
	release chan struct{}
	sent    atomic.Int32
	err     error
}

func (s *slowNotifier) Send(ctx context.Context, recipient, templateKey string, data map[string]any) error {
	<-s.release
	s.sent.Add(1)
	return s.err
}

func TestAsync_DoesNotBlockCaller(t *testing.T) {
	slow := &slowNotifier{release: make(chan struct{})}
	a := NewAsync(slow, nil, time.Second)

	start := time.Now()
	require.NoError(t, a.Send(context.Background(), "a@example.com", "t", nil))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, int32(0), slow.sent.Load())

	close(slow.release)
	a.Wait()
	assert.Equal(t, int32(1), slow.sent.Load())
}

func TestAsync_SwallowsErrorsAndSurvivesCancelledContext(t *testing.T) {
	slow := &slowNotifier{release: make(chan struct{}), err: errors.New("smtp down")}
	close(slow.release)
	a := NewAsync(slow, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Send(ctx, "a@example.com", "t", nil))
	a.Wait()
	assert.Equal(t, int32(1), slow.sent.Load())
}

func TestMemoryNotifier(t *testing.T) {
	var n MemoryNotifier
	require.NoError(t, n.Send(context.Background(), "x@example.com", "welcome", map[string]any{"k": 1}))
	require.NoError(t, LogNotifier{}.Send(context.Background(), "y@example.com", "welcome", nil))

	msgs := n.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "welcome", msgs[0].Template)
	assert.False(t, msgs[0].SentAt.IsZero())
}
