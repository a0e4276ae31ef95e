package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence/memory"
)

type fakeHandler struct {
	mu    sync.Mutex
	fired []string
	fail  map[string]error
}

func (h *fakeHandler) OnScheduleFired(_ context.Context, scheduleID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.fired = append(h.fired, scheduleID)

	if err, ok := h.fail[scheduleID]; ok {
		return err
	}

	return nil
}

func (h *fakeHandler) firedIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, len(h.fired))
	copy(out, h.fired)

	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func seedSchedule(t *testing.T, p *memory.Persistence, id string, fireAt time.Time) {
	t.Helper()

	schedule := models.NewFollowUpSchedule(id, "session-"+id, models.TriggerRelativeDelay, fireAt)
	require.NoError(t, p.Schedules().SaveSchedule(context.Background(), schedule))
}

func TestProcessDueSchedules_DispatchesInFireOrder(t *testing.T) {
	p := memory.NewPersistence()
	handler := &fakeHandler{}
	s := NewScheduler(p, handler, testLogger(), Config{})

	now := time.Now().UTC()
	seedSchedule(t, p, "late", now.Add(-time.Minute))
	seedSchedule(t, p, "early", now.Add(-time.Hour))
	seedSchedule(t, p, "future", now.Add(time.Hour))

	s.processDueSchedules(context.Background())

	assert.Equal(t, []string{"early", "late"}, handler.firedIDs())
}

func TestProcessDueSchedules_HandlerFailureDoesNotBlockBatch(t *testing.T) {
	p := memory.NewPersistence()
	handler := &fakeHandler{fail: map[string]error{"bad": errors.New("boom")}}
	s := NewScheduler(p, handler, testLogger(), Config{})

	now := time.Now().UTC()
	seedSchedule(t, p, "bad", now.Add(-2*time.Minute))
	seedSchedule(t, p, "good", now.Add(-time.Minute))

	s.processDueSchedules(context.Background())

	assert.Equal(t, []string{"bad", "good"}, handler.firedIDs())
}

func TestProcessDueSchedules_RespectsBatchSize(t *testing.T) {
	p := memory.NewPersistence()
	handler := &fakeHandler{}
	s := NewScheduler(p, handler, testLogger(), Config{BatchSize: 2})

	now := time.Now().UTC()
	seedSchedule(t, p, "a", now.Add(-3*time.Minute))
	seedSchedule(t, p, "b", now.Add(-2*time.Minute))
	seedSchedule(t, p, "c", now.Add(-time.Minute))

	s.processDueSchedules(context.Background())

	assert.Equal(t, []string{"a", "b"}, handler.firedIDs())
}

func TestStartStop(t *testing.T) {
	p := memory.NewPersistence()
	handler := &fakeHandler{}
	s := NewScheduler(p, handler, testLogger(), Config{PollInterval: 10 * time.Millisecond})

	seedSchedule(t, p, "due", time.Now().UTC().Add(-time.Minute))

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx)) // idempotent

	assert.Eventually(t, func() bool {
		return len(handler.firedIDs()) > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx)) // idempotent
}
