package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plexpush/internal/eventbus"
	"plexpush/internal/metrics"
	logx "plexpush/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []string
	fail  error
	block chan struct{}
}

func (f *fakeSender) record(call string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail
}

func (f *fakeSender) ExecuteShortcut(_ context.Context, shortcut string, _ json.RawMessage) error {
	return f.record("shortcut:" + shortcut)
}

func (f *fakeSender) SendNotification(_ context.Context, name string, _ any) error {
	return f.record("notification:" + name)
}

func (f *fakeSender) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func waitHistory(t *testing.T, s *Service, n int) []HistoryItem {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return s.Snapshot()
}

func TestDeliversBothKinds(t *testing.T) {
	sender := &fakeSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Workers: 1, RatePerSec: 100}, sender, logx.Nop(), bus, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Enqueue(Delivery{ID: "1", Kind: KindShortcut, Target: "Receiver", Input: json.RawMessage(`{}`)}))
	require.NoError(t, s.Enqueue(Delivery{ID: "1", Kind: KindNotification, Target: "Lights", Payload: map[string]any{"title": "x"}}))

	hist := waitHistory(t, s, 2)
	assert.Equal(t, []string{"shortcut:Receiver", "notification:Lights"}, sender.Calls())
	for _, it := range hist {
		assert.Empty(t, it.Error)
		assert.Equal(t, "1", it.ID)
	}

	var types []string
	for len(types) < 4 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing bus events, got %v", types)
		}
	}
	assert.ElementsMatch(t, []string{
		eventbus.TypeDeliveryQueued, eventbus.TypeDeliveryQueued,
		eventbus.TypeDeliverySent, eventbus.TypeDeliverySent,
	}, types)
}

func TestFailureIsRecordedNotRetried(t *testing.T) {
	sender := &fakeSender{fail: errors.New("pushcut error: nope")}
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	s := New(Config{Workers: 1}, sender, logx.Nop(), nil, m)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Enqueue(Delivery{ID: "x", Kind: KindNotification, Target: "Lights"}))
	hist := waitHistory(t, s, 1)
	assert.Equal(t, "pushcut error: nope", hist[0].Error)

	// No retry happens after the failure.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sender.Calls(), 1)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var failed float64
	for _, mf := range mfs {
		if mf.GetName() != "plexpush_delivery_results_total" {
			continue
		}
		for _, mt := range mf.GetMetric() {
			for _, lp := range mt.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == metrics.ResultFailed {
					failed += mt.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(1), failed)
}

func TestDryRunSkipsSender(t *testing.T) {
	sender := &fakeSender{}
	s := New(Config{DryRun: true}, sender, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Enqueue(Delivery{ID: "d", Kind: KindNotification, Target: "Lights"}))
	hist := waitHistory(t, s, 1)
	assert.True(t, hist[0].DryRun)
	assert.Empty(t, sender.Calls())
}

func TestQueueFull(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{})}
	s := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 100}, sender, logx.Nop(), nil, nil)
	s.Start(context.Background())

	// The worker takes the first delivery and blocks in the sender; the
	// second fills the queue.
	require.NoError(t, s.Enqueue(Delivery{ID: "1", Kind: KindNotification, Target: "a"}))
	require.Eventually(t, func() bool { return s.QueueLen() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Enqueue(Delivery{ID: "2", Kind: KindNotification, Target: "b"}))
	assert.ErrorIs(t, s.Enqueue(Delivery{ID: "3", Kind: KindNotification, Target: "c"}), ErrQueueFull)

	close(sender.block)
	s.Stop(context.Background())
	assert.Equal(t, []string{"notification:a", "notification:b"}, sender.Calls())
}

func TestStopDrainsAndRejects(t *testing.T) {
	sender := &fakeSender{}
	s := New(Config{Workers: 2, RatePerSec: 100}, sender, logx.Nop(), nil, nil)

	assert.ErrorIs(t, s.Enqueue(Delivery{Kind: KindNotification}), ErrStopped)

	s.Start(context.Background())
	s.Start(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Enqueue(Delivery{Kind: KindNotification, Target: "n"}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	assert.Len(t, sender.Calls(), 5)
	assert.ErrorIs(t, s.Enqueue(Delivery{Kind: KindNotification}), ErrStopped)
	assert.Nil(t, s.Supervisor())

	cfg := s.Config()
	assert.Equal(t, 512, cfg.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.SendTimeout)
}
