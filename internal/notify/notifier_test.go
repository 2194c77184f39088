// internal/notify/notifier_test.go
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markreid/faceoff/internal/models"
	"github.com/markreid/faceoff/internal/session"
)

// memStore is an in-memory stand-in for the durable queue.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []models.PendingNotification
}

func newMemStore() *memStore { return &memStore{} }

func (m *memStore) EnqueueNotification(ctx context.Context, n models.PendingNotification) (models.PendingNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	n.CreatedAt = time.Now()
	m.rows = append(m.rows, n)
	return n, nil
}

func (m *memStore) UndeliveredFor(ctx context.Context, sessionID string) ([]models.PendingNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PendingNotification
	for _, r := range m.rows {
		if r.SessionID == sessionID && !r.Delivered {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) DuePending(ctx context.Context, now time.Time, maxAttempts int) ([]models.PendingNotification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PendingNotification
	for _, r := range m.rows {
		if !r.Delivered && r.Attempts < maxAttempts && !r.NextRetryAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) MarkDelivered(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].Delivered = true
			return nil
		}
	}
	return errors.New("not found")
}

func (m *memStore) Reschedule(ctx context.Context, id int64, attempts int, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].Attempts = attempts
			m.rows[i].NextRetryAt = next
			return nil
		}
	}
	return errors.New("not found")
}

func (m *memStore) ArchiveMatch(ctx context.Context, rec models.MatchRecord) error { return nil }

func (m *memStore) PlayerStats(ctx context.Context, name string) (models.PlayerStats, bool, error) {
	return models.PlayerStats{PlayerName: name}, false, nil
}

func (m *memStore) UpsertPlayerStats(ctx context.Context, s models.PlayerStats) error { return nil }

func (m *memStore) row(id int64) models.PendingNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			return r
		}
	}
	return models.PendingNotification{}
}

func (m *memStore) all() []models.PendingNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PendingNotification, len(m.rows))
	copy(out, m.rows)
	return out
}

// fakeConn records writes and can be told to fail after N sends.
type fakeConn struct {
	mu        sync.Mutex
	sent      [][]byte
	failAfter int // -1 never fails
}

func newFakeConn(failAfter int) *fakeConn {
	return &fakeConn{failAfter: failAfter}
}

func (f *fakeConn) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && len(f.sent) >= f.failAfter {
		return errors.New("connection reset")
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeConn) messages() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, raw := range f.sent {
		var m map[string]interface{}
		if json.Unmarshal(raw, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

func setupNotifier() (*Notifier, *session.Registry, *memStore) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	reg := session.NewRegistry(l)
	st := newMemStore()
	return New(reg, st, l), reg, st
}

func TestSendPushesOverLiveConnection(t *testing.T) {
	n, reg, st := setupNotifier()
	reg.Touch("s1", "alice")
	conn := newFakeConn(-1)
	reg.Attach("s1", conn)

	n.Send("s1", "state", map[string]interface{}{"board": "X........"})

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "state", msgs[0]["t"])
	assert.Equal(t, "X........", msgs[0]["board"])
	assert.Empty(t, st.all(), "live delivery must not queue")
}

func TestSendQueuesWhenOffline(t *testing.T) {
	n, reg, st := setupNotifier()
	reg.Touch("s1", "alice")

	before := time.Now()
	n.Send("s1", "over", map[string]interface{}{"result": "X_wins"})

	rows := st.all()
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0].SessionID)
	assert.Equal(t, "over", rows[0].Type)
	assert.Equal(t, 0, rows[0].Attempts)
	assert.False(t, rows[0].Delivered)

	// First retry lands roughly firstRetryDelay out.
	assert.True(t, rows[0].NextRetryAt.After(before.Add(firstRetryDelay-time.Second)))
	assert.True(t, rows[0].NextRetryAt.Before(before.Add(firstRetryDelay+time.Second)))
}

func TestSendFallsBackToQueueOnWriteFailure(t *testing.T) {
	n, reg, st := setupNotifier()
	reg.Touch("s1", "alice")
	reg.Attach("s1", newFakeConn(0)) // every write fails

	n.Send("s1", "state", map[string]interface{}{})

	require.Len(t, st.all(), 1)
}

func TestRegisterFlushesBacklogInOrder(t *testing.T) {
	n, reg, st := setupNotifier()
	reg.Touch("s1", "alice")

	n.Send("s1", "waiting", map[string]interface{}{"game": "tictactoe"})
	n.Send("s1", "match", map[string]interface{}{"seat": 1})
	n.Send("s1", "state", map[string]interface{}{"board": "........."})
	require.Len(t, st.all(), 3)

	conn := newFakeConn(-1)
	n.Register("s1", conn)

	msgs := conn.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "connection_confirmed", msgs[0]["t"])
	assert.Equal(t, "waiting", msgs[1]["t"])
	assert.Equal(t, "match", msgs[2]["t"])
	assert.Equal(t, "state", msgs[3]["t"])

	for _, row := range st.all() {
		assert.True(t, row.Delivered, "row %d should be delivered", row.ID)
	}
}

func TestFlushStopsAtFirstFailure(t *testing.T) {
	n, reg, st := setupNotifier()
	reg.Touch("s1", "alice")

	n.Send("s1", "waiting", nil)
	n.Send("s1", "match", nil)
	n.Send("s1", "state", nil)

	// Confirmation + first backlog message succeed, then the pipe breaks.
	conn := newFakeConn(2)
	n.Register("s1", conn)

	rows := st.all()
	assert.True(t, rows[0].Delivered)
	assert.False(t, rows[1].Delivered, "replay must stop at the failure")
	assert.False(t, rows[2].Delivered)
}

func TestRetrySweepDeliversDueMessages(t *testing.T) {
	n, reg, st := setupNotifier()
	reg.Touch("s1", "alice")

	queued, err := st.EnqueueNotification(context.Background(), models.PendingNotification{
		SessionID:   "s1",
		Type:        "over",
		Payload:     []byte(`{"t":"over"}`),
		NextRetryAt: time.Now().Add(-time.Second),
	})
	require.NoError(t, err)

	conn := newFakeConn(-1)
	reg.Attach("s1", conn)
	n.SweepRetries(context.Background())

	assert.True(t, st.row(queued.ID).Delivered)
	require.Len(t, conn.messages(), 1)
}

func TestRetrySweepBacksOffExponentially(t *testing.T) {
	n, reg, st := setupNotifier()
	reg.Touch("s1", "alice")
	reg.Attach("s1", newFakeConn(0))

	queued, _ := st.EnqueueNotification(context.Background(), models.PendingNotification{
		SessionID:   "s1",
		Payload:     []byte(`{}`),
		NextRetryAt: time.Now().Add(-time.Second),
	})

	before := time.Now()
	n.SweepRetries(context.Background())

	row := st.row(queued.ID)
	assert.Equal(t, 1, row.Attempts)
	// 2^1 seconds out.
	assert.True(t, row.NextRetryAt.After(before.Add(time.Second)))
	assert.True(t, row.NextRetryAt.Before(before.Add(3*time.Second)))
}

func TestRetrySweepDefersWithoutConnection(t *testing.T) {
	n, reg, st := setupNotifier()
	reg.Touch("s1", "alice")

	queued, _ := st.EnqueueNotification(context.Background(), models.PendingNotification{
		SessionID:   "s1",
		Payload:     []byte(`{}`),
		Attempts:    1,
		NextRetryAt: time.Now().Add(-time.Second),
	})

	before := time.Now()
	n.SweepRetries(context.Background())

	// Absence of a channel costs no attempt, just a flat defer.
	row := st.row(queued.ID)
	assert.Equal(t, 1, row.Attempts)
	assert.True(t, row.NextRetryAt.After(before.Add(noConnDefer-time.Second)))
}

func TestRetrySweepAbandonsAfterMaxAttempts(t *testing.T) {
	n, reg, st := setupNotifier()
	reg.Touch("s1", "alice")
	conn := newFakeConn(-1)
	reg.Attach("s1", conn)

	queued, _ := st.EnqueueNotification(context.Background(), models.PendingNotification{
		SessionID:   "s1",
		Payload:     []byte(`{}`),
		Attempts:    maxAttempts,
		NextRetryAt: time.Now().Add(-time.Hour),
	})

	n.SweepRetries(context.Background())

	// Exhausted messages are never retried, even over a healthy connection.
	assert.Empty(t, conn.messages())
	assert.False(t, st.row(queued.ID).Delivered)
}

func TestHeartbeatSweepTracksHealth(t *testing.T) {
	n, reg, _ := setupNotifier()
	reg.Touch("good", "alice")
	reg.Touch("bad", "bob")
	goodConn := newFakeConn(-1)
	reg.Attach("good", goodConn)
	reg.Attach("bad", newFakeConn(0))

	n.SweepHeartbeats(context.Background())

	h, ok := reg.Health("good")
	require.True(t, ok)
	assert.Equal(t, 1, h.PingCount)
	assert.Equal(t, 0, h.MissedPings)
	assert.Equal(t, 1.0, h.QualityScore)

	h, _ = reg.Health("bad")
	assert.Equal(t, 1, h.PingCount)
	assert.Equal(t, 1, h.MissedPings)
	assert.InDelta(t, 0.9, h.QualityScore, 1e-9)

	msgs := goodConn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "heartbeat", msgs[0]["t"])
}

func TestHeartbeatAckRecoversQuality(t *testing.T) {
	n, reg, _ := setupNotifier()
	reg.Touch("s1", "alice")
	reg.RecordMissedPing("s1")
	reg.RecordMissedPing("s1")

	n.HandleHeartbeatAck("s1")

	h, _ := reg.Health("s1")
	assert.Equal(t, 0, h.MissedPings)
	assert.InDelta(t, 0.91, h.QualityScore, 1e-9)
}

func TestEnvelopeCarriesTypeDiscriminator(t *testing.T) {
	data := envelope("match", map[string]interface{}{"seat": 1})
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "match", m["t"])
	assert.Equal(t, float64(1), m["seat"])
}
