// internal/notify/notifier.go
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/markreid/faceoff/internal/models"
	"github.com/markreid/faceoff/internal/session"
	"github.com/markreid/faceoff/internal/store"
)

const (
	// maxAttempts bounds delivery retries; a message that fails this many
	// times is abandoned and clients recover via the poll path.
	maxAttempts = 3

	// firstRetryDelay is the initial retry distance for a freshly enqueued
	// message.
	firstRetryDelay = 5 * time.Second

	// noConnDefer postpones a queued message when the session has no live
	// connection at all; absence of a channel is not a delivery failure and
	// does not consume an attempt.
	noConnDefer = 30 * time.Second

	// RetryInterval is how often the retry sweep scans the queue.
	RetryInterval = 10 * time.Second

	// HeartbeatInterval is how often live connections are probed.
	HeartbeatInterval = 30 * time.Second

	sendTimeout = 3 * time.Second
)

// Notifier guarantees at-least-once, per-session-ordered delivery of push
// messages to sessions whose connections may be absent or flapping. Live
// pushes go straight out; everything else lands in the durable pending
// queue and is replayed by the retry sweep or the flush on reconnect.
type Notifier struct {
	registry *session.Registry
	store    store.Store
	log      *logrus.Logger
}

// New wires a Notifier to the session registry and the durable queue.
func New(registry *session.Registry, st store.Store, log *logrus.Logger) *Notifier {
	return &Notifier{registry: registry, store: st, log: log}
}

// Send pushes a typed message to a session: immediately over the live
// connection when one exists, otherwise into the durable queue. A failed
// immediate push also falls back to the queue, so game logic never sees
// transport errors.
func (n *Notifier) Send(sessionID, msgType string, payload map[string]interface{}) {
	data := envelope(msgType, payload)

	conn, ok := n.registry.Conn(sessionID)
	if ok {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := conn.Send(ctx, data)
		cancel()
		if err == nil {
			return
		}
		n.log.Warnf("notify: push to %s failed, queueing: %v", sessionID, err)
	}
	n.enqueue(sessionID, msgType, data)
}

// Register attaches a live connection, confirms it to the client, and
// flushes the session's undelivered backlog in original enqueue order.
func (n *Notifier) Register(sessionID string, conn session.PushConn) {
	n.registry.Attach(sessionID, conn)

	confirm := envelope("connection_confirmed", map[string]interface{}{
		"sessionId": sessionID,
		"timestamp": time.Now().UnixMilli(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	if err := conn.Send(ctx, confirm); err != nil {
		n.log.Warnf("notify: connection confirmation to %s failed: %v", sessionID, err)
	}
	cancel()

	n.flushPending(sessionID, conn)
}

// Unregister drops the live connection for a session.
func (n *Notifier) Unregister(sessionID string) {
	n.registry.Detach(sessionID)
}

// HandleHeartbeatAck processes a client's heartbeat response.
func (n *Notifier) HandleHeartbeatAck(sessionID string) {
	n.registry.RecordPong(sessionID)
}

// flushPending replays undelivered messages FIFO over a fresh connection.
// The replay stops at the first send failure; the remainder stays queued
// for the retry sweep.
func (n *Notifier) flushPending(sessionID string, conn session.PushConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pending, err := n.store.UndeliveredFor(ctx, sessionID)
	if err != nil {
		n.log.Errorf("notify: loading backlog for %s: %v", sessionID, err)
		return
	}
	delivered := 0
	for _, msg := range pending {
		sendCtx, sendCancel := context.WithTimeout(context.Background(), sendTimeout)
		err := conn.Send(sendCtx, msg.Payload)
		sendCancel()
		if err != nil {
			n.log.Warnf("notify: backlog replay to %s stopped after %d messages: %v", sessionID, delivered, err)
			break
		}
		if err := n.store.MarkDelivered(ctx, msg.ID); err != nil {
			n.log.Errorf("notify: marking %d delivered: %v", msg.ID, err)
		}
		delivered++
	}
	if delivered > 0 {
		n.log.Infof("notify: replayed %d queued messages to %s", delivered, sessionID)
	}
}

func (n *Notifier) enqueue(sessionID, msgType string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := n.store.EnqueueNotification(ctx, models.PendingNotification{
		SessionID:   sessionID,
		Type:        msgType,
		Payload:     data,
		NextRetryAt: time.Now().Add(firstRetryDelay),
	})
	if err != nil {
		// Persistence failure: the message is lost for offline sessions,
		// but the client can recover state through the poll path.
		n.log.Errorf("notify: queueing %s for %s: %v", msgType, sessionID, err)
	}
}

// RunRetrySweep rescans the pending queue on every tick until the context
// is cancelled.
func (n *Notifier) RunRetrySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.SweepRetries(ctx)
		}
	}
}

// SweepRetries attempts redelivery of every due message. Failures back off
// exponentially (2^attempts seconds); sessions with no connection get a
// flat defer without consuming an attempt.
func (n *Notifier) SweepRetries(ctx context.Context) {
	due, err := n.store.DuePending(ctx, time.Now(), maxAttempts)
	if err != nil {
		n.log.Errorf("notify: retry sweep query: %v", err)
		return
	}
	for _, msg := range due {
		conn, ok := n.registry.Conn(msg.SessionID)
		if !ok {
			if err := n.store.Reschedule(ctx, msg.ID, msg.Attempts, time.Now().Add(noConnDefer)); err != nil {
				n.log.Errorf("notify: deferring %d: %v", msg.ID, err)
			}
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		sendErr := conn.Send(sendCtx, msg.Payload)
		cancel()
		if sendErr == nil {
			if err := n.store.MarkDelivered(ctx, msg.ID); err != nil {
				n.log.Errorf("notify: marking %d delivered: %v", msg.ID, err)
			}
			continue
		}
		attempts := msg.Attempts + 1
		backoff := time.Duration(1<<attempts) * time.Second
		if err := n.store.Reschedule(ctx, msg.ID, attempts, time.Now().Add(backoff)); err != nil {
			n.log.Errorf("notify: rescheduling %d: %v", msg.ID, err)
		}
		n.log.Warnf("notify: retry to %s failed (attempt %d/%d): %v", msg.SessionID, attempts, maxAttempts, sendErr)
	}
}

// RunHeartbeatSweep probes every live connection on each tick until the
// context is cancelled.
func (n *Notifier) RunHeartbeatSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.SweepHeartbeats(ctx)
		}
	}
}

// SweepHeartbeats sends a heartbeat probe to each live connection, updating
// the session's connection health on the outcome.
func (n *Notifier) SweepHeartbeats(ctx context.Context) {
	for sessionID, conn := range n.registry.LiveConns() {
		probe := envelope("heartbeat", map[string]interface{}{
			"timestamp": time.Now().UnixMilli(),
		})
		n.registry.RecordPing(sessionID)

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := conn.Send(sendCtx, probe)
		cancel()
		if err != nil {
			n.registry.RecordMissedPing(sessionID)
			n.log.Warnf("notify: heartbeat to %s failed: %v", sessionID, err)
		}
	}
}

// envelope marshals a typed message with the wire "t" discriminator.
func envelope(msgType string, payload map[string]interface{}) []byte {
	msg := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["t"] = msgType
	data, err := json.Marshal(msg)
	if err != nil {
		// Payloads are built from plain maps and scalars; this cannot
		// reasonably fail at runtime.
		return []byte(`{"t":"` + msgType + `"}`)
	}
	return data
}
