package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/authtoken"
	"github.com/ahmadjamalnasir/VPN-backend/internal/metrics"
	"github.com/ahmadjamalnasir/VPN-backend/internal/observability"
	"github.com/ahmadjamalnasir/VPN-backend/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// upgrader is shared across both the per-subscriber and operator push
// endpoints. CheckOrigin accepts every origin; the CORS middleware in
// front of the router only sets response headers and does not refuse a
// handshake from an unlisted origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// sessionStatusSource adapts the Session Manager's Status call into the
// metrics.SnapshotSource the per-subscriber push loop samples.
type sessionStatusSource struct {
	sessions *session.Manager
}

func (s sessionStatusSource) Sample(ctx context.Context, subscriberID uuid.UUID) (metrics.Snapshot, bool, error) {
	snap, err := s.sessions.Status(ctx, subscriberID, uuid.Nil)
	if err != nil {
		return metrics.Snapshot{}, false, err
	}
	connected := snap.Session.Status == session.StatusConnected
	return metrics.Snapshot{
		Timestamp:       time.Now(),
		SessionID:       snap.Session.ID,
		Status:          string(snap.Session.Status),
		CumulativeBytes: snap.Session.BytesSent + snap.Session.BytesReceived,
		ThroughputMbps:  snap.AverageMbps,
		LatencyMillis:   snap.ServerPing,
		ServerLoad:      snap.ServerLoad,
	}, connected, nil
}

func (h *Handlers) handleLiveMetrics(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classWebsocketSession) {
		return
	}
	claims, ok := authtoken.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthenticated, "missing bearer token"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.pushRegistry.Open(claims.SubscriberID)
	defer h.pushRegistry.Close(claims.SubscriberID, ch)
	observability.AdjustWSConnectionsActive("session", 1)
	defer observability.AdjustWSConnectionsActive("session", -1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go metrics.Run(ctx, claims.SubscriberID, ch, sessionStatusSource{sessions: h.sessions}, h.cfg.MetricsPushInterval())
	go discardInboundFrames(conn, cancel)

	pumpChannelToSocket(ctx, conn, ch)
}

func (h *Handlers) handleOperatorLiveMetrics(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.operatorHub.Subscribe()
	defer h.operatorHub.Unsubscribe(ch)
	observability.AdjustWSConnectionsActive("operator", 1)
	defer observability.AdjustWSConnectionsActive("operator", -1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardInboundFrames(conn, cancel)

	pumpAggregateChannelToSocket(ctx, conn, ch)
}

// pumpChannelToSocket forwards every snapshot Send onto the channel as a
// JSON text frame until the channel closes, the context ends, or a write
// fails.
func pumpChannelToSocket(ctx context.Context, conn *websocket.Conn, ch *metrics.Channel) {
	for {
		select {
		case snap, ok := <-ch.Snapshots():
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ch.Closed():
			return
		case <-ctx.Done():
			return
		}
	}
}

// pumpAggregateChannelToSocket is pumpChannelToSocket's counterpart for
// the operator feed's own snapshot type.
func pumpAggregateChannelToSocket(ctx context.Context, conn *websocket.Conn, ch *metrics.AggregateChannel) {
	for {
		select {
		case snap, ok := <-ch.Snapshots():
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ch.Closed():
			return
		case <-ctx.Done():
			return
		}
	}
}

// discardInboundFrames keeps the connection's read pump alive so gorilla's
// ping/pong and close-frame handling still fires; these endpoints are
// server-to-client push only, so anything the client sends is dropped.
func discardInboundFrames(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
