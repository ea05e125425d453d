package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/miloview/miloview/internal/bus"
)

// wsEnvelope is the wire format for every pushed event.
type wsEnvelope struct {
	Type       string    `json:"type"`
	EventID    string    `json:"eventId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}

// wsCommand is a client-to-server request over the socket.
type wsCommand struct {
	Type string `json:"type"`
}

// wireType maps internal bus kinds to the event names the dashboard
// frontend listens for.
func wireType(kind string) string {
	switch kind {
	case bus.KindSyncProgress:
		return "loading-progress"
	case bus.KindSyncNewMessages:
		return "new-messages"
	case bus.KindSyncFullComplete:
		return "messages-updated"
	case bus.KindBlockChanged:
		return "number-blocked"
	case "daemon.status_changed":
		return "connection-status"
	default:
		return kind
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsub := s.bus.Subscribe("", 64)
	defer unsub()

	if err := s.push(ctx, conn, "connection-status", map[string]any{
		"status":   "connected",
		"demoMode": s.controller.Status().DemoMode,
	}); err != nil {
		return
	}

	go s.readCommands(ctx, cancel, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			if err := s.push(ctx, conn, wireType(evt.Kind), evt.Payload); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	return wsjson.Write(ctx, conn, wsEnvelope{
		Type:       typ,
		EventID:    uuid.New().String(),
		OccurredAt: time.Now(),
		Payload:    payload,
	})
}

// readCommands serves the dashboard's pull-style requests until the
// peer disconnects.
func (s *Server) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		var cmd wsCommand
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			return
		}
		switch cmd.Type {
		case "request-full-update":
			_ = s.push(ctx, conn, "full-update-complete", map[string]any{
				"conversations": s.conversationSummaries("all"),
				"totalMessages": s.cache.Len(),
			})
		case "check-new-messages":
			added, err := s.controller.Incremental(ctx)
			if err != nil {
				s.logger.Warn("socket-triggered sync failed", zap.Error(err))
			}
			_ = s.push(ctx, conn, "new-messages-checked", map[string]any{
				"newMessages":   added,
				"totalMessages": s.cache.Len(),
			})
		default:
			s.logger.Debug("unknown socket command", zap.String("type", cmd.Type))
		}
	}
}
