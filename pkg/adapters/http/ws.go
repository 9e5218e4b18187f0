package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aretw0/sasya"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/stream"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsEmitter writes each event as one JSON text message.
type wsEmitter struct {
	conn *websocket.Conn
}

func (e wsEmitter) Emit(ctx context.Context, ev domain.OutputEvent) error {
	return wsjson.Write(ctx, e.conn, ev)
}

// GetChatWebSocket handles GET /v1/chat/ws. Each incoming message is a TurnRequest;
// the events of its turn are written back in order. Turns on one connection run one
// after another, and the session ID of the first turn sticks when later ones omit it.
func (s *Server) GetChatWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		s.logger.Warn("Failed to accept websocket", "err", err)
		return
	}
	conn.SetReadLimit(maxBodySize)
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := r.Context()
	out := wsEmitter{conn: conn}
	sessionID := ""
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				s.logger.Debug("Websocket closed by client", "session_id", sessionID)
			} else {
				s.logger.Warn("Websocket read failed", "session_id", sessionID, "err", err)
			}
			return
		}
		var req sasya.TurnRequest
		if typ != websocket.MessageText || json.Unmarshal(data, &req) != nil {
			if out.Emit(ctx, domain.ErrorEvent(sessionID, domain.ErrorInvalidInput, "invalid message")) != nil ||
				out.Emit(ctx, domain.DoneEvent(sessionID)) != nil {
				return
			}
			continue
		}
		if req.SessionID == "" {
			req.SessionID = sessionID
		}

		res, err := s.Engine.Stream(ctx, req, out)
		if err != nil && !errors.Is(err, domain.ErrSessionBusy) {
			s.logger.Error("Websocket turn failed", "session_id", req.SessionID, "err", err)
		}
		if res != nil && sessionID == "" {
			sessionID = res.SessionID
		}
		if ctx.Err() != nil {
			return
		}
	}
}

var _ stream.Emitter = wsEmitter{}
