package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"stakevault/core"
)

const wsWriteTimeout = 10 * time.Second

type eventStreamPayload struct {
	Type       string            `json:"type"`
	Cursor     string            `json:"cursor"`
	Sequence   uint64            `json:"sequence"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  int64             `json:"ts"`
}

// handleEventsWS streams committed ledger events over a websocket. The
// optional cursor query parameter resumes after a previously seen sequence.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := r.URL.Query().Get("cursor")
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	if err := s.streamEvents(r.Context(), conn, cursor); err != nil {
		if websocket.CloseStatus(err) == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog, err := s.ledger.SubscribeEvents(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	for _, update := range backlog {
		if err := writeEventUpdate(ctx, conn, update); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEventUpdate(ctx, conn, update); err != nil {
				return err
			}
		}
	}
}

func writeEventUpdate(ctx context.Context, conn *websocket.Conn, update core.EventUpdate) error {
	payload := eventStreamPayload{
		Type:       update.Type,
		Cursor:     update.Cursor,
		Sequence:   update.Sequence,
		Attributes: update.Attributes,
		Timestamp:  update.Timestamp,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancelWrite()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
