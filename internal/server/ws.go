package server

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// registerStream mounts the push-only websocket endpoint. It bypasses
// huma: websocket upgrades need the raw ResponseWriter.
func registerStream(router chi.Router, basePath string, cfg Config) {
	if cfg.Hub == nil {
		return
	}
	route := path.Join(basePath, "conversations/{id}/stream")
	router.Get(route, func(w http.ResponseWriter, r *http.Request) {
		actorID, authErr := actorIDFromContext(r.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		conversationID := chi.URLParam(r, "id")
		// visibility check before upgrading
		if _, err := cfg.Engine.GetConversation(r.Context(), conversationID, actorID); err != nil {
			respondStatusError(w, handleError(err))
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return // Accept already wrote the error response
		}
		// push-only: reading keeps control frames flowing
		readCtx := conn.CloseRead(r.Context())

		sub := cfg.Hub.Subscribe(conversationID)
		defer sub.Close()
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		for {
			select {
			case <-readCtx.Done():
				return
			case <-sub.Resync:
				writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := wsjson.Write(writeCtx, conn, wsFrame{Type: "resync"})
				cancel()
				if err != nil {
					return
				}
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := wsjson.Write(writeCtx, conn, wsFrame{Type: "message", Data: msg})
				cancel()
				if err != nil {
					return
				}
			}
		}
	})
}
