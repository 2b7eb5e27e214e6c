package feed

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/surveysync/internal/identity"
)

const writeTimeout = 10 * time.Second

// WebSocketHandler upgrades management clients to a response feed. The
// request must already be authenticated with an API key for the
// environment named by the environmentId query parameter.
type WebSocketHandler struct {
	hub            *Hub
	originPatterns []string
}

// NewWebSocketHandler creates the feed endpoint.
func NewWebSocketHandler(hub *Hub, originPatterns []string) *WebSocketHandler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &WebSocketHandler{hub: hub, originPatterns: originPatterns}
}

// ServeHTTP implements http.Handler.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	environmentID := r.URL.Query().Get("environmentId")
	if environmentID == "" {
		http.Error(w, `{"code":"bad_request","message":"environmentId is required"}`, http.StatusBadRequest)
		return
	}
	if identity.EnvironmentIDFromContext(r.Context()) != environmentID {
		http.Error(w, `{"code":"forbidden","message":"You are not authorized to access this environment"}`, http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "environment_id", environmentID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "environment_id", environmentID)
		}
	}()

	sub := h.hub.Subscribe(environmentID)
	defer sub.Close()

	// The feed is write-only; CloseRead handles control frames and cancels
	// ctx when the client goes away.
	ctx := ws.CloseRead(r.Context())
	h.writeLoop(ctx, ws, sub, environmentID)
}

func (h *WebSocketHandler) writeLoop(ctx context.Context, ws *websocket.Conn, sub *Subscription, environmentID string) {
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Feed client disconnected", "environment_id", environmentID)
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, ws, event)
			cancel()
			if err != nil {
				slog.Debug("Feed write failed", "error", err, "environment_id", environmentID)
				return
			}
		}
	}
}
