package debugapi

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rain-io/rain/server/internal/eventlog"
)

// upgrader uses buffered read/write; origin checking is left to a reverse
// proxy in front of this debug endpoint since it is operator-only, not
// multi-tenant.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEventStream upgrades to a websocket and republishes every event
// appended to the log from that point on — a single-writer loop per
// connection, scoped to one client instead of fanning out to a shared
// client set.
func handleEventStream(log *zap.Logger, events *eventlog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		ch, cancel := events.Tail(r.Context())
		defer cancel()

		for ev := range ch {
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("event stream client disconnected", zap.Error(err))
				return
			}
		}
	}
}
