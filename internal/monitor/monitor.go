// Package monitor streams live buffer statistics to websocket clients.
package monitor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pushInterval = time.Second
)

var upgrader = websocket.Upgrader{}

// SnapshotFunc reports a snapshot of buffer state, safe for concurrent use.
type SnapshotFunc func() any

// StatsStream upgrades the request to a websocket and pushes a stats
// snapshot every second until the client disconnects.
func StatsStream(snapshot SnapshotFunc, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer closeWebsocket(ws, logger)

		// Drain reads so close frames from the client are processed.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					logger.Error().Err(err).Msg("failed to set write deadline")
					return
				}
				if err := ws.WriteJSON(snapshot()); err != nil {
					logger.Debug().Err(err).Msg("stats push ended")
					return
				}
			}
		}
	}
}

func closeWebsocket(ws *websocket.Conn, logger zerolog.Logger) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil && err != websocket.ErrCloseSent {
		logger.Debug().Err(err).Msg("websocket close failed")
	}
	_ = ws.Close()
}
