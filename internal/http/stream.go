package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// dashboards are served from other origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLiveFeedStream pushes the live feed over a websocket: once on
// connect and again whenever the session changes.
func (s *Server) handleLiveFeedStream(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()

	// subscribe before the first read so no change slips in between
	events, cancel := s.Hub.Subscribe(id)
	defer cancel()
	snapshot, err := s.Feed.LiveFeed(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		return
	}
	defer conn.Close()

	// The client never sends data; reading only services control frames and
	// notices when it goes away.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := s.Log.WithField("session_id", id)
	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(v); err != nil {
			log.WithError(err).Debug("live feed write failed")
			return false
		}
		return true
	}
	if !write(snapshot) {
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case <-events:
			feed, err := s.Feed.LiveFeed(ctx, id)
			if err != nil {
				log.WithError(err).Warn("live feed refresh failed")
				continue
			}
			if !write(feed) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
