package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rustyeddy/spiralbot/journal"
)

const (
	streamPollInterval = time.Second
	streamWriteWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	// The dashboard frontend may be served from a different origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades to a websocket and pushes journal records as
// they appear, polling the shared log so the stream works across
// process boundaries. The log is append-only, so the record count is a
// reliable cursor.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// We never expect client messages, but reading is how close
	// frames are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	seen := -1

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		recs, err := s.journal.Tail(0, journal.Filter{})
		if err != nil {
			s.log.Warn("stream tail failed", zap.Error(err))
		}

		if seen < 0 {
			// Joining mid-session: replay only the latest record.
			seen = len(recs)
			if len(recs) > 0 {
				if !s.push(conn, recs[len(recs)-1]) {
					return
				}
			}
		} else if len(recs) > seen {
			for _, rec := range recs[seen:] {
				if !s.push(conn, rec) {
					return
				}
			}
			seen = len(recs)
		}

		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) push(conn *websocket.Conn, rec journal.EventRecord) bool {
	conn.SetWriteDeadline(s.now().Add(streamWriteWait))
	return conn.WriteJSON(toEventJSON([]journal.EventRecord{rec})[0]) == nil
}
