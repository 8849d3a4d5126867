package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/archivist/internal/events"
)

const sseKeepAlive = 15 * time.Second

// handleEvents handles GET /events. Buffered events newer than Last-Event-ID
// are replayed before live ones; ?site= restricts the stream to one site.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	site := r.URL.Query().Get("site")
	if site != "" && !s.canMaintain(r, site) {
		s.writeError(w, http.StatusForbidden, "not a maintainer of this site")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe first so nothing published during the replay is missed.
	live, cancel := s.events.Subscribe()
	defer cancel()

	st := sseStream{w: w, site: site, lastID: lastEventID(r)}
	for _, ev := range s.events.SnapshotSince(st.lastID) {
		if err := st.send(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if err := st.send(ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ping.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type sseStream struct {
	w      io.Writer
	site   string
	lastID int64
}

// send writes ev unless it was already sent or belongs to another site.
func (st *sseStream) send(ev events.Event) error {
	if ev.ID <= st.lastID {
		return nil
	}
	st.lastID = ev.ID
	if st.site != "" {
		if p, err := ev.Decode(); err != nil || p.SiteID != st.site {
			return nil
		}
	}
	_, err := fmt.Fprintf(st.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}

func lastEventID(r *http.Request) int64 {
	n, err := strconv.ParseInt(r.Header.Get("Last-Event-ID"), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
