package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quantglass/depthbridge/domain"
	"github.com/quantglass/depthbridge/feed"
)

// Server is the consumer surface: one SSE stream and one websocket stream
// of feed updates, plus JSON endpoints for last-known books, metrics and
// venue status.
type Server struct {
	mux  *http.ServeMux
	feed *feed.Feed
	log  *logrus.Entry
}

func New(f *feed.Feed) *Server {
	s := &Server{
		mux:  http.NewServeMux(),
		feed: f,
		log:  logrus.WithField("component", "server"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/stream/orderbook", http.HandlerFunc(s.handleOrderbookStream))
	s.mux.Handle("/ws", http.HandlerFunc(s.handleWebsocket))
	s.mux.Handle("/api/venues", http.HandlerFunc(s.handleVenues))
	s.mux.Handle("/api/orderbook", http.HandlerFunc(s.handleOrderbook))
	s.mux.Handle("/api/metrics", http.HandlerFunc(s.handleMetrics))
	s.mux.Handle("/healthz", http.HandlerFunc(s.handleHealth))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleOrderbookStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.log.Errorf("/stream/orderbook flusher unsupported: %T", w)
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := s.feed.Subscribe()
	defer sub.Unsubscribe()

	venue := domain.VenueID(r.URL.Query().Get("venue"))
	ctx := r.Context()
	for {
		select {
		case update, ok := <-sub.Stream:
			if !ok {
				return
			}
			if venue != "" && update.Venue != venue {
				continue
			}
			data, err := json.Marshal(update)
			if err != nil {
				continue
			}
			w.Write([]byte("event: orderbook\n"))
			w.Write([]byte("data: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket accept failed: %s", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	sub := s.feed.Subscribe()
	defer sub.Unsubscribe()

	venue := domain.VenueID(r.URL.Query().Get("venue"))
	ctx := r.Context()
	for {
		select {
		case update, ok := <-sub.Stream:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "feed closed")
				return
			}
			if venue != "" && update.Venue != venue {
				continue
			}
			if err := wsjson.Write(ctx, conn, update); err != nil {
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		}
	}
}

func (s *Server) handleVenues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.feed.Status())
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	venue := domain.VenueID(r.URL.Query().Get("venue"))
	book, err := s.feed.Book(venue)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, book)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	venue := domain.VenueID(r.URL.Query().Get("venue"))
	m, err := s.feed.Metrics(venue)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, m)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"venues": s.feed.Status(),
		"time":   time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
