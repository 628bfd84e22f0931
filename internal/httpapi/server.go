// Package httpapi is the gateway's external surface: the `/v1/ws/tts`
// WebSocket endpoint (spec.md §4.8/§6) and the `GET /v1/audio/{fingerprint}`
// byte-serving endpoint. It forwards everything to the Dispatcher,
// Evictor, and audio Cache; it owns no synthesis state itself. Routing
// and connection handling follow the teacher's
// internal/fabric.WebSocketSpoke shape (gorilla/mux + gorilla/websocket,
// ping/pong keepalive, one writer goroutine per connection).
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/yapit-tts/yapit-sub000/internal/cache"
	"github.com/yapit-tts/yapit-sub000/internal/dispatcher"
	"github.com/yapit-tts/yapit-sub000/internal/evictor"
	"github.com/yapit-tts/yapit-sub000/internal/fanout"
	"github.com/yapit-tts/yapit-sub000/internal/fingerprint"
	"github.com/yapit-tts/yapit-sub000/internal/ratelimit"
	"github.com/yapit-tts/yapit-sub000/internal/telemetry"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Server wires the WebSocket and audio-GET endpoints to the rest of the
// synthesis pipeline.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	evictor    *evictor.Evictor
	bus        *fanout.Bus
	cache      *cache.Cache
	registry   *fingerprint.Registry
	limiter    *ratelimit.Limiter
	auth       Authenticator
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// New builds a Server. allowedOrigins mirrors the teacher's
// buildCheckOrigin: empty means accept any origin (development), a
// non-empty list restricts upgrades to those origins (production).
func New(
	d *dispatcher.Dispatcher,
	ev *evictor.Evictor,
	bus *fanout.Bus,
	audioCache *cache.Cache,
	registry *fingerprint.Registry,
	limiter *ratelimit.Limiter,
	auth Authenticator,
	metrics *telemetry.Metrics,
	allowedOrigins []string,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		dispatcher: d,
		evictor:    ev,
		bus:        bus,
		cache:      audioCache,
		registry:   registry,
		limiter:    limiter,
		auth:       auth,
		metrics:    metrics,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
			Subprotocols:    []string{},
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool { return set[r.Header.Get("Origin")] }
}

// Router builds the mux.Router serving both endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/ws/tts", s.handleWebSocket)
	r.HandleFunc("/v1/audio/{fingerprint}", s.handleAudioGet).Methods(http.MethodGet)
	return r
}
