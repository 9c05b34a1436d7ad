package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/pkg/logger"
	"pairlink/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServerOptions tunes connection keepalive and abuse limits.
type ServerOptions struct {
	PingInterval       time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxMessageBytes    int64
	MessagesPerSecond  float64
	MessageBurst       int
}

func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageBytes:   64 * 1024,
		MessagesPerSecond: 100,
		MessageBurst:      200,
	}
}

// WebSocketServer accepts signaling transports, registers them under the
// participant's identity and pumps inbound messages through the router. One
// goroutine reads the socket; handling stays single-threaded per connection
// so messages from a transport are processed in arrival order.
type WebSocketServer struct {
	registry *Registry
	router   *Router
	opts     ServerOptions
	logger   *zap.SugaredLogger
	clog     *logger.ContextLogger
}

func NewWebSocketServer(registry *Registry, router *Router, opts ServerOptions, log *zap.SugaredLogger) *WebSocketServer {
	if opts.PingInterval <= 0 {
		opts = DefaultServerOptions()
	}
	return &WebSocketServer{
		registry: registry,
		router:   router,
		opts:     opts,
		logger:   log,
		clog:     logger.NewContextLogger(log.Desugar()),
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(r.URL.Query().Get("user_id"))
	if userID == "" {
		// Anonymous participants still need a stable identifier so a
		// reconnect can reclaim its session.
		userID = domain.UserID(utils.GenerateUserID())
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	transport := newWSTransport(conn, s.opts.WriteTimeout)

	// Connection-scoped logs pick the participant identity up from the
	// context instead of repeating it per line.
	ctx := context.WithValue(r.Context(), logger.UserIDKey, string(userID))
	clog := s.clog.WithContext(ctx).Sugar()

	// Re-registering an identity overwrites the previous transport; closing
	// the stale one is on us, not the registry.
	if old, reconnect := s.registry.Get(userID); reconnect {
		old.Close()
		clog.Infow("closing stale transport for reconnecting participant")
	}
	s.registry.Register(userID, transport)

	s.router.HandleConnect(ctx, userID)
	clog.Infow("participant connected")

	if s.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.opts.MaxMessageBytes)
	}
	conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	limiter := rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.MessageBurst)

	messageChan := make(chan *Envelope, 16)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go s.readLoop(conn, messageChan, errorChan, done)

	for {
		select {
		case env := <-messageChan:
			if !limiter.Allow() {
				clog.Warnw("message rate limit exceeded")
				s.router.sendError(userID, env.SessionID, "RATE_LIMIT_EXCEEDED", "too many messages")
				continue
			}
			s.router.HandleMessage(ctx, userID, env)

		case <-pingTicker.C:
			if err := transport.SendPing(); err != nil {
				clog.Infow("ping failed", "error", err)
				s.cleanup(ctx, userID, transport)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				clog.Infow("read error", "error", err)
			}
			s.cleanup(ctx, userID, transport)
			return
		}
	}
}

// readLoop pumps inbound frames into messages until the socket errors or the
// handler stops consuming. Selecting on done keeps the goroutine from
// blocking forever on a full channel once the handler has returned, as it
// does when a ping failure ends the connection mid-burst.
func (s *WebSocketServer) readLoop(conn *websocket.Conn, messages chan<- *Envelope, errs chan<- error, done <-chan struct{}) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			select {
			case errs <- err:
			case <-done:
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		select {
		case messages <- &env:
		case <-done:
			return
		}
	}
}

func (s *WebSocketServer) cleanup(ctx context.Context, userID domain.UserID, transport *wsTransport) {
	// Only drop the mapping if a reconnect has not already replaced it.
	if s.registry.UnregisterTransport(userID, transport) {
		s.router.HandleDisconnect(context.WithoutCancel(ctx), userID)
		s.clog.WithContext(ctx).Sugar().Infow("participant disconnected")
	}
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.registry.Count(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
