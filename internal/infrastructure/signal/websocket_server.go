package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/config"
	apperrors "peercall/pkg/errors"
	"peercall/pkg/logger"
	"peercall/pkg/tracing"
	"peercall/pkg/validation"
)

const sendBufferSize = 32

// RelayMetrics receives relay traffic counters.
type RelayMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
	RequestHandled(op string, code string, d time.Duration)
}

type Options struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxSubscribeWait  time.Duration
	MaxMessageSize    int64
	AllowedOrigins    []string
	MessagesPerSecond float64
	Burst             int
	MaxConcurrent     int
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		PingInterval:     cfg.Relay.PingInterval,
		PongTimeout:      cfg.Relay.PongTimeout,
		WriteTimeout:     cfg.Relay.WriteTimeout,
		MaxSubscribeWait: cfg.Relay.MaxSubscribeWait,
		MaxMessageSize:   cfg.Relay.MaxMessageSizeBytes,
		AllowedOrigins:   cfg.Relay.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		opts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		opts.Burst = cfg.RateLimiting.WebSocket.Burst
		opts.MaxConcurrent = cfg.RateLimiting.WebSocket.MaxConcurrent
	}
	return opts
}

type client struct {
	id          string
	participant domain.ParticipantID
	conn        *websocket.Conn
	send        chan Response
	limiter     *rate.Limiter
	ctx         context.Context
	cancel      context.CancelFunc
}

func (c *client) reply(resp Response) {
	select {
	case c.send <- resp:
	case <-c.ctx.Done():
	}
}

// WebSocketServer fronts a SignalStore. Each connection may have many
// requests in flight; subscribe requests park until their key appears.
type WebSocketServer struct {
	store    ports.SignalStore
	opts     Options
	upgrader websocket.Upgrader
	metrics  RelayMetrics
	logger   *zap.SugaredLogger
	clog     *logger.ContextLogger

	clients map[string]*client
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

func NewWebSocketServer(store ports.SignalStore, opts Options, metrics RelayMetrics, log *zap.SugaredLogger) *WebSocketServer {
	s := &WebSocketServer{
		store:   store,
		opts:    opts,
		metrics: metrics,
		logger:  log,
		clog:    logger.NewContextLogger(log.Desugar()),
		clients: make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	participant := r.URL.Query().Get("participant_id")
	if err := validation.ValidateParticipantID(participant); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.opts.MaxConcurrent > 0 && s.ConnectionCount() >= s.opts.MaxConcurrent {
		s.logger.Warnw("rejecting relay connection, limit reached", "participant_id", participant, "limit", s.opts.MaxConcurrent)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	limit := rate.Inf
	if s.opts.MessagesPerSecond > 0 {
		limit = rate.Limit(s.opts.MessagesPerSecond)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		id:          uuid.NewString(),
		participant: domain.ParticipantID(participant),
		conn:        conn,
		send:        make(chan Response, sendBufferSize),
		limiter:     rate.NewLimiter(limit, s.opts.Burst),
		ctx:         ctx,
		cancel:      cancel,
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}
	s.logger.Infow("participant connected to relay", "participant_id", participant, "conn_id", c.id)

	go s.writeLoop(c)
	s.readLoop(c)

	c.cancel()
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	conn.Close()
	if s.metrics != nil {
		s.metrics.ConnectionClosed()
	}
	s.logger.Infow("participant disconnected from relay", "participant_id", participant, "conn_id", c.id)
}

func (s *WebSocketServer) readLoop(c *client) {
	if s.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading relay request", "participant_id", c.participant, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if !c.limiter.Allow() {
			c.reply(errorResponse(req.ID, apperrors.NewRateLimitError()))
			continue
		}

		s.wg.Add(1)
		go func(req Request) {
			defer s.wg.Done()
			c.reply(s.handle(c, req))
		}(req)
	}
}

func (s *WebSocketServer) writeLoop(c *client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.opts.WriteTimeout))
			return

		case resp := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.conn.WriteJSON(resp); err != nil {
				s.logger.Infow("error writing relay response", "participant_id", c.participant, "error", err)
				c.cancel()
				c.conn.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "participant_id", c.participant, "error", err)
				c.cancel()
				c.conn.Close()
				return
			}
		}
	}
}

func (s *WebSocketServer) handle(c *client, req Request) Response {
	start := time.Now()
	ctx, span := tracing.TraceRelayMessage(c.ctx, string(req.Op), string(req.Key.SessionID), string(c.participant), string(req.Key.Role))
	ctx = logger.WithSessionID(ctx, string(req.Key.SessionID))
	ctx = logger.WithParticipantID(ctx, string(c.participant))
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = logger.WithTraceID(ctx, sc.TraceID().String())
	}

	resp, err := s.dispatch(ctx, c, req)
	tracing.EndSpan(span, err)

	code := "OK"
	if err != nil {
		resp = errorResponse(req.ID, err)
		code = resp.Code
		if resp.Code != string(apperrors.ErrCodeNotFound) {
			s.clog.Sugar(ctx).Infow("relay request failed", "op", req.Op, "key", req.Key.String(), "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.RequestHandled(string(req.Op), code, time.Since(start))
	}
	return resp
}

func (s *WebSocketServer) dispatch(ctx context.Context, c *client, req Request) (Response, error) {
	if req.ID == "" {
		return Response{}, apperrors.NewInvalidInputError("request id is required")
	}
	if err := req.Key.Validate(); err != nil {
		return Response{}, apperrors.NewInvalidInputError(err.Error())
	}

	switch req.Op {
	case OpPublish:
		if req.Payload == nil {
			return Response{}, apperrors.NewInvalidInputError("payload is required")
		}
		if err := authorizePublish(c, req); err != nil {
			return Response{}, err
		}
		if req.Payload.SDP != "" {
			if err := validateSDP(req.Payload.SDP); err != nil {
				return Response{}, apperrors.NewInvalidInputError(err.Error())
			}
		}
		if err := s.store.Publish(ctx, req.Key, *req.Payload); err != nil {
			return Response{}, err
		}
		s.clog.Sugar(ctx).Debugw("signal stored", "key", req.Key.String(), "sdp_length", len(req.Payload.SDP))
		return Response{ID: req.ID, Op: OpOK}, nil

	case OpSubscribe:
		if req.Key.ParticipantID != c.participant {
			return Response{}, apperrors.NewInvalidInputError("cannot subscribe to another participant's signals")
		}
		timeout := time.Duration(req.TimeoutMS) * time.Millisecond
		if timeout <= 0 || timeout > s.opts.MaxSubscribeWait {
			timeout = s.opts.MaxSubscribeWait
		}
		payload, err := s.store.Subscribe(ctx, req.Key, timeout)
		if err != nil {
			return Response{}, err
		}
		return Response{ID: req.ID, Op: OpValue, Payload: &payload}, nil

	case OpDelete:
		allowed, err := s.authorizeDelete(ctx, c, req.Key)
		if err != nil {
			return Response{}, err
		}
		if !allowed {
			return Response{ID: req.ID, Op: OpOK}, nil
		}
		if err := s.store.Delete(ctx, req.Key); err != nil {
			return Response{}, err
		}
		return Response{ID: req.ID, Op: OpOK}, nil

	default:
		return Response{}, apperrors.NewInvalidInputError(fmt.Sprintf("unknown op: %s", req.Op))
	}
}

// authorizePublish requires the payload sender to be the connected
// participant. Offers and answers must also carry it as the key's From;
// invite keys have no From, so the payload is the only witness.
func authorizePublish(c *client, req Request) error {
	if req.Payload.From.ID != c.participant {
		return apperrors.NewInvalidInputError(fmt.Sprintf("sender mismatch: connected as %s", c.participant))
	}
	if req.Key.Role != domain.RoleInvite && req.Key.From != c.participant {
		return apperrors.NewInvalidInputError(fmt.Sprintf("key sender mismatch: connected as %s", c.participant))
	}
	return nil
}

// authorizeDelete lets the recipient drop a signal it consumed and the
// sender drop one it published. For invites the sender is read from the
// stored payload. It returns false when there is nothing to delete.
func (s *WebSocketServer) authorizeDelete(ctx context.Context, c *client, key domain.SignalKey) (bool, error) {
	if key.ParticipantID == c.participant || (key.From != "" && key.From == c.participant) {
		return true, nil
	}
	if key.Role != domain.RoleInvite {
		return false, apperrors.NewInvalidInputError("cannot delete another participant's signals")
	}
	stored, err := s.store.Subscribe(ctx, key, 0)
	if errors.Is(err, domain.ErrSignalNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if stored.From.ID != c.participant {
		return false, apperrors.NewInvalidInputError("cannot delete another participant's invitation")
	}
	return true, nil
}

// Shutdown closes every connection and waits for in-flight requests.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, c := range s.clients {
		c.cancel()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ConnectedParticipants lists the participants with an open relay connection.
func (s *WebSocketServer) ConnectedParticipants() []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.ParticipantID]struct{}, len(s.clients))
	out := make([]domain.ParticipantID, 0, len(s.clients))
	for _, c := range s.clients {
		if _, ok := seen[c.participant]; ok {
			continue
		}
		seen[c.participant] = struct{}{}
		out = append(out, c.participant)
	}
	return out
}
