package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/health"
	"github.com/NOAA-OWP/DMOD-sub002/message"
	"github.com/NOAA-OWP/DMOD-sub002/metric"
	"github.com/NOAA-OWP/DMOD-sub002/pkg/security"
	"github.com/NOAA-OWP/DMOD-sub002/pkg/tlsutil"
	"github.com/NOAA-OWP/DMOD-sub002/session"
)

// Config holds listener settings.
type Config struct {
	ListenAddress   string        `json:"listen_address" yaml:"listen_address"`
	Path            string        `json:"path" yaml:"path"`
	MetricsPath     string        `json:"metrics_path" yaml:"metrics_path"`
	HealthPath      string        `json:"health_path" yaml:"health_path"`
	ReadBufferSize  int           `json:"read_buffer_size" yaml:"read_buffer_size"`
	WriteBufferSize int           `json:"write_buffer_size" yaml:"write_buffer_size"`
	PurgeInterval   time.Duration `json:"purge_interval" yaml:"purge_interval"`
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = 5 * time.Minute
	}
}

// backgroundTask is a periodic job run for the lifetime of the service.
type backgroundTask struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
}

// Service is the websocket request listener. Each connection is served by
// one goroutine that processes frames serially, so a connection's replies
// are totally ordered and each inbound frame yields at most one reply.
type Service struct {
	name     string
	config   Config
	security security.Config
	logger   *slog.Logger

	registry      *message.Registry
	sessions      session.Manager
	authenticator Authenticator

	handlers map[message.EventType]Handler

	httpServer *http.Server
	upgrader   websocket.Upgrader

	// connSessions associates a live connection with the session created
	// over it, so teardown can discard sessions whose channel is gone.
	connSessions map[*websocket.Conn]string
	connMu       sync.Mutex

	tasks []backgroundTask

	health  *health.Monitor
	metrics *metric.Metrics

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
	doneOnce     sync.Once
	started      atomic.Bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	lifecycleMu  sync.Mutex

	metricsRegistry *metric.MetricsRegistry
}

// NewService builds a request listener. The registry decides which request
// types the listener understands; the authenticator gates session init (a
// nil authenticator falls back to pseudo users).
func NewService(
	name string,
	config Config,
	securityCfg security.Config,
	registry *message.Registry,
	sessions session.Manager,
	authenticator Authenticator,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*Service, error) {
	if config.ListenAddress == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "server", "NewService", "listen address validation")
	}
	if registry == nil || sessions == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "server", "NewService", "dependency validation")
	}
	if authenticator == nil {
		authenticator = PseudoUserAuthenticator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	config.applyDefaults()

	s := &Service{
		name:            name,
		config:          config,
		security:        securityCfg,
		logger:          logger.With("service", name),
		registry:        registry,
		sessions:        sessions,
		authenticator:   authenticator,
		handlers:        make(map[message.EventType]Handler),
		connSessions:    make(map[*websocket.Conn]string),
		health:          health.NewMonitor(),
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
		metricsRegistry: metricsRegistry,
	}
	if metricsRegistry != nil {
		s.metrics = metricsRegistry.Metrics
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     func(_ *http.Request) bool { return true },
	}

	return s, nil
}

// RegisterHandler binds a handler to an event type. Binding the same event
// twice is a configuration error surfaced eagerly, before Start.
func (s *Service) RegisterHandler(event message.EventType, h Handler) error {
	if h == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "server", "RegisterHandler", "nil handler")
	}
	if _, exists := s.handlers[event]; exists {
		return errors.WrapFatal(
			fmt.Errorf("%w: handler for %s already registered", errors.ErrDuplicateHandler, event),
			"server", "RegisterHandler", "duplicate handler check")
	}
	s.handlers[event] = h
	return nil
}

// Health returns the monitor backing the health endpoint, so collaborators
// can report their own component status.
func (s *Service) Health() *health.Monitor {
	return s.health
}

// AddBackgroundTask schedules a periodic job for the service lifetime. Must
// be called before Start.
func (s *Service) AddBackgroundTask(name string, interval time.Duration, fn func(ctx context.Context) error) {
	s.tasks = append(s.tasks, backgroundTask{name: name, interval: interval, fn: fn})
}

// Start brings the listener up: the HTTP server, the session purge loop and
// any registered background tasks.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.started.Load() {
		return errors.WrapFatal(
			fmt.Errorf("service already started"),
			"server", "Start", "check started state")
	}

	serviceCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, func(w http.ResponseWriter, r *http.Request) {
		s.handleWebSocket(serviceCtx, w, r)
	})
	if s.metricsRegistry != nil {
		mux.Handle(s.config.MetricsPath, s.metricsRegistry.Handler())
	}
	mux.Handle(s.config.HealthPath, s.health.Handler(s.name))

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddress,
		Handler: mux,
	}

	useTLS := s.security.TLS.Server.Enabled
	if useTLS {
		tlsConfig, err := tlsutil.LoadServerTLSConfig(s.security.TLS.Server)
		if err != nil {
			cancel()
			return errors.WrapFatal(err, "server", "Start", "load TLS config")
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if useTLS {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("listener stopped", "error", err)
			s.trackError("server_error")
		}
	}()

	s.wg.Add(1)
	go s.runBackgroundTasks(serviceCtx)

	s.started.Store(true)
	s.health.SetHealthy("listener", "")
	if s.metrics != nil {
		s.metrics.ServiceStatus.WithLabelValues(s.name).Set(1)
	}
	s.logger.Info("listener started", "address", s.config.ListenAddress, "tls", useTLS)
	return nil
}

// Stop shuts the listener down, draining connection goroutines within the
// timeout.
func (s *Service) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.started.Load() {
		return nil
	}

	s.shutdownOnce.Do(func() { close(s.shutdown) })
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}

	s.connMu.Lock()
	for conn := range s.connSessions {
		_ = conn.Close()
	}
	s.connSessions = make(map[*websocket.Conn]string)
	s.connMu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"server", "Stop", "wait for goroutines")
	}

	s.doneOnce.Do(func() { close(s.done) })
	s.started.Store(false)
	s.health.SetUnhealthy("listener", "stopped")
	if s.metrics != nil {
		s.metrics.ServiceStatus.WithLabelValues(s.name).Set(0)
	}
	s.logger.Info("listener stopped")
	return nil
}

// runBackgroundTasks runs the session purge loop and registered tasks under
// one errgroup; a task error cancels its siblings and is logged once.
func (s *Service) runBackgroundTasks(ctx context.Context) {
	defer s.wg.Done()

	g, taskCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.purgeLoop(taskCtx) })
	for _, task := range s.tasks {
		g.Go(func() error { return s.taskLoop(taskCtx, task) })
	}

	if err := g.Wait(); err != nil && taskCtx.Err() == nil {
		s.logger.Error("background task failed", "error", err)
	}
}

// purgeLoop evicts expired sessions periodically.
func (s *Service) purgeLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.shutdown:
			return nil
		case <-ticker.C:
			if purged := s.sessions.PurgeExpired(); purged > 0 {
				s.logger.Info("purged expired sessions", "count", purged)
				if s.metrics != nil {
					s.metrics.SessionsActive.Sub(float64(purged))
				}
			}
		}
	}
}

func (s *Service) taskLoop(ctx context.Context, task backgroundTask) error {
	ticker := time.NewTicker(task.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.shutdown:
			return nil
		case <-ticker.C:
			if err := task.fn(ctx); err != nil {
				if errors.IsFatal(err) {
					return errors.Wrap(err, "server", "taskLoop", task.name)
				}
				s.logger.Warn("background task error", "task", task.name, "error", err)
				s.trackError("task_error")
			}
		}
	}
}

// handleWebSocket upgrades a connection and serves it.
func (s *Service) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.trackError("upgrade_error")
		return
	}

	s.connMu.Lock()
	s.connSessions[conn] = ""
	s.connMu.Unlock()

	s.wg.Add(1)
	go s.serveConnection(ctx, conn, r.RemoteAddr)
}

// serveConnection reads frames serially and answers each with at most one
// reply. A malformed frame is answered and the loop continues; only a read
// or write failure ends the connection.
func (s *Service) serveConnection(ctx context.Context, conn *websocket.Conn, remoteAddr string) {
	defer s.wg.Done()
	defer func() {
		// Best-effort closing notice; the peer may already be gone.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		s.connMu.Lock()
		delete(s.connSessions, conn)
		s.connMu.Unlock()
	}()

	logger := s.logger.With("remote", remoteAddr)
	logger.Debug("connection opened")

	// Short read deadline keeps the loop responsive to shutdown.
	const readDeadline = 1 * time.Second

	for {
		select {
		case <-s.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.trackError("read_error")
			}
			logger.Debug("connection closed", "error", err)
			return
		}

		reply := s.processFrame(ctx, conn, frame, remoteAddr, logger)
		if reply == nil {
			continue
		}
		if err := s.writeReply(conn, reply); err != nil {
			logger.Warn("reply write failed", "error", err)
			s.trackError("write_error")
			return
		}
	}
}

// processFrame decodes and dispatches one frame, returning the single reply
// to send. It never panics and never returns both no reply and no log line.
func (s *Service) processFrame(
	ctx context.Context,
	conn *websocket.Conn,
	frame []byte,
	remoteAddr string,
	logger *slog.Logger,
) message.ResponseMessage {
	req, status := s.registry.Decode(frame)
	switch status {
	case message.DecodeNotJSON:
		// A frame that is not even JSON gets no reply; the loop moves on.
		logger.Warn("unparseable frame", "bytes", len(frame))
		s.trackError("parse_error")
		return nil
	case message.DecodeUnrecognized:
		logger.Warn("frame matches no registered request type", "bytes", len(frame))
		s.trackError("parse_error")
		return message.NewInvalidMessageResponse()
	}

	if s.metrics != nil {
		s.metrics.RequestsReceived.WithLabelValues(s.name, req.Event().String()).Inc()
	}

	if init, isInit := req.(*message.SessionInitMessage); isInit {
		return s.handleSessionInit(ctx, conn, init, remoteAddr, logger)
	}

	rc := &RequestContext{RemoteAddr: remoteAddr}
	if external, isExternal := req.(message.ExternalRequest); isExternal {
		sess, deny := s.authorize(external)
		if deny != nil {
			logger.Warn("external request denied", "event", req.Event(), "reason", deny.Envelope().Reason)
			return deny
		}
		rc.Session = sess
	}

	handler, exists := s.handlers[req.Event()]
	if !exists {
		logger.Warn("no handler for event", "event", req.Event())
		s.trackError("unsupported_type")
		return message.NewUnsupportedMessageTypeResponse(req.Event(), s.name)
	}

	return s.dispatch(ctx, handler, req, rc, logger)
}

// authorize validates the secret on an external request. The returned deny
// reply is non-nil when the request must not reach a handler.
func (s *Service) authorize(req message.ExternalRequest) (*session.Session, message.ResponseMessage) {
	secret := req.SessionSecret()
	if secret == "" {
		return nil, message.NewGenericResponse(req.Event(), false,
			message.ReasonUnauthorized, "request carries no session secret")
	}

	sess, found := s.sessions.LookupBySecret(secret)
	if !found {
		return nil, message.NewGenericResponse(req.Event(), false,
			message.ReasonUnrecognizedSecret, "session secret is not recognized")
	}
	if sess.IsExpired(time.Now()) {
		s.sessions.RemoveSession(secret)
		if s.metrics != nil {
			s.metrics.SessionsActive.Dec()
		}
		return nil, message.NewGenericResponse(req.Event(), false,
			message.ReasonExpiredSession, "session has expired")
	}

	s.sessions.RefreshSession(secret)
	return sess, nil
}

// handleSessionInit authenticates credentials and creates a session bound
// to the connection.
func (s *Service) handleSessionInit(
	ctx context.Context,
	conn *websocket.Conn,
	init *message.SessionInitMessage,
	remoteAddr string,
	logger *slog.Logger,
) message.ResponseMessage {
	authorized, err := s.authenticator.Authenticate(ctx, init.Username, init.UserSecret)
	if err != nil {
		logger.Error("authentication check failed", "user", init.Username, "error", err)
		s.trackError("auth_error")
		resp, _ := message.NewSessionInitResponse(false, message.ReasonAuthFailure,
			"could not verify credentials", nil)
		return resp
	}
	if !authorized {
		logger.Warn("authentication rejected", "user", init.Username)
		resp, _ := message.NewSessionInitResponse(false, message.ReasonUnauthorized,
			"credentials were not accepted", nil)
		return resp
	}

	sess, err := s.sessions.CreateSession(remoteAddr, init.Username)
	if err != nil {
		logger.Error("session creation failed", "user", init.Username, "error", err)
		s.trackError("session_error")
		resp, _ := message.NewSessionInitResponse(false, message.ReasonHandlerError,
			"could not create session", nil)
		return resp
	}

	s.connMu.Lock()
	s.connSessions[conn] = sess.Secret
	s.connMu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
		s.metrics.SessionsActive.Inc()
	}
	logger.Info("session created", "user", sess.User, "session_id", sess.ID)

	resp, err := message.NewSessionInitResponse(true, message.ReasonSessionCreated, "", &message.SessionPayload{
		SessionID:     sess.ID,
		SessionSecret: sess.Secret,
		User:          sess.User,
		Created:       sess.Created.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return message.NewErrorResponse(err.Error())
	}
	return resp
}

// dispatch runs a handler with panic containment so one request can never
// take the connection down.
func (s *Service) dispatch(
	ctx context.Context,
	handler Handler,
	req message.Request,
	rc *RequestContext,
	logger *slog.Logger,
) (reply message.ResponseMessage) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "event", req.Event(), "panic", r)
			s.trackError("handler_panic")
			reply = message.NewErrorResponse(fmt.Sprintf("internal error handling %s", req.Event()))
		}
		if s.metrics != nil {
			s.metrics.HandlerDuration.WithLabelValues(s.name, req.Event().String()).
				Observe(time.Since(start).Seconds())
			if reply != nil {
				s.metrics.ResponsesSent.WithLabelValues(s.name, reply.Envelope().Reason).Inc()
			}
		}
	}()

	resp, err := handler.Handle(ctx, req, rc)
	if err != nil {
		logger.Error("handler failed", "event", req.Event(), "error", err)
		s.trackError("handler_error")
		return message.NewErrorResponse(err.Error())
	}
	if resp == nil {
		s.trackError("handler_error")
		return message.NewErrorResponse(fmt.Sprintf("handler for %s produced no reply", req.Event()))
	}
	return resp
}

func (s *Service) writeReply(conn *websocket.Conn, reply message.ResponseMessage) error {
	frame, err := message.Serialize(reply)
	if err != nil {
		// A response that cannot marshal is a bug in a constructor; fall
		// back to a plain error envelope rather than dropping the reply.
		frame, _ = message.Serialize(message.NewErrorResponse("response serialization failed"))
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Service) trackError(errorType string) {
	if s.metrics != nil {
		s.metrics.ErrorsTotal.WithLabelValues(s.name, errorType).Inc()
	}
}
