package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
	"voxagent/internal/worker"
	"voxagent/pkg/logger"
	"voxagent/pkg/model"
	"voxagent/pkg/resilience"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrHandshake = errors.New("registration handshake failed")

const writeTimeout = 10 * time.Second

// Admitter accepts job assignments without blocking the read loop
type Admitter interface {
	Admit(out worker.Sender, job model.Job) bool
}

type Config struct {
	URL               string
	Token             string
	WorkerID          string
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	HeartbeatOnReady  bool
	// PingInterval paces websocket pings; a connection silent for PongWait is dropped
	PingInterval      time.Duration
	PongWait          time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

// Manager keeps exactly one control connection to the coordinator and
// reconnects with exponential backoff until its context is cancelled.
type Manager struct {
	cfg      Config
	dialer   Dialer
	host     Host
	gate     Admitter
	settings *worker.Settings
	out      *Outbox
	backoff  *resilience.Backoff
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewManager(cfg Config, dialer Dialer, host Host, gate Admitter, settings *worker.Settings) *Manager {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 20 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = 3 * cfg.PingInterval
	}
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		host:     host,
		gate:     gate,
		settings: settings,
		out:      NewOutbox(writeTimeout),
		backoff:  resilience.NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
		sleep:    resilience.Sleep,
	}
}

// Sender writes to whichever connection is current
func (m *Manager) Sender() worker.Sender {
	return m.out
}

// Run blocks until ctx is cancelled
func (m *Manager) Run(ctx context.Context) error {
	for {
		ready, err := m.runSession(ctx)
		if ctx.Err() != nil {
			logger.Info("Session manager stopped")
			return nil
		}

		if ready {
			m.backoff.Reset()
			if isNormalClose(err) {
				logger.Info("Connection closed by coordinator, reconnecting", zap.Error(err))
				continue
			}
		}

		delay := m.backoff.Next()
		logger.Warn("Session ended, reconnecting",
			zap.Error(err),
			zap.Bool("was_ready", ready),
			zap.Duration("backoff", delay))
		if err := m.sleep(ctx, delay); err != nil {
			logger.Info("Session manager stopped")
			return nil
		}
	}
}

// runSession dials, registers and serves one connection. ready reports
// whether the handshake completed.
func (m *Manager) runSession(ctx context.Context) (ready bool, err error) {
	header := http.Header{}
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	logger.Info("Connecting to coordinator", zap.String("worker_id", m.cfg.WorkerID))
	conn, err := m.dialer.Dial(ctx, m.cfg.URL, header)
	if err != nil {
		return false, fmt.Errorf("failed to dial: %w", err)
	}

	connID := uuid.NewString()
	sessCtx, cancel := context.WithCancel(ctx)
	// unblocks ReadMessage on shutdown
	stop := context.AfterFunc(sessCtx, func() { _ = conn.Close() })

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		stop()
		m.out.detach(conn)
		_ = conn.Close()
		logger.Info("Connection closed", zap.String("conn_id", connID))
	}()

	logger.Info("Connected", zap.String("conn_id", connID))

	if err := m.handshake(sessCtx, conn); err != nil {
		return false, err
	}
	logger.Info("Registration confirmed", zap.String("conn_id", connID))

	// job frames reach the coordinator only on a registered connection
	m.out.attach(conn)
	if err := m.watchLiveness(conn); err != nil {
		return true, err
	}

	emitter := NewEmitter(m.host, m.out, m.cfg.HeartbeatInterval)
	if m.cfg.HeartbeatOnReady {
		if err := emitter.Beat(sessCtx); err != nil {
			logger.Warn("Immediate heartbeat failed", zap.Error(err))
		}
	}

	// a failed write closes the connection so the read loop returns
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := emitter.Run(sessCtx); err != nil {
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := m.pingLoop(sessCtx); err != nil {
			cancel()
		}
	}()

	return true, m.readLoop(conn)
}

// watchLiveness arms the read deadline; every frame and pong pushes it forward
func (m *Manager) watchLiveness(conn Conn) error {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	})
	return conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
}

func (m *Manager) pingLoop(ctx context.Context) error {
	t := time.NewTicker(m.cfg.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := m.out.Ping(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("Ping failed, dropping connection", zap.Error(err))
				return err
			}
		}
	}
}

func (m *Manager) handshake(ctx context.Context, conn Conn) error {
	reg := m.host.Registration(ctx)
	if err := writeFrame(conn, reg); err != nil {
		return fmt.Errorf("failed to send registration: %w", err)
	}
	logger.Info("Registration sent",
		zap.String("worker_id", reg.WorkerID),
		zap.Strings("models", reg.Capabilities.SupportsModels),
		zap.Bool("gpu", reg.Capabilities.GPU))

	for {
		if err := conn.SetReadDeadline(time.Now().Add(m.cfg.HandshakeTimeout)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		if mt != websocket.TextMessage {
			return fmt.Errorf("%w: bad frame type %d", ErrHandshake, mt)
		}
		frame, err := model.DecodeFrame(data)
		if err != nil {
			return fmt.Errorf("%w: bad json: %s", ErrHandshake, head(data))
		}

		switch frame.Type {
		case model.TypeRegistrationOK:
			if frame.WorkerID != m.cfg.WorkerID {
				return fmt.Errorf("%w: registration.ok for worker %q", ErrHandshake, frame.WorkerID)
			}
			return nil
		case model.TypeControlPing:
			pong := model.WorkerRef{Type: model.TypeControlPong, WorkerID: m.cfg.WorkerID}
			if err := writeFrame(conn, pong); err != nil {
				return fmt.Errorf("failed to send pong: %w", err)
			}
		default:
			return fmt.Errorf("%w: unexpected frame %s", ErrHandshake, head(data))
		}
	}
}

// readLoop dispatches frames in arrival order until the connection fails
func (m *Manager) readLoop(conn Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait)); err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			logger.Debug("Skipping non-text frame", zap.Int("type", mt))
			continue
		}
		frame, err := model.DecodeFrame(data)
		if err != nil {
			logger.Debug("Skipping non-JSON frame", zap.String("head", head(data)))
			continue
		}
		m.dispatch(frame)
	}
}

func (m *Manager) dispatch(frame model.InboundFrame) {
	switch frame.Type {
	case model.TypeJobAssign:
		var assign model.JobAssign
		if err := json.Unmarshal(frame.Raw, &assign); err != nil {
			logger.Warn("Malformed job.assign", zap.Error(err), zap.String("head", head(frame.Raw)))
			return
		}
		logger.Info("Job assigned", zap.String("job_id", assign.Job.ID))
		m.gate.Admit(m.out, assign.Job)

	case model.TypeSetConfig:
		var sc model.SetConfig
		if err := json.Unmarshal(frame.Raw, &sc); err != nil {
			logger.Warn("Malformed control.set_config", zap.Error(err))
			return
		}
		m.settings.Apply(sc)
		mc := m.settings.ModelConfig()
		logger.Info("Settings updated",
			zap.Int("threads", mc.Threads),
			zap.String("lang_hint", mc.LangHint))
		m.reply(model.TypeControlAck)

	case model.TypeControlPing:
		if err := m.pong(); err != nil {
			logger.Warn("Failed to send pong", zap.Error(err))
		}

	case model.TypeServerError:
		logger.Warn("Coordinator reported an error", zap.String("frame", head(frame.Raw)))

	default:
		logger.Debug("Ignoring frame", zap.String("type", frame.Type))
	}
}

// writeFrame writes on a connection the outbox does not own yet
func writeFrame(conn Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (m *Manager) pong() error {
	return m.out.Send(model.WorkerRef{Type: model.TypeControlPong, WorkerID: m.cfg.WorkerID})
}

func (m *Manager) reply(frameType string) {
	if err := m.out.Send(model.WorkerRef{Type: frameType, WorkerID: m.cfg.WorkerID}); err != nil {
		logger.Warn("Failed to send reply", zap.String("type", frameType), zap.Error(err))
	}
}

func isNormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
}

func head(data []byte) string {
	const n = 200
	if len(data) > n {
		return string(data[:n])
	}
	return string(data)
}
