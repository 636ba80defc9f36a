package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Close codes that end the session cleanly. Everything else is an
// unexpected closure and triggers reconnection.
const (
	closeNormal    = 1000
	closeGoingAway = 1001
)

const (
	authCodeInvalidToken = 4001
	authCodeExpiredToken = 4002
)

// Session owns one logical connection to the realtime channel. It
// authenticates the connection, keeps it alive with heartbeats and
// recovers it after failure, exposing a stable event stream to the
// application across underlying reconnects.
type Session struct {
	cfg       Config
	transport Transport
	backoff   BackoffPolicy
	machine   *stateMachine
	subs      *subscriptionSet
	logger    *zap.Logger
	metrics   *Metrics

	tokenProvider func() (string, error)

	stateCh chan StateChange
	eventCh chan Envelope

	// emitMu keeps the state stream in transition order.
	emitMu sync.Mutex

	mu           sync.Mutex
	token        string
	attempts     int
	lastActivity time.Time
	connCtx      context.Context
	connCancel   context.CancelFunc
	cycleCancel  context.CancelFunc
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

func WithBackoffPolicy(p BackoffPolicy) Option {
	return func(s *Session) {
		s.backoff = p
	}
}

// WithTokenProvider supplies the bearer token at each (re)connect
// instead of the one passed to Connect. The session treats the token
// as opaque and never refreshes it itself.
func WithTokenProvider(fn func() (string, error)) Option {
	return func(s *Session) {
		s.tokenProvider = fn
	}
}

func NewSession(transport Transport, cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		transport: transport,
		backoff:   NewBackoffPolicy(cfg.BaseBackoffDelay, cfg.MaxBackoffDelay),
		machine:   newStateMachine(),
		subs:      newSubscriptionSet(),
		logger:    zap.NewNop(),
		stateCh:   make(chan StateChange, 32),
		eventCh:   make(chan Envelope, 256),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	return s.machine.Current()
}

// States is the stream of state transitions. The channel is buffered
// and written without blocking; a consumer that stops reading loses
// entries but can never stall the session.
func (s *Session) States() <-chan StateChange {
	return s.stateCh
}

// Events is the stream of decoded application-level events. System
// events never appear here.
func (s *Session) Events() <-chan Envelope {
	return s.eventCh
}

// Connect dials the transport, authenticates with the given token and
// replays recorded subscriptions. On dial or handshake failure the
// error is returned and reconnection continues in the background; the
// eventual outcome is observable on the state stream. An
// AuthRejectedError is terminal and schedules no reconnect.
func (s *Session) Connect(ctx context.Context, token string) error {
	if err := s.shift(StateConnecting, nil); err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	s.attempts = 0
	connCtx, cancel := context.WithCancel(ctx)
	s.connCtx = connCtx
	s.connCancel = cancel
	s.mu.Unlock()

	return s.establish(connCtx)
}

// Disconnect closes the session without reconnecting. Calling it again
// while already disconnected is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	connCancel := s.connCancel
	cycleCancel := s.cycleCancel
	s.connCtx = nil
	s.connCancel = nil
	s.cycleCancel = nil
	s.attempts = 0
	s.mu.Unlock()

	if cycleCancel != nil {
		cycleCancel()
	}
	if connCancel != nil {
		connCancel()
	}

	if err := s.shift(StateDisconnected, nil); err != nil {
		if s.machine.Current() == StateDisconnected {
			return nil
		}
		return err
	}

	s.transport.Close()
	s.logger.Info("disconnected")
	return nil
}

// Subscribe records the channel and, while connected, sends the
// subscribe control frame immediately. When not connected the
// subscription is applied on the next successful connect.
func (s *Session) Subscribe(channel string) error {
	if !s.subs.add(channel) {
		return nil
	}
	if s.machine.Current() == StateConnected {
		return s.sendControl(EventSubscribe, channel)
	}
	return nil
}

// Unsubscribe removes the channel from the subscription set.
func (s *Session) Unsubscribe(channel string) error {
	if !s.subs.remove(channel) {
		return nil
	}
	if s.machine.Current() == StateConnected {
		return s.sendControl(EventUnsubscribe, channel)
	}
	return nil
}

// Subscriptions returns the subscribed channels in subscribe order.
func (s *Session) Subscriptions() []string {
	return s.subs.snapshot()
}

// Send transmits an application event. There is no outbound queue:
// while not connected the call fails with ErrNotConnected and the
// caller decides whether to retry.
func (s *Session) Send(event Event, data map[string]interface{}, channel string) error {
	if IsSystemEvent(event) {
		return fmt.Errorf("%w: %s", ErrReservedEvent, event)
	}
	if s.machine.Current() != StateConnected {
		return ErrNotConnected
	}

	frame, err := Encode(event, data, channel)
	if err != nil {
		return err
	}
	if err := s.transport.Send(frame); err != nil {
		return err
	}
	s.metrics.incFramesSent()
	return nil
}

// establish performs one connect attempt: dial, authenticate, then
// start the read and heartbeat loops and replay subscriptions.
func (s *Session) establish(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	err := s.transport.Connect(dialCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			// cancelled connects end in disconnected, never a stuck
			// transient state
			s.shift(StateDisconnected, nil)
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		s.logger.Warn("dial failed", zap.Error(err))
		return s.retryAfterFailure(err)
	}

	if err := s.authenticate(ctx); err != nil {
		s.transport.Close()
		if ctx.Err() != nil {
			s.shift(StateDisconnected, nil)
			return ctx.Err()
		}

		var authErr *AuthRejectedError
		if errors.As(err, &authErr) {
			s.logger.Error("authentication rejected", zap.Int("code", authErr.Code))
			s.fail(err)
			return err
		}

		s.logger.Warn("connect handshake failed", zap.Error(err))
		return s.retryAfterFailure(err)
	}

	cycleCtx, cycleCancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.attempts = 0
	s.lastActivity = time.Now()
	s.cycleCancel = cycleCancel
	s.mu.Unlock()

	if err := s.shift(StateConnected, nil); err != nil {
		// explicit disconnect raced the handshake
		cycleCancel()
		s.transport.Close()
		return err
	}

	go s.readLoop(cycleCtx)
	go s.heartbeatLoop(cycleCtx)

	s.replaySubscriptions()
	return nil
}

func (s *Session) authenticate(ctx context.Context) error {
	token, err := s.currentToken()
	if err != nil {
		return fmt.Errorf("token provider: %w", err)
	}

	frame, err := Encode(EventAuthentication, map[string]interface{}{"token": token}, "")
	if err != nil {
		return err
	}
	if err := s.transport.Send(frame); err != nil {
		return err
	}
	s.metrics.incFramesSent()

	return s.awaitAuthAck(ctx)
}

// awaitAuthAck waits for the first inbound frame. An error event
// carrying an auth-failure code rejects the session; any other frame
// (first heartbeat in practice) is the implicit acceptance.
func (s *Session) awaitAuthAck(ctx context.Context) error {
	type readResult struct {
		data []byte
		err  error
	}
	resCh := make(chan readResult, 1)
	go func() {
		data, err := s.transport.Receive()
		resCh <- readResult{data: data, err: err}
	}()

	timer := time.NewTimer(s.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrConnectTimeout
	case res := <-resCh:
		if res.err != nil {
			return res.err
		}
		s.touch()
		s.metrics.incFramesReceived()

		env, err := Decode(res.data)
		if err != nil {
			s.metrics.incDecodeErrors()
			s.logger.Warn("dropping undecodable frame", zap.Error(err))
			return nil
		}
		if env.Event == EventError {
			if code, ok := authFailureCode(env.Data); ok {
				return &AuthRejectedError{Code: code, Reason: errorReason(env.Data)}
			}
		}
		s.dispatch(env)
		return nil
	}
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		data, err := s.transport.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.handleSocketClosed(err)
			return
		}
		s.touch()
		s.metrics.incFramesReceived()

		env, derr := Decode(data)
		if derr != nil {
			s.metrics.incDecodeErrors()
			s.logger.Warn("dropping undecodable frame", zap.Error(derr))
			continue
		}
		s.dispatch(env)
	}
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.sinceActivity() >= 2*s.cfg.HeartbeatInterval {
				// silently-dead connection; force the closure so the
				// read loop drives the reconnect
				s.logger.Warn("heartbeat timeout, forcing close")
				s.transport.Close()
				return
			}

			frame, err := Encode(EventHeartbeat, nil, "")
			if err != nil {
				return
			}
			if err := s.transport.Send(frame); err != nil {
				s.transport.Close()
				return
			}
			s.metrics.incFramesSent()
		}
	}
}

// dispatch routes a decoded frame: system events are handled in place,
// application events go to the event stream without blocking.
func (s *Session) dispatch(env Envelope) {
	if IsSystemEvent(env.Event) {
		switch env.Event {
		case EventHeartbeat:
			// liveness already refreshed by the caller
		case EventError:
			s.logger.Warn("server error event", zap.Any("data", env.Data))
		default:
			s.logger.Debug("system event", zap.String("event", string(env.Event)))
		}
		return
	}

	select {
	case s.eventCh <- env:
	default:
		s.metrics.incDroppedEvents()
		s.logger.Warn("event stream full, dropping event", zap.String("event", string(env.Event)))
	}
}

// handleSocketClosed runs once per connection cycle, from the read
// loop. Expected close codes end the session; anything else enters the
// retry path.
func (s *Session) handleSocketClosed(err error) {
	s.mu.Lock()
	cycleCancel := s.cycleCancel
	s.cycleCancel = nil
	s.mu.Unlock()
	if cycleCancel != nil {
		cycleCancel()
	}
	s.transport.Close()

	if isExpectedClose(err) {
		s.logger.Info("connection closed by peer", zap.Int("code", closeCode(err)))
		s.mu.Lock()
		s.attempts = 0
		connCancel := s.connCancel
		s.connCancel = nil
		s.connCtx = nil
		s.mu.Unlock()

		if serr := s.shift(StateDisconnected, nil); serr == nil && connCancel != nil {
			connCancel()
		}
		return
	}

	s.logger.Warn("connection lost", zap.Error(err))
	s.retryAfterFailure(err)
}

// retryAfterFailure moves to reconnecting and either schedules the
// next attempt after the backoff delay or, past the attempt bound,
// fails the session terminally.
func (s *Session) retryAfterFailure(cause error) error {
	if err := s.shift(StateReconnecting, cause); err != nil {
		// explicit disconnect raced the failure
		return cause
	}

	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	ctx := s.connCtx
	s.mu.Unlock()

	s.metrics.incReconnects()

	if ctx == nil || attempt >= s.cfg.MaxReconnectAttempts {
		s.fail(ErrMaxAttemptsExceeded)
		return cause
	}

	delay := s.backoff.NextDelay(attempt - 1)
	s.logger.Info("scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		// the select can take the timer even when ctx is already done
		if ctx.Err() != nil {
			return
		}
		if err := s.shift(StateConnecting, nil); err != nil {
			return
		}
		if ctx.Err() != nil {
			// disconnect landed between the check and the shift
			s.shift(StateDisconnected, nil)
			return
		}
		s.establish(ctx)
	}()

	return cause
}

// fail moves the session to the terminal error state and cancels any
// outstanding timers.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	connCancel := s.connCancel
	s.connCancel = nil
	s.connCtx = nil
	s.mu.Unlock()

	if err := s.shift(StateErrored, cause); err != nil {
		return
	}
	if connCancel != nil {
		connCancel()
	}
}

// shift performs a transition and publishes the change, keeping the
// state stream in transition order.
func (s *Session) shift(to State, cause error) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	change, err := s.machine.transition(to, cause)
	if err != nil {
		return err
	}

	s.logger.Info("state change",
		zap.Stringer("from", change.Previous),
		zap.Stringer("to", change.Current))
	s.metrics.setState(change.Current)

	select {
	case s.stateCh <- change:
	default:
		s.logger.Warn("state stream full, dropping state change")
	}
	return nil
}

func (s *Session) replaySubscriptions() {
	for _, channel := range s.subs.snapshot() {
		if err := s.sendControl(EventSubscribe, channel); err != nil {
			s.logger.Warn("resubscribe failed",
				zap.String("channel", channel),
				zap.Error(err))
			return
		}
	}
}

func (s *Session) sendControl(event Event, channel string) error {
	frame, err := Encode(event, map[string]interface{}{"channel": channel}, channel)
	if err != nil {
		return err
	}
	if err := s.transport.Send(frame); err != nil {
		return err
	}
	s.metrics.incFramesSent()
	return nil
}

func (s *Session) currentToken() (string, error) {
	if s.tokenProvider != nil {
		return s.tokenProvider()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) sinceActivity() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

type closeCoder interface {
	CloseCode() int
}

func closeCode(err error) int {
	var cc closeCoder
	if errors.As(err, &cc) {
		return cc.CloseCode()
	}
	return 0
}

func isExpectedClose(err error) bool {
	switch closeCode(err) {
	case closeNormal, closeGoingAway:
		return true
	}
	return false
}

func authFailureCode(data map[string]interface{}) (int, bool) {
	v, ok := data["code"]
	if !ok {
		return 0, false
	}

	var code int
	switch n := v.(type) {
	case float64:
		code = int(n)
	case int:
		code = n
	default:
		return 0, false
	}

	if code == authCodeInvalidToken || code == authCodeExpiredToken {
		return code, true
	}
	return 0, false
}

func errorReason(data map[string]interface{}) string {
	for _, key := range []string{"message", "reason"} {
		if v, ok := data[key].(string); ok {
			return v
		}
	}
	return ""
}
