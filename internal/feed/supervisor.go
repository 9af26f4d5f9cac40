package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnState is the lifecycle state of one logical stream connection.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StatePolling
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// StateChange is emitted on every supervisor transition.
type StateChange struct {
	State   ConnState
	Since   time.Time
	Attempt int   // reconnect attempt count, reset on every successful connect
	Err     error // last transport error, set for reconnecting/failed
}

// EventKind tags events on the supervisor's single output channel.
type EventKind int

const (
	EventFrame EventKind = iota // raw inbound websocket frame
	EventState                  // connection state transition
	EventPollTick               // REST polling fallback tick
)

// Event is the supervisor's output. All transport activity for a
// subscription is serialized onto one channel so the consumer stays
// single-threaded.
type Event struct {
	Kind  EventKind
	Frame []byte
	State StateChange
}

// SupervisorConfig holds the connection knobs for one stream group.
type SupervisorConfig struct {
	URL          string
	Streams      []string // stream names to subscribe after connect
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxFails     int // consecutive failures before polling fallback
	PollInterval time.Duration
}

// Supervisor owns one logical websocket connection. It dials, subscribes,
// reads frames, reconnects with capped exponential backoff, and after too
// many consecutive failures falls back to emitting poll ticks while still
// probing the transport in the background. It never gives up; cancelling
// the context is the only terminal action.
type Supervisor struct {
	cfg    SupervisorConfig
	log    *zap.Logger
	events chan Event
	retry  chan struct{}
}

func NewSupervisor(cfg SupervisorConfig, log *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		log:    log,
		events: make(chan Event, 256),
		retry:  make(chan struct{}, 1),
	}
}

// Events returns the single consumer channel. Closed when the supervisor
// shuts down.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Retry wakes the reconnect path immediately, bypassing the current backoff
// or polling-mode probe timer. Non-blocking.
func (s *Supervisor) Retry() {
	select {
	case s.retry <- struct{}{}:
	default:
	}
}

// Start launches the connection loop. It returns immediately; all activity
// is reported through Events.
func (s *Supervisor) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.events)

	attempt := 0
	for ctx.Err() == nil {
		s.emitState(ctx, StateChange{State: StateConnecting, Since: time.Now(), Attempt: attempt})

		conn, err := s.connect(ctx)
		if err != nil {
			s.log.Warn("websocket connect failed",
				zap.String("url", s.cfg.URL), zap.Int("attempt", attempt), zap.Error(err))

			fails := attempt // zero-based exponent for the backoff
			attempt++
			if attempt >= s.cfg.MaxFails {
				s.emitState(ctx, StateChange{State: StateFailed, Since: time.Now(), Attempt: attempt, Err: err})
				if !s.pollUntilConnectable(ctx) {
					return
				}
				attempt = 0
				continue
			}

			s.emitState(ctx, StateChange{State: StateReconnecting, Since: time.Now(), Attempt: attempt, Err: err})
			if !s.sleep(ctx, s.backoffDelay(fails)) {
				return
			}
			continue
		}

		attempt = 0
		s.emitState(ctx, StateChange{State: StateConnected, Since: time.Now()})

		readErr := s.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		s.log.Warn("websocket connection lost", zap.Error(readErr))
		attempt = 1
		s.emitState(ctx, StateChange{State: StateReconnecting, Since: time.Now(), Attempt: attempt, Err: readErr})
		if !s.sleep(ctx, s.backoffDelay(0)) {
			return
		}
	}
}

// connect dials and sends the subscription request for all streams.
func (s *Supervisor) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	sub := map[string]any{
		"method": "SUBSCRIBE",
		"params": s.cfg.Streams,
		"id":     1,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// readLoop emits frames until the connection breaks or the context ends.
func (s *Supervisor) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// unblock ReadMessage on cancellation
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		select {
		case s.events <- Event{Kind: EventFrame, Frame: msg}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pollUntilConnectable emits poll ticks on a fixed interval while probing
// the transport at the backoff ceiling cadence (or on manual Retry).
// Returns false when the context ended and true once a probe succeeds; the
// caller then re-enters the connected path, which triggers a full resync
// downstream.
func (s *Supervisor) pollUntilConnectable(ctx context.Context) bool {
	s.emitState(ctx, StateChange{State: StatePolling, Since: time.Now()})

	pollTicker := time.NewTicker(s.cfg.PollInterval)
	defer pollTicker.Stop()
	probeTicker := time.NewTicker(s.cfg.MaxDelay)
	defer probeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-pollTicker.C:
			select {
			case s.events <- Event{Kind: EventPollTick}:
			case <-ctx.Done():
				return false
			}
			continue // poll ticks never probe
		case <-probeTicker.C:
		case <-s.retry:
		}

		if ctx.Err() != nil {
			return false
		}
		if s.probe(ctx) {
			return true
		}
	}
}

// probe checks whether the transport is usable again. The probe connection
// is thrown away; run re-dials so subscribe and state emission follow the
// normal path.
func (s *Supervisor) probe(ctx context.Context) bool {
	conn, err := s.connect(ctx)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (s *Supervisor) backoffDelay(attempt int) time.Duration {
	if attempt > 30 {
		return s.cfg.MaxDelay
	}
	d := s.cfg.BaseDelay << uint(attempt)
	if d <= 0 || d > s.cfg.MaxDelay {
		return s.cfg.MaxDelay
	}
	return d
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.retry:
		return true
	case <-t.C:
		return true
	}
}

func (s *Supervisor) emitState(ctx context.Context, st StateChange) {
	select {
	case s.events <- Event{Kind: EventState, State: st}:
	case <-ctx.Done():
	}
}
