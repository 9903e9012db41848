// Package channel manages the single duplex websocket session with the chatter backend.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/logging"
	"github.com/sjawhar/newscast/internal/protocol"
)

var (
	// ErrNotOpen is returned when sending while no session is open.
	ErrNotOpen = errors.New("session channel not open")
	// ErrConnect wraps every failure to establish a session.
	ErrConnect = errors.New("session channel connect failed")
)

const (
	defaultConnectTimeout = 10 * time.Second
	writeTimeout          = 10 * time.Second
	closeGrace            = time.Second
)

type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Delivery reports what SendWhenOpen did with a message.
type Delivery int

const (
	Sent Delivery = iota
	Queued
)

// URLFunc returns the endpoint to dial. It is called once per connection
// attempt so a refreshed credential is picked up on reconnect.
type URLFunc func() (string, error)

type Options struct {
	URL            URLFunc
	Dialer         *websocket.Dialer
	ConnectTimeout time.Duration
	Logger         *zap.Logger

	// OnEvent receives every decoded inbound event, in arrival order.
	OnEvent func(protocol.Event)
	// OnClosed is called when the current session ends without Close being called.
	OnClosed func(error)
}

type pendingSend struct {
	data   []byte
	binary bool
	done   func(error)
}

// Channel owns at most one live session. Sends on a session that is not open
// fail with ErrNotOpen; callers reconnect with Connect or defer with SendWhenOpen.
type Channel struct {
	opts   Options
	dialer *websocket.Dialer
	log    *zap.Logger

	mu       sync.Mutex
	state    State
	current  *session
	attempt  *attempt
	pending  []pendingSend
	sessions uint64
}

type attempt struct {
	done chan struct{}
	err  error
}

type session struct {
	id      uint64
	ws      *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

func New(opts Options) *Channel {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: defaultConnectTimeout}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	return &Channel{opts: opts, dialer: dialer, log: logging.OrNop(opts.Logger)}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect ensures a session is open. A call made while another attempt is in
// flight waits for that attempt instead of dialing again. A stale handle that is
// not open is closed before dialing.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		a := c.attempt
		c.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	stale := c.current
	c.current = nil
	a := &attempt{done: make(chan struct{})}
	c.attempt = a
	c.state = StateConnecting
	c.mu.Unlock()

	if stale != nil {
		stale.close()
	}

	err := c.dial(ctx, a)
	a.err = err
	close(a.done)
	return err
}

func (c *Channel) dial(ctx context.Context, a *attempt) error {
	fail := func(err error) error {
		c.mu.Lock()
		var dropped []pendingSend
		if c.attempt == a {
			c.attempt = nil
			c.state = StateClosed
			dropped = c.pending
			c.pending = nil
		}
		c.mu.Unlock()
		for _, p := range dropped {
			if p.done != nil {
				p.done(err)
			}
		}
		return err
	}

	if c.opts.URL == nil {
		return fail(fmt.Errorf("%w: no endpoint configured", ErrConnect))
	}
	url, err := c.opts.URL()
	if err != nil {
		return fail(fmt.Errorf("%w: resolve endpoint: %v", ErrConnect, err))
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	ws, resp, err := c.dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		if resp != nil {
			return fail(fmt.Errorf("%w: status %d: %v", ErrConnect, resp.StatusCode, err))
		}
		return fail(fmt.Errorf("%w: %v", ErrConnect, err))
	}

	c.mu.Lock()
	if c.attempt != a {
		// Close was called while dialing.
		c.mu.Unlock()
		_ = ws.Close()
		return fmt.Errorf("%w: closed while connecting", ErrConnect)
	}
	c.sessions++
	s := &session{id: c.sessions, ws: ws, closing: make(chan struct{}), done: make(chan struct{})}
	c.current = s
	c.attempt = nil
	c.state = StateOpen
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.log.Info("session channel open", zap.Uint64("session", s.id))
	go c.readLoop(s)

	for _, p := range queued {
		err := s.write(p.binary, p.data)
		if err != nil {
			c.log.Warn("deferred send failed", zap.Error(err))
		}
		if p.done != nil {
			p.done(err)
		}
	}
	return nil
}

// SendBinary sends one binary frame on the open session.
func (c *Channel) SendBinary(data []byte) error {
	return c.send(true, data)
}

// SendText sends one text frame on the open session.
func (c *Channel) SendText(data []byte) error {
	return c.send(false, data)
}

func (c *Channel) send(binary bool, data []byte) error {
	c.mu.Lock()
	s := c.current
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || s == nil {
		return ErrNotOpen
	}
	return s.write(binary, data)
}

// SendWhenOpen sends a text frame now if the session is open, or queues it to
// be written exactly once when the in-flight connection attempt opens. done is
// called with the write result; for queued messages it is called from the
// connecting goroutine, and with the connect error if the attempt fails.
// With no session and no attempt in flight it returns ErrNotOpen.
func (c *Channel) SendWhenOpen(data []byte, done func(error)) (Delivery, error) {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		s := c.current
		c.mu.Unlock()
		err := s.write(false, data)
		if done != nil {
			done(err)
		}
		return Sent, err
	case StateConnecting:
		c.pending = append(c.pending, pendingSend{data: append([]byte(nil), data...), done: done})
		c.mu.Unlock()
		return Queued, nil
	default:
		c.mu.Unlock()
		return Sent, ErrNotOpen
	}
}

// Close ends the current session, abandons any connection attempt and drops
// queued sends. It is safe to call repeatedly.
func (c *Channel) Close() error {
	c.mu.Lock()
	s := c.current
	c.current = nil
	a := c.attempt
	c.attempt = nil
	c.state = StateClosed
	dropped := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, p := range dropped {
		if p.done != nil {
			p.done(ErrNotOpen)
		}
	}
	if a != nil {
		c.log.Debug("abandoned connection attempt")
	}
	if s != nil {
		s.close()
		<-s.done
	}
	return nil
}

func (c *Channel) readLoop(s *session) {
	defer close(s.done)

	for {
		messageType, data, err := s.ws.ReadMessage()
		if err != nil {
			c.handleReadError(s, err)
			return
		}

		var ev protocol.Event
		switch messageType {
		case websocket.BinaryMessage:
			ev, err = protocol.Decode(true, data)
		case websocket.TextMessage:
			ev, err = protocol.Decode(false, data)
		default:
			continue
		}
		if err != nil {
			c.log.Warn("dropping inbound message", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(ev)
		}
	}
}

func (c *Channel) handleReadError(s *session, err error) {
	select {
	case <-s.closing:
		// Closed deliberately.
		return
	default:
	}

	c.mu.Lock()
	wasCurrent := c.current == s
	if wasCurrent {
		c.current = nil
		c.state = StateClosed
	}
	c.mu.Unlock()

	s.close()
	if !wasCurrent {
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Info("session channel closed by backend", zap.Uint64("session", s.id))
	} else {
		c.log.Warn("session channel lost", zap.Uint64("session", s.id), zap.Error(err))
	}
	if c.opts.OnClosed != nil {
		c.opts.OnClosed(err)
	}
}

func (s *session) write(binary bool, data []byte) error {
	messageType := websocket.TextMessage
	if binary {
		messageType = websocket.BinaryMessage
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.ws.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		// WriteControl may run alongside a data write; it gives up at the
		// deadline and closing the socket unblocks the stalled writer.
		_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeGrace))
		_ = s.ws.Close()
	})
}
