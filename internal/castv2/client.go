// Package castv2 drives one TLS cast channel to a display device:
// castwire framing, the platform handshake, request correlation on the
// receiver namespace, and the heartbeat that detects dead devices.
package castv2

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/textcast/internal/core"
	"firestige.xyz/textcast/internal/log"
	"firestige.xyz/textcast/pkg/castwire"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	heartbeatMaxMisses       = 3
	launchPollInterval       = 250 * time.Millisecond
)

type options struct {
	heartbeatInterval time.Duration
	writeTimeout      time.Duration
}

// Option adjusts client behavior.
type Option func(*options)

// WithHeartbeatInterval overrides the PING cadence.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.heartbeatInterval = d }
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// Client is one open cast channel. All methods are safe for concurrent
// use; once Closed fires the client is dead and a new one must be
// dialed.
type Client struct {
	conn net.Conn
	opts options

	writeMu sync.Mutex

	reqID    atomic.Int32
	pongSeen atomic.Bool

	mu         sync.Mutex
	pending    map[int32]chan *reply
	transports map[string]bool
	opened     bool
	closeErr   error

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial opens a TLS cast channel to addr. Devices present self-signed
// certificates, so chain verification is skipped.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	dialer := tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    &tls.Config{InsecureSkipVerify: true},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, core.ClassifyNetError(err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection and starts the read loop.
func NewClient(conn net.Conn, opts ...Option) *Client {
	o := options{
		heartbeatInterval: defaultHeartbeatInterval,
		writeTimeout:      defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Client{
		conn:       conn,
		opts:       o,
		pending:    make(map[int32]chan *reply),
		transports: make(map[string]bool),
		closed:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Open establishes the platform virtual connection and starts the
// heartbeat. A client opens at most once; opening an already open
// channel fails with core.ErrAlreadyConnected.
func (c *Client) Open() error {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return core.ErrAlreadyConnected
	}
	c.opened = true
	c.mu.Unlock()

	if err := c.send(castwire.SenderID, castwire.ReceiverID, castwire.NamespaceConnection, command{Type: typeConnect}); err != nil {
		return err
	}
	go c.heartbeatLoop()
	return nil
}

// Status queries the receiver for its application state.
func (c *Client) Status(ctx context.Context) (*ReceiverStatus, error) {
	resp, err := c.request(ctx, command{Type: typeGetStatus})
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return &ReceiverStatus{}, nil
	}
	return resp.Status, nil
}

// Launch starts the application and returns its status entry once the
// device reports it running, with the application transport connected.
func (c *Client) Launch(ctx context.Context, appID string) (*Application, error) {
	resp, err := c.request(ctx, command{Type: typeLaunch, AppID: appID})
	if err != nil {
		return nil, err
	}
	if resp.Type == typeLaunchError {
		return nil, fmt.Errorf("%w: launch %s: %s", core.ErrAppLaunchRejected, appID, resp.Reason)
	}

	// Some firmware answers LAUNCH before the application shows up in
	// the status; poll until it does or the caller gives up.
	app := resp.Status.App(appID)
	for app == nil {
		select {
		case <-ctx.Done():
			return nil, core.ClassifyNetError(ctx.Err())
		case <-time.After(launchPollInterval):
		}
		st, err := c.Status(ctx)
		if err != nil {
			return nil, err
		}
		app = st.App(appID)
	}

	if err := c.ConnectTransport(app.TransportID); err != nil {
		return nil, err
	}
	return app, nil
}

// Stop halts the named application session.
func (c *Client) Stop(ctx context.Context, sessionID string) error {
	_, err := c.request(ctx, command{Type: typeStop, SessionID: sessionID})
	return err
}

// ConnectTransport opens the virtual connection to an application
// transport. Required once before the application accepts messages;
// repeated calls for the same transport are no-ops.
func (c *Client) ConnectTransport(transportID string) error {
	c.mu.Lock()
	open := c.transports[transportID]
	c.mu.Unlock()
	if open {
		return nil
	}
	if err := c.send(castwire.SenderID, transportID, castwire.NamespaceConnection, command{Type: typeConnect}); err != nil {
		return err
	}
	c.mu.Lock()
	c.transports[transportID] = true
	c.mu.Unlock()
	return nil
}

// Send delivers an application payload on the given namespace. The
// write deadline is the only delivery guarantee; applications like
// DashCast do not acknowledge.
func (c *Client) Send(transportID, namespace string, payload any) error {
	select {
	case <-c.closed:
		return c.Err()
	default:
	}
	return c.send(castwire.SenderID, transportID, namespace, payload)
}

// Close tears the channel down. The platform CLOSE is best effort.
func (c *Client) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
	}
	_ = c.send(castwire.SenderID, castwire.ReceiverID, castwire.NamespaceConnection, command{Type: typeClose})
	c.closeWithErr(core.ErrClientClosed)
	return nil
}

// Closed is closed when the channel dies, whatever the reason.
func (c *Client) Closed() <-chan struct{} { return c.closed }

// Err reports why the channel died. Meaningful once Closed fires.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Client) closeWithErr(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		c.mu.Unlock()
		c.conn.Close()
		close(c.closed)
	})
}

// request sends a receiver namespace command and waits for the reply
// carrying the same requestId.
func (c *Client) request(ctx context.Context, cmd command) (*reply, error) {
	select {
	case <-c.closed:
		return nil, c.Err()
	default:
	}

	id := c.reqID.Add(1)
	cmd.RequestID = id
	ch := make(chan *reply, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(castwire.SenderID, castwire.ReceiverID, castwire.NamespaceReceiver, cmd); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, core.ClassifyNetError(ctx.Err())
	case <-c.closed:
		return nil, c.Err()
	}
}

// send serializes one frame onto the wire. A failed or timed-out write
// means the channel is unusable, so it also closes the client.
func (c *Client) send(source, dest, namespace string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", namespace, err)
	}
	msg := castwire.NewTextMessage(source, dest, namespace, string(data))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.opts.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
	}
	if err := castwire.WriteMessage(c.conn, msg); err != nil {
		err = core.ClassifyNetError(err)
		c.closeWithErr(err)
		return err
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		msg, err := castwire.ReadMessage(c.conn)
		if err != nil {
			c.closeWithErr(core.ClassifyNetError(err))
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg *castwire.Message) {
	logger := log.GetLogger()
	switch msg.Namespace {
	case castwire.NamespaceHeartbeat:
		var p reply
		if err := json.Unmarshal([]byte(msg.PayloadUTF8), &p); err != nil {
			logger.Warnf("heartbeat payload unreadable: %v", err)
			return
		}
		switch p.Type {
		case typePong:
			c.pongSeen.Store(true)
		case typePing:
			_ = c.send(castwire.SenderID, msg.SourceID, castwire.NamespaceHeartbeat, command{Type: typePong})
		}

	case castwire.NamespaceConnection:
		var p reply
		if err := json.Unmarshal([]byte(msg.PayloadUTF8), &p); err != nil {
			return
		}
		if p.Type != typeClose {
			return
		}
		if msg.SourceID == castwire.ReceiverID {
			c.closeWithErr(fmt.Errorf("%w: closed by device", core.ErrClientClosed))
			return
		}
		// An application transport went away, usually because its app
		// stopped. The channel itself stays up.
		c.mu.Lock()
		delete(c.transports, msg.SourceID)
		c.mu.Unlock()
		logger.Debugf("cast transport %s closed", msg.SourceID)

	case castwire.NamespaceReceiver:
		var p reply
		if err := json.Unmarshal([]byte(msg.PayloadUTF8), &p); err != nil {
			logger.Warnf("receiver payload unreadable: %v", err)
			return
		}
		if p.RequestID == 0 {
			logger.Debugf("unsolicited %s from %s", p.Type, msg.SourceID)
			return
		}
		c.mu.Lock()
		ch := c.pending[p.RequestID]
		delete(c.pending, p.RequestID)
		c.mu.Unlock()
		if ch != nil {
			ch <- &p
		}

	default:
		logger.Debugf("message on unhandled namespace %s", msg.Namespace)
	}
}

// heartbeatLoop pings the receiver every interval and closes the
// channel after heartbeatMaxMisses consecutive unanswered pings.
func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.opts.heartbeatInterval)
	defer ticker.Stop()

	c.pongSeen.Store(true)
	misses := 0
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
		}
		if c.pongSeen.Swap(false) {
			misses = 0
		} else {
			misses++
			if misses >= heartbeatMaxMisses {
				c.closeWithErr(fmt.Errorf("%w: %d heartbeats unanswered", core.ErrTimeout, misses))
				return
			}
		}
		if err := c.send(castwire.SenderID, castwire.ReceiverID, castwire.NamespaceHeartbeat, command{Type: typePing}); err != nil {
			return
		}
	}
}
