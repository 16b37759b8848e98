// Package session implements the device session lifecycle: one
// controller owns at most one live cast session and serializes every
// state transition behind a mutex, while the network calls themselves
// run outside the lock so a slow device never blocks status reads.
package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/textcast/internal/castv2"
	"firestige.xyz/textcast/internal/core"
	"firestige.xyz/textcast/internal/event"
	"firestige.xyz/textcast/internal/log"
	"firestige.xyz/textcast/internal/metrics"
	"firestige.xyz/textcast/pkg/castwire"
)

// State represents the position of the session in its lifecycle.
type State string

const (
	// StateIdle indicates no session; Connect may be called.
	StateIdle State = "idle"
	// StateConnecting indicates a connect attempt in flight.
	StateConnecting State = "connecting"
	// StateActive indicates a live session accepting SendText.
	StateActive State = "active"
	// StateDisconnecting indicates teardown cleanup in progress.
	StateDisconnecting State = "disconnecting"
	// StateFailed indicates the last connect attempt failed; Connect may
	// be called again.
	StateFailed State = "failed"
)

// stateNames enumerates every state for the metrics gauge.
var stateNames = []string{
	string(StateIdle),
	string(StateConnecting),
	string(StateActive),
	string(StateDisconnecting),
	string(StateFailed),
}

// Hook observes session lifecycle edges. Hooks run synchronously on the
// goroutine driving the transition and must return quickly; anything
// slow belongs behind the event publisher instead.
type Hook interface {
	SessionStarted(sessionID string)
	SessionEnded(sessionID string)
}

// protocolClient is the slice of castv2.Client the controller drives.
// Narrowed to an interface so tests can script the device side.
type protocolClient interface {
	Open() error
	Status(ctx context.Context) (*castv2.ReceiverStatus, error)
	Launch(ctx context.Context, appID string) (*castv2.Application, error)
	Stop(ctx context.Context, sessionID string) error
	Send(transportID, namespace string, payload any) error
	Close() error
	Closed() <-chan struct{}
	Err() error
}

// Config carries the static session tunables.
type Config struct {
	Device         core.DeviceTarget
	ReceiverAppID  string
	DisplayURL     string // page the receiver loads; version query appended per send
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	RestoreTimeout time.Duration
	QueryTimeout   time.Duration
	MaxTextLen     int
}

// SendResult reports one SendText outcome.
type SendResult struct {
	Delivered bool          `json:"delivered"`
	Latency   time.Duration `json:"-"`
	LatencyMS float64       `json:"latency_ms"`
	Err       error         `json:"-"`
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	Online        bool      `json:"online"`
	State         State     `json:"state"`
	SessionID     string    `json:"session_id,omitempty"`
	DeviceName    string    `json:"device_name,omitempty"`
	DeviceAddress string    `json:"device_address"`
	StartedAt     time.Time `json:"started_at"`
	Uptime        string    `json:"uptime,omitempty"`
	MessagesSent  uint64    `json:"messages_sent"`
	CurrentText   string    `json:"current_text,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// Controller owns the single live session.
type Controller struct {
	cfg   Config
	pub   event.Publisher
	hooks []Hook

	// dial opens the protocol client; replaced by tests.
	dial func(ctx context.Context) (protocolClient, error)

	mu            sync.RWMutex
	state         State
	sessionID     string
	client        protocolClient
	priorApp      *castv2.Application
	appTransport  string
	appSession    string
	startedAt     time.Time
	messagesSent  uint64
	currentText   string
	textVersion   uint64
	failureReason string
	teardown      bool
	attemptCancel context.CancelFunc
}

// New creates an idle controller. pub may be nil when no sinks are
// wired; hooks observe session start/end.
func New(cfg Config, pub event.Publisher, hooks ...Hook) *Controller {
	if cfg.ReceiverAppID == "" {
		cfg.ReceiverAppID = castwire.AppDashCast
	}
	c := &Controller{
		cfg:   cfg,
		pub:   pub,
		hooks: hooks,
		state: StateIdle,
	}
	c.dial = func(ctx context.Context) (protocolClient, error) {
		return castv2.Dial(ctx, cfg.Device.Addr(), castv2.WithWriteTimeout(cfg.SendTimeout))
	}
	metrics.SetSessionState(string(StateIdle), stateNames)
	return c
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// GetStatus returns a snapshot of the session.
func (c *Controller) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{
		Online:        c.state == StateActive,
		State:         c.state,
		SessionID:     c.sessionID,
		DeviceName:    c.cfg.Device.Name,
		DeviceAddress: c.cfg.Device.Addr(),
		StartedAt:     c.startedAt,
		MessagesSent:  c.messagesSent,
		CurrentText:   c.currentText,
		FailureReason: c.failureReason,
	}
	if c.state == StateActive && !c.startedAt.IsZero() {
		status.Uptime = time.Since(c.startedAt).String()
	}
	return status
}

// CurrentText returns the text the display page should render and its
// version counter.
func (c *Controller) CurrentText() (string, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentText, c.textVersion
}

// setState updates the session state (not thread-safe, must hold mu
// lock). Every transition is logged, gauged, and published.
func (c *Controller) setState(s State, reason string) {
	prev := c.state
	c.state = s
	log.GetLogger().Infof("session state changed: %s -> %s", prev, s)
	metrics.SetSessionState(string(s), stateNames)
	c.publish(event.New(event.TypeSessionState, c.sessionID, event.SessionStatePayload{
		State:         string(s),
		DeviceAddress: c.cfg.Device.Addr(),
		DeviceName:    c.cfg.Device.Name,
		Reason:        reason,
	}))
}

func (c *Controller) publish(ev event.Event) {
	if c.pub == nil {
		return
	}
	_ = c.pub.Publish(context.Background(), ev)
}

// Connect establishes a new session: dial, platform handshake, record
// the prior foreground app, launch the receiver, push the display page.
// Valid from Idle or Failed; there are no retries inside, a failed
// attempt lands in Failed and the caller decides whether to try again.
func (c *Controller) Connect(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		c.mu.Unlock()
		return "", core.ErrAlreadyConnecting
	case StateActive:
		c.mu.Unlock()
		return "", core.ErrAlreadyActive
	case StateDisconnecting:
		c.mu.Unlock()
		return "", core.ErrDisconnecting
	}
	id := uuid.NewString()
	c.sessionID = id
	c.teardown = false
	c.attemptCancel = cancel
	c.failureReason = ""
	c.setState(StateConnecting, "")
	c.mu.Unlock()

	logger := log.GetLogger()
	logger.Infof("connecting to %s (%s)", c.cfg.Device.Addr(), c.cfg.Device.Label())

	client, err := c.dial(ctx)
	if err != nil {
		return "", c.failConnect(id, nil, err)
	}
	if err := client.Open(); err != nil {
		return "", c.failConnect(id, client, err)
	}
	if c.abandoned(id) {
		client.Close()
		return "", abandonedErr()
	}

	// Record the foreground app before the receiver replaces it, so
	// Disconnect can put it back. Query failure only costs restoration.
	var prior *castv2.Application
	qctx, qcancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	st, err := client.Status(qctx)
	qcancel()
	if err != nil {
		logger.Warnf("query running app: %v", err)
	} else if app := st.Foreground(); app != nil && restorable(app, c.cfg.ReceiverAppID) {
		prior = app
		logger.Infof("recorded prior app %s (%s)", app.DisplayName, app.AppID)
	}
	if c.abandoned(id) {
		client.Close()
		return "", abandonedErr()
	}

	app, err := client.Launch(ctx, c.cfg.ReceiverAppID)
	if err != nil {
		return "", c.failConnect(id, client, err)
	}
	if c.abandoned(id) {
		client.Close()
		return "", abandonedErr()
	}

	if err := client.Send(app.TransportID, castwire.NamespaceDashCast, castv2.DashCastLoad{
		URL:   c.displayURL(0),
		Force: true,
	}); err != nil {
		return "", c.failConnect(id, client, err)
	}

	c.mu.Lock()
	if c.teardown || c.sessionID != id || c.state != StateConnecting {
		c.mu.Unlock()
		client.Close()
		return "", abandonedErr()
	}
	c.client = client
	c.priorApp = prior
	c.appTransport = app.TransportID
	c.appSession = app.SessionID
	c.startedAt = time.Now()
	c.messagesSent = 0
	c.currentText = ""
	c.textVersion = 0
	c.attemptCancel = nil
	c.setState(StateActive, "")
	hooks := c.hooks
	c.mu.Unlock()

	logger.Infof("session %s active on %s", id, c.cfg.Device.Label())
	for _, h := range hooks {
		h.SessionStarted(id)
	}
	go c.watch(id, client)
	return id, nil
}

// restorable reports whether app is worth relaunching after the
// session. Idle screens and the receiver itself are not; neither is
// the default media player, which relaunches to a blank screen.
func restorable(app *castv2.Application, receiverAppID string) bool {
	if app.IsIdleScreen || app.AppID == receiverAppID {
		return false
	}
	switch app.AppID {
	case castwire.AppBackdrop, castwire.AppDashCast, castwire.AppMediaReceiver:
		return false
	}
	return true
}

func abandonedErr() error {
	return fmt.Errorf("%w: connect abandoned", core.ErrDisconnecting)
}

// abandoned reports whether this connect attempt lost ownership of the
// controller, either to Disconnect or to a newer attempt.
func (c *Controller) abandoned(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.teardown || c.sessionID != id || c.state != StateConnecting
}

// failConnect settles a failed attempt: Failed state, client released,
// specific error surfaced. When the attempt was abandoned mid-flight
// the state is already settled by Disconnect and only the late failure
// is reported.
func (c *Controller) failConnect(id string, client protocolClient, err error) error {
	if client != nil {
		client.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.teardown || c.sessionID != id || c.state != StateConnecting {
		return abandonedErr()
	}
	c.client = nil
	c.attemptCancel = nil
	c.failureReason = err.Error()
	c.setState(StateFailed, err.Error())
	log.GetLogger().Errorf("connect failed: %v", err)
	return err
}

// SendText pushes text to the active session by bumping the text
// version and reloading the display page. At-most-once per call; a
// transport failure is reported but leaves the session Active.
func (c *Controller) SendText(ctx context.Context, text string) (SendResult, error) {
	if c.cfg.MaxTextLen > 0 && len(text) > c.cfg.MaxTextLen {
		return SendResult{}, fmt.Errorf("%w: %d bytes (max %d)", core.ErrTextTooLong, len(text), c.cfg.MaxTextLen)
	}

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return SendResult{}, core.ErrNotConnected
	}
	client := c.client
	transport := c.appTransport
	id := c.sessionID
	c.textVersion++
	version := c.textVersion
	c.currentText = text
	c.mu.Unlock()

	start := time.Now()
	err := client.Send(transport, castwire.NamespaceDashCast, castv2.DashCastLoad{
		URL:   c.displayURL(version),
		Force: true,
	})
	latency := time.Since(start)

	res := SendResult{
		Delivered: err == nil,
		Latency:   latency,
		LatencyMS: float64(latency.Microseconds()) / 1000.0,
		Err:       err,
	}

	if err == nil {
		c.mu.Lock()
		if c.sessionID == id {
			c.messagesSent++
		}
		c.mu.Unlock()
	} else {
		log.GetLogger().Warnf("send failed after %s: %v", latency, err)
	}

	metrics.MessagesSentTotal.WithLabelValues(strconv.FormatBool(res.Delivered)).Inc()
	metrics.SendLatencySeconds.Observe(latency.Seconds())
	c.publish(event.New(event.TypeMessageSent, id, event.MessageSentPayload{
		Text:      text,
		Delivered: res.Delivered,
		LatencyMS: res.LatencyMS,
	}))

	return res, err
}

// Disconnect tears the session down. From Active it runs the ordered
// best-effort cleanup; from Connecting it abandons the in-flight
// attempt. Either way the controller ends Idle.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		// Abandon the attempt: cancel its context and let the Connect
		// call clean up whatever client it holds.
		c.teardown = true
		if c.attemptCancel != nil {
			c.attemptCancel()
			c.attemptCancel = nil
		}
		c.setState(StateIdle, "connect abandoned")
		c.sessionID = ""
		c.mu.Unlock()
		return nil
	case StateActive:
	case StateDisconnecting:
		c.mu.Unlock()
		return core.ErrDisconnecting
	default:
		c.mu.Unlock()
		return core.ErrNotConnected
	}

	id := c.sessionID
	client := c.client
	prior := c.priorApp
	appSession := c.appSession
	c.client = nil
	c.setState(StateDisconnecting, "")
	c.mu.Unlock()

	c.teardownSession(id, client, prior, appSession)
	c.finishTeardown(id, "")
	return nil
}

// watch waits for the transport to die underneath an active session
// and runs the same best-effort cleanup as Disconnect, ending Idle.
func (c *Controller) watch(id string, client protocolClient) {
	<-client.Closed()

	c.mu.Lock()
	if c.sessionID != id || c.state != StateActive {
		// An ordinary teardown owns the cleanup already.
		c.mu.Unlock()
		return
	}
	err := client.Err()
	prior := c.priorApp
	appSession := c.appSession
	c.client = nil
	reason := fmt.Sprintf("transport lost: %v", err)
	c.setState(StateDisconnecting, reason)
	c.mu.Unlock()

	log.GetLogger().Warnf("session %s %s", id, reason)
	c.teardownSession(id, client, prior, appSession)
	c.finishTeardown(id, reason)
}

// teardownSession runs the ordered cleanup: stop the receiver app,
// relaunch the prior app when one was recorded, close the transport.
// Each step gets its own bounded context; failures are logged and never
// abort the following steps.
func (c *Controller) teardownSession(id string, client protocolClient, prior *castv2.Application, appSession string) {
	logger := log.GetLogger()

	stopCtx, cancel := context.WithTimeout(context.Background(), c.cfg.RestoreTimeout)
	if err := client.Stop(stopCtx, appSession); err != nil {
		logger.Warnf("session %s: stop receiver: %v", id, err)
	}
	cancel()

	if prior != nil {
		restoreCtx, cancel := context.WithTimeout(context.Background(), c.cfg.RestoreTimeout)
		if _, err := client.Launch(restoreCtx, prior.AppID); err != nil {
			logger.Warnf("session %s: restore %s (%s): %v", id, prior.DisplayName, prior.AppID, err)
		} else {
			logger.Infof("session %s: restored %s", id, prior.AppID)
		}
		cancel()
	}

	if err := client.Close(); err != nil {
		logger.Warnf("session %s: close channel: %v", id, err)
	}
}

// finishTeardown settles the controller back to Idle and notifies the
// lifecycle hooks.
func (c *Controller) finishTeardown(id, reason string) {
	c.mu.Lock()
	c.priorApp = nil
	c.appTransport = ""
	c.appSession = ""
	c.currentText = ""
	c.textVersion = 0
	c.messagesSent = 0
	c.setState(StateIdle, reason)
	c.sessionID = ""
	c.startedAt = time.Time{}
	hooks := c.hooks
	c.mu.Unlock()

	for _, h := range hooks {
		h.SessionEnded(id)
	}
}

// displayURL is the page the receiver loads. The version query defeats
// the receiver's page cache so a forced reload shows the newest text.
func (c *Controller) displayURL(version uint64) string {
	return fmt.Sprintf("%s?v=%d", c.cfg.DisplayURL, version)
}
