package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hexlattice/scanhub/api/schemas"
	"github.com/hexlattice/scanhub/internal/camera"
	"github.com/hexlattice/scanhub/internal/config"
	"github.com/hexlattice/scanhub/internal/decode"
	"github.com/hexlattice/scanhub/internal/metrics"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is starting or
	// scanning. The running session is left untouched.
	ErrAlreadyRunning = errors.New("scanner already running")
	// ErrInvalidTransition is returned when an operation does not apply to
	// the current state, e.g. Reset outside Success.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("scanner closed")
)

// ProductLookup resolves a scanned code to a product record. Lookup failures
// never affect scanner state; they only annotate the emitted event.
type ProductLookup interface {
	Lookup(ctx context.Context, code string) (schemas.ProductRecord, error)
}

// Event describes a state transition, published to subscribers. Success
// events carry the detection and, when the lookup resolved, the product.
type Event struct {
	State     State                  `json:"state"`
	Detection *schemas.Detection     `json:"detection,omitempty"`
	Product   *schemas.ProductRecord `json:"product,omitempty"`
	Error     string                 `json:"error,omitempty"`
	At        time.Time              `json:"at"`
}

const eventBuffer = 16

// Coordinator drives the scanner state machine. A single mutex serializes
// every operation, so overlapping Start/Stop/Switch requests apply strictly
// in completion order and at most one decode session is live at a time.
type Coordinator struct {
	provider  camera.Provider
	enum      *camera.Enumerator
	decoder   decode.Decoder
	lookup    ProductLookup
	metrics   *metrics.Metrics
	cfg       config.ScannerConfig
	streamCfg camera.StreamConfig
	filter    ConfidenceFilter
	logger    *zap.Logger

	// baseCtx outlives any caller's request context; decode sessions and
	// post-success lookups run on it so they survive the Start call that
	// created them. Canceled by Close.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.Mutex
	state      State
	deviceID   string
	session    *decode.Session
	lastCode   string
	lastCodeAt time.Time
	lastErr    string
	timer      *time.Timer
	events     chan Event
	closed     bool
}

// NewCoordinator wires the scanner together. lookup and m may be nil.
func NewCoordinator(provider camera.Provider, decoder decode.Decoder, lookup ProductLookup, m *metrics.Metrics, scanCfg config.ScannerConfig, camCfg config.CameraConfig, logger *zap.Logger) *Coordinator {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Coordinator{
		provider: provider,
		enum:     camera.NewEnumerator(provider, logger),
		decoder:  decoder,
		lookup:   lookup,
		metrics:  m,
		cfg:      scanCfg,
		streamCfg: camera.StreamConfig{
			Width:  camCfg.Width,
			Height: camCfg.Height,
			FPS:    camCfg.FPS,
		},
		filter:     ConfidenceFilter{Threshold: scanCfg.ConfidenceThreshold},
		logger:     logger.Named("scanner"),
		deviceID:   camCfg.DeviceID,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		events:     make(chan Event, eventBuffer),
	}
}

// Cameras lists available devices, probing to unlock labels when needed.
func (c *Coordinator) Cameras(ctx context.Context) ([]camera.Device, error) {
	return c.enum.List(ctx)
}

// Start acquires a camera and begins scanning. The context bounds only the
// synchronous enumeration and open phase; the decode session itself lives
// until stopped or the coordinator closes. An empty deviceID reuses the last
// device, falling back to the default-device policy. Returns
// ErrAlreadyRunning if a session is already starting or scanning.
func (c *Coordinator) Start(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state == StateStarting || c.state == StateScanning {
		return ErrAlreadyRunning
	}
	c.stopTimerLocked()
	return c.startLocked(ctx, deviceID)
}

// Stop tears down any live session and returns to Idle. Valid in any state.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.stopSessionLocked()
	c.stopTimerLocked()
	if c.state != StateIdle {
		c.setStateLocked(StateIdle)
		c.publishLocked(Event{State: StateIdle})
	}
	return nil
}

// SwitchCamera stops the current session, if any, and restarts on the given
// device. The old stream is fully released before the new one is opened.
func (c *Coordinator) SwitchCamera(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.stopSessionLocked()
	c.stopTimerLocked()
	return c.startLocked(ctx, deviceID)
}

// Reset acknowledges a successful scan and returns to Idle, clearing the
// recorded code. Only valid in Success.
func (c *Coordinator) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != StateSuccess {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, c.state)
	}
	c.stopTimerLocked()
	c.lastCode = ""
	c.lastCodeAt = time.Time{}
	c.setStateLocked(StateIdle)
	c.publishLocked(Event{State: StateIdle})
	return nil
}

// Retry clears a startup failure and returns to Idle so a new Start can be
// issued. Only valid in Error.
func (c *Coordinator) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != StateError {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, c.state)
	}
	c.lastErr = ""
	c.setStateLocked(StateIdle)
	c.publishLocked(Event{State: StateIdle})
	return nil
}

// Events returns the transition stream. Sends are non-blocking; slow
// consumers lose events rather than stalling the scanner.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Snapshot reports the current status for the control API.
func (c *Coordinator) Snapshot() schemas.ScannerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return schemas.ScannerStatus{
		State:     c.state.String(),
		DeviceID:  c.deviceID,
		LastCode:  c.lastCode,
		LastError: c.lastErr,
	}
}

// State returns the current lifecycle phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close stops everything and closes the event channel. The coordinator is
// unusable afterwards.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.stopSessionLocked()
	c.stopTimerLocked()
	c.baseCancel()
	c.closed = true
	close(c.events)
	return nil
}

// startLocked acquires a stream and brings up a decode session. The caller
// holds c.mu.
func (c *Coordinator) startLocked(ctx context.Context, deviceID string) error {
	id := deviceID
	if id == "" {
		id = c.deviceID
	}
	c.setStateLocked(StateStarting)
	c.publishLocked(Event{State: StateStarting})

	if id == "" {
		devices, err := c.enum.List(ctx)
		if err != nil {
			return c.failLocked(fmt.Errorf("enumerate cameras: %w", err))
		}
		dev, err := camera.DefaultDevice(devices)
		if err != nil {
			return c.failLocked(err)
		}
		id = dev.ID
	}

	stream, err := c.provider.Open(ctx, id, c.streamCfg)
	if err != nil {
		return c.failLocked(fmt.Errorf("open camera %s: %w", id, err))
	}

	c.deviceID = id
	c.lastErr = ""
	// The session runs on the coordinator's own context, not the caller's:
	// a Start issued from an HTTP handler must outlive the request.
	c.session = decode.NewSession(c.baseCtx, id, stream, c.decoder, c.cfg.Frequency, c.handleDetection, c.logger)
	go c.watchSession(c.session)
	c.metrics.SessionStarted()
	c.setStateLocked(StateScanning)
	c.publishLocked(Event{State: StateScanning})
	return nil
}

// watchSession notices a session dying underneath the coordinator (stream
// ended, device lost) and surfaces it as an Error state. Planned teardowns
// detach the session first, so they never trip this.
func (c *Coordinator) watchSession(s *decode.Session) {
	<-s.Done()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.session != s {
		return
	}
	c.session = nil
	c.lastErr = "camera stream ended"
	c.logger.Warn("Decode session died while scanning.", zap.String("device_id", s.DeviceID()))
	c.setStateLocked(StateError)
	c.publishLocked(Event{State: StateError, Error: c.lastErr})
}

func (c *Coordinator) failLocked(err error) error {
	c.lastErr = err.Error()
	c.setStateLocked(StateError)
	c.publishLocked(Event{State: StateError, Error: c.lastErr})
	return err
}

// stopSessionLocked detaches the session before stopping it, so a detection
// racing this call fails the token check instead of mutating state.
func (c *Coordinator) stopSessionLocked() {
	if c.session == nil {
		return
	}
	s := c.session
	c.session = nil
	s.Stop()
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.metrics.StateTransition(from.String(), to.String())
	c.logger.Info("Scanner state changed.",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

func (c *Coordinator) publishLocked(ev Event) {
	if c.closed {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("Event dropped, subscriber too slow.", zap.Stringer("state", ev.State))
	}
}

// handleDetection runs on the session's decode goroutine. The token check
// drops results from any session the coordinator has already let go of.
func (c *Coordinator) handleDetection(token string, det schemas.Detection) {
	c.mu.Lock()
	if c.closed || c.session == nil || c.session.ID() != token || c.state != StateScanning {
		c.mu.Unlock()
		return
	}
	if !c.filter.Accept(det) {
		c.metrics.DetectionRejected()
		c.logger.Debug("Detection below confidence threshold.",
			zap.Float64("confidence", det.Confidence),
			zap.Float64("threshold", c.filter.Threshold))
		c.mu.Unlock()
		return
	}
	if det.Code == c.lastCode && !c.lastCodeAt.IsZero() && time.Since(c.lastCodeAt) < c.cfg.DebounceWindow {
		c.metrics.DetectionRejected()
		c.mu.Unlock()
		return
	}

	c.metrics.DetectionAccepted()
	c.lastCode = det.Code
	c.lastCodeAt = time.Now()
	s := c.session
	c.session = nil
	c.setStateLocked(StateSuccess)
	c.armPolicyTimerLocked()
	ctx := c.baseCtx
	c.mu.Unlock()

	s.Stop()
	c.logger.Info("Barcode accepted.",
		zap.String("code", det.Code),
		zap.String("format", det.Format),
		zap.Float64("confidence", det.Confidence))

	var product *schemas.ProductRecord
	if c.lookup != nil {
		rec, err := c.lookup.Lookup(ctx, det.Code)
		if err != nil {
			c.metrics.ProductLookup("miss")
			c.logger.Info("Product lookup failed.", zap.String("code", det.Code), zap.Error(err))
		} else {
			c.metrics.ProductLookup("hit")
			product = &rec
		}
	}

	c.mu.Lock()
	c.publishLocked(Event{State: StateSuccess, Detection: &det, Product: product})
	c.mu.Unlock()
}

// armPolicyTimerLocked schedules the post-success behavior: auto policy
// restarts scanning once the debounce window has passed, manual policy falls
// back to Idle after the success timeout, if one is configured.
func (c *Coordinator) armPolicyTimerLocked() {
	switch c.cfg.ResetPolicy {
	case config.ResetPolicyAuto:
		c.timer = time.AfterFunc(c.cfg.DebounceWindow, c.autoRestart)
	default:
		if c.cfg.SuccessTimeout > 0 {
			c.timer = time.AfterFunc(c.cfg.SuccessTimeout, c.expireSuccess)
		}
	}
}

func (c *Coordinator) autoRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != StateSuccess {
		return
	}
	if err := c.startLocked(c.baseCtx, c.deviceID); err != nil {
		c.logger.Warn("Automatic restart failed.", zap.Error(err))
	}
}

func (c *Coordinator) expireSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != StateSuccess {
		return
	}
	c.lastCode = ""
	c.lastCodeAt = time.Time{}
	c.setStateLocked(StateIdle)
	c.publishLocked(Event{State: StateIdle})
}
