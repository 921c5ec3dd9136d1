package decode

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hexlattice/scanhub/api/schemas"
	"github.com/hexlattice/scanhub/internal/camera"
)

// DetectionFunc receives detections from a session's decode loop. The token
// is the session ID, letting the owner discard callbacks from a session it
// has already abandoned.
type DetectionFunc func(token string, det schemas.Detection)

// Session owns one camera stream and decodes its frames until stopped.
// Detections are throttled to the configured attempt frequency and delivered
// through the callback from the decode goroutine.
type Session struct {
	id       string
	deviceID string
	stream   camera.Stream
	decoder  Decoder
	limiter  *rate.Limiter
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	cb DetectionFunc

	done     chan struct{}
	stopOnce sync.Once
}

// NewSession starts decoding frames from the stream. A frequency of zero or
// less disables throttling. The session runs until Stop is called, the
// parent context is canceled, or the stream ends.
func NewSession(ctx context.Context, deviceID string, stream camera.Stream, decoder Decoder, frequency float64, cb DetectionFunc, logger *zap.Logger) *Session {
	sessionCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       uuid.NewString(),
		deviceID: deviceID,
		stream:   stream,
		decoder:  decoder,
		logger:   logger.Named("session"),
		ctx:      sessionCtx,
		cancel:   cancel,
		cb:       cb,
		done:     make(chan struct{}),
	}
	if frequency > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(frequency), 1)
	}
	s.logger = s.logger.With(zap.String("session_id", s.id), zap.String("device_id", deviceID))

	go s.loop()
	return s
}

// ID returns the session token carried on every detection callback.
func (s *Session) ID() string { return s.id }

// DeviceID returns the camera device the session is bound to.
func (s *Session) DeviceID() string { return s.deviceID }

// Done is closed once the decode loop has fully exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop tears the session down: it disarms the callback, then releases the
// stream. It does not wait for the decode loop to exit (callers inside the
// callback would deadlock); use Done for that. One delivery already past the
// disarm check may still complete after Stop returns, so owners must gate
// late callbacks by session token. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.cb = nil
		s.mu.Unlock()

		s.cancel()
		if err := s.stream.Close(); err != nil {
			s.logger.Warn("Failed to close camera stream.", zap.Error(err))
		}
		s.logger.Debug("Session stopped.")
	})
}

func (s *Session) loop() {
	defer close(s.done)
	// The stream is released even when the loop exits on its own (parent
	// cancellation or the frame channel closing), not only through Stop.
	defer s.Stop()

	frames := s.stream.Frames()
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				s.logger.Debug("Camera stream ended.")
				return
			}
			if s.limiter != nil && !s.limiter.Allow() {
				continue
			}
			det, err := s.decoder.Decode(frame.Image)
			if err != nil {
				if !errors.Is(err, ErrNoCode) {
					s.logger.Warn("Frame decode failed.", zap.Error(err))
				}
				continue
			}
			s.emit(det)
		}
	}
}

// emit snapshots the callback under the lock and invokes it outside, so a
// callback that calls back into Stop cannot deadlock.
func (s *Session) emit(det schemas.Detection) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(s.id, det)
	}
}
