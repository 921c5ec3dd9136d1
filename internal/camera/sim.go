package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// SimDevice describes one synthetic camera.
type SimDevice struct {
	ID    string
	Label string
	// Busy makes Open fail with ErrCameraBusy, simulating a device held by
	// another application.
	Busy bool
}

// SimProvider is an in-process capture backend for demo mode and tests. It
// renders the configured payloads as QR code frames at the requested frame
// rate, and mimics platform permission semantics: device labels stay empty
// until a stream has been opened once.
type SimProvider struct {
	logger *zap.Logger

	mu             sync.Mutex
	devices        []SimDevice
	payloads       []string
	denyPermission bool
	labelsUnlocked bool
	active         map[string]bool
}

// NewSimProvider creates a SimProvider serving the given devices and QR
// payloads.
func NewSimProvider(devices []SimDevice, payloads []string, logger *zap.Logger) *SimProvider {
	return &SimProvider{
		logger:   logger.Named("sim_camera"),
		devices:  devices,
		payloads: payloads,
		active:   make(map[string]bool),
	}
}

// DenyPermission makes every subsequent Open fail with ErrPermissionDenied.
func (p *SimProvider) DenyPermission(deny bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denyPermission = deny
}

// Devices implements Provider. Labels are withheld until permission has been
// exercised through a successful Open.
func (p *SimProvider) Devices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Device, 0, len(p.devices))
	for _, d := range p.devices {
		label := d.Label
		if !p.labelsUnlocked {
			label = ""
		}
		out = append(out, Device{ID: d.ID, Label: label})
	}
	return out, nil
}

// Open implements Provider. A device can be held by at most one stream.
func (p *SimProvider) Open(ctx context.Context, deviceID string, cfg StreamConfig) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.denyPermission {
		return nil, ErrPermissionDenied
	}

	var dev *SimDevice
	for i := range p.devices {
		if p.devices[i].ID == deviceID {
			dev = &p.devices[i]
			break
		}
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if dev.Busy || p.active[deviceID] {
		return nil, fmt.Errorf("%w: %s", ErrCameraBusy, deviceID)
	}

	frames, err := renderPayloadFrames(p.payloads, cfg)
	if err != nil {
		return nil, fmt.Errorf("rendering simulated frames: %w", err)
	}

	p.labelsUnlocked = true
	p.active[deviceID] = true

	fps := cfg.FPS
	if fps <= 0 {
		fps = 10
	}

	s := &simStream{
		frames:  make(chan Frame, 1),
		release: func() { p.releaseDevice(deviceID) },
	}
	s.stop = make(chan struct{})
	go s.run(frames, time.Second/time.Duration(fps))

	p.logger.Debug("Opened simulated stream.",
		zap.String("device_id", deviceID), zap.Int("fps", fps))
	return s, nil
}

// ActiveStreams reports how many devices are currently held.
func (p *SimProvider) ActiveStreams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *SimProvider) releaseDevice(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, deviceID)
}

// renderPayloadFrames rasterizes each payload into a QR image once; the
// stream then cycles through them.
func renderPayloadFrames(payloads []string, cfg StreamConfig) ([]image.Image, error) {
	size := cfg.Width
	if cfg.Height < size {
		size = cfg.Height
	}
	if size <= 0 {
		size = 256
	}

	images := make([]image.Image, 0, len(payloads))
	for _, payload := range payloads {
		q, err := qrcode.New(payload, qrcode.Medium)
		if err != nil {
			return nil, fmt.Errorf("encoding payload %q: %w", payload, err)
		}
		images = append(images, q.Image(size))
	}
	return images, nil
}

// simStream delivers pre-rendered frames on a ticker until closed.
type simStream struct {
	frames    chan Frame
	stop      chan struct{}
	closeOnce sync.Once
	release   func()
}

func (s *simStream) Frames() <-chan Frame { return s.frames }

func (s *simStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.release()
	})
	return nil
}

func (s *simStream) run(images []image.Image, interval time.Duration) {
	defer close(s.frames)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			if len(images) == 0 {
				continue
			}
			frame := Frame{
				Image: images[seq%uint64(len(images))],
				Seq:   seq,
				At:    now,
			}
			seq++
			// Drop the frame when the consumer lags; a camera never blocks.
			select {
			case s.frames <- frame:
			case <-s.stop:
				return
			default:
			}
		}
	}
}
