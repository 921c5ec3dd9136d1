package scanner

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hexlattice/scanhub/api/schemas"
	"github.com/hexlattice/scanhub/internal/camera"
	"github.com/hexlattice/scanhub/internal/config"
	"github.com/hexlattice/scanhub/internal/decode"
)

// testStream exposes a feed method so tests can drive the decode loop. Close
// does not close the frame channel; sessions exit through their context. end
// closes the frame channel, simulating the device dying mid-stream.
type testStream struct {
	frames  chan camera.Frame
	once    sync.Once
	endOnce sync.Once
	onClose func()
}

func (s *testStream) Frames() <-chan camera.Frame { return s.frames }

func (s *testStream) Close() error {
	s.once.Do(s.onClose)
	return nil
}

func (s *testStream) end() {
	s.endOnce.Do(func() { close(s.frames) })
}

func (s *testStream) feed() {
	frame := camera.Frame{Image: image.NewGray(image.Rect(0, 0, 4, 4)), At: time.Now()}
	select {
	case s.frames <- frame:
	default:
	}
}

// fakeCamProvider records open/close ordering and tracks concurrent streams.
type fakeCamProvider struct {
	mu        sync.Mutex
	devices   []camera.Device
	openErr   map[string]error
	ops       []string
	streams   []*testStream
	active    int
	maxActive int
}

func newFakeCamProvider(devices ...camera.Device) *fakeCamProvider {
	return &fakeCamProvider{devices: devices, openErr: map[string]error{}}
}

func (p *fakeCamProvider) Devices(ctx context.Context) ([]camera.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]camera.Device, len(p.devices))
	copy(out, p.devices)
	return out, nil
}

func (p *fakeCamProvider) Open(ctx context.Context, deviceID string, cfg camera.StreamConfig) (camera.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openErr[deviceID]; err != nil {
		return nil, err
	}
	p.ops = append(p.ops, "open:"+deviceID)
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	s := &testStream{frames: make(chan camera.Frame, 64)}
	s.onClose = func() {
		p.mu.Lock()
		p.ops = append(p.ops, "close:"+deviceID)
		p.active--
		p.mu.Unlock()
	}
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *fakeCamProvider) last() *testStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streams[len(p.streams)-1]
}

func (p *fakeCamProvider) opLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ops))
	copy(out, p.ops)
	return out
}

func (p *fakeCamProvider) openCount() int {
	n := 0
	for _, op := range p.opLog() {
		if len(op) > 4 && op[:5] == "open:" {
			n++
		}
	}
	return n
}

// fakeDecoder pops queued detections, returning ErrNoCode once drained.
type fakeDecoder struct {
	mu    sync.Mutex
	queue []schemas.Detection
}

func (d *fakeDecoder) push(dets ...schemas.Detection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, dets...)
}

func (d *fakeDecoder) Decode(image.Image) (schemas.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return schemas.Detection{}, decode.ErrNoCode
	}
	det := d.queue[0]
	d.queue = d.queue[1:]
	return det, nil
}

type fakeLookup struct {
	records map[string]schemas.ProductRecord
}

func (l fakeLookup) Lookup(_ context.Context, code string) (schemas.ProductRecord, error) {
	rec, ok := l.records[code]
	if !ok {
		return schemas.ProductRecord{}, errors.New("product not found")
	}
	return rec, nil
}

func defaultScanCfg() config.ScannerConfig {
	return config.ScannerConfig{
		ConfidenceThreshold: 70,
		DebounceWindow:      10 * time.Second,
		ResetPolicy:         config.ResetPolicyManual,
	}
}

func newTestCoordinator(t *testing.T, provider *fakeCamProvider, dec decode.Decoder, lookup ProductLookup, cfg config.ScannerConfig) *Coordinator {
	t.Helper()
	c := NewCoordinator(provider, dec, lookup, nil, cfg,
		config.CameraConfig{Width: 64, Height: 64, FPS: 30}, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// driveToSuccess feeds frames until the coordinator reaches Success.
func driveToSuccess(t *testing.T, c *Coordinator, provider *fakeCamProvider) {
	t.Helper()
	stream := provider.last()
	require.Eventually(t, func() bool {
		stream.feed()
		return c.State() == StateSuccess
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCoordinatorStartStop(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	c := newTestCoordinator(t, provider, &fakeDecoder{}, nil, defaultScanCfg())

	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	assert.Equal(t, StateScanning, c.State())
	assert.Equal(t, 1, provider.openCount())

	require.NoError(t, c.Stop())
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, []string{"open:cam-rear", "close:cam-rear"}, provider.opLog())
}

func TestCoordinatorStartIsGuarded(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	c := newTestCoordinator(t, provider, &fakeDecoder{}, nil, defaultScanCfg())

	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	err := c.Start(context.Background(), "cam-rear")
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, 1, provider.openCount(), "running session is untouched")
	assert.Equal(t, StateScanning, c.State())
}

func TestCoordinatorDefaultDeviceResolution(t *testing.T) {
	provider := newFakeCamProvider(
		camera.Device{ID: "a", Label: "Front"},
		camera.Device{ID: "b", Label: "Back Camera"},
	)
	c := newTestCoordinator(t, provider, &fakeDecoder{}, nil, defaultScanCfg())

	require.NoError(t, c.Start(context.Background(), ""))
	assert.Equal(t, "b", c.Snapshot().DeviceID, "rear-facing device wins")
}

func TestCoordinatorStartFailure(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	provider.openErr["cam-rear"] = camera.ErrPermissionDenied
	c := newTestCoordinator(t, provider, &fakeDecoder{}, nil, defaultScanCfg())

	err := c.Start(context.Background(), "cam-rear")
	require.ErrorIs(t, err, camera.ErrPermissionDenied)
	assert.Equal(t, StateError, c.State())
	assert.NotEmpty(t, c.Snapshot().LastError)

	// Only an explicit Retry recovers from Error.
	require.ErrorIs(t, c.Reset(), ErrInvalidTransition)
	require.NoError(t, c.Retry())
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, c.Snapshot().LastError)
	require.ErrorIs(t, c.Retry(), ErrInvalidTransition)

	provider.openErr = map[string]error{}
	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	assert.Equal(t, StateScanning, c.State())
}

func TestCoordinatorDetectionDrivesSuccess(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	dec := &fakeDecoder{}
	lookup := fakeLookup{records: map[string]schemas.ProductRecord{
		"123456789": {ID: "123456789", Name: "Widget", Stock: 50},
	}}
	c := newTestCoordinator(t, provider, dec, lookup, defaultScanCfg())

	events := c.Events()
	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	dec.push(schemas.Detection{Code: "123456789", Format: "QR_CODE", Confidence: 95})
	driveToSuccess(t, c, provider)

	status := c.Snapshot()
	assert.Equal(t, "success", status.State)
	assert.Equal(t, "123456789", status.LastCode)
	require.Eventually(t, func() bool {
		ops := provider.opLog()
		return len(ops) == 2 && ops[1] == "close:cam-rear"
	}, 2*time.Second, 5*time.Millisecond, "session stops on success")

	// The success event carries the detection and the resolved product.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.State != StateSuccess {
				continue
			}
			require.NotNil(t, ev.Detection)
			assert.Equal(t, "123456789", ev.Detection.Code)
			require.NotNil(t, ev.Product)
			assert.Equal(t, "Widget", ev.Product.Name)
			return
		case <-deadline:
			t.Fatal("no success event")
		}
	}
}

func TestCoordinatorConfidenceBoundary(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	dec := &fakeDecoder{}
	c := newTestCoordinator(t, provider, dec, nil, defaultScanCfg())

	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	stream := provider.last()

	dec.push(schemas.Detection{Code: "low", Confidence: 69})
	stream.feed()
	require.Never(t, func() bool {
		return c.State() != StateScanning
	}, 150*time.Millisecond, 10*time.Millisecond, "69 is below the threshold")

	dec.push(schemas.Detection{Code: "exact", Confidence: 70})
	driveToSuccess(t, c, provider)
	assert.Equal(t, "exact", c.Snapshot().LastCode)
}

func TestCoordinatorDebounceAcrossRestart(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	dec := &fakeDecoder{}
	c := newTestCoordinator(t, provider, dec, nil, defaultScanCfg())

	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	dec.push(schemas.Detection{Code: "123456789", Confidence: 95})
	driveToSuccess(t, c, provider)

	// Stop preserves the debounce memory; the same code read again inside
	// the window is suppressed.
	require.NoError(t, c.Stop())
	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	stream := provider.last()

	dec.push(schemas.Detection{Code: "123456789", Confidence: 95})
	stream.feed()
	require.Never(t, func() bool {
		return c.State() != StateScanning
	}, 150*time.Millisecond, 10*time.Millisecond, "duplicate read is debounced")

	dec.push(schemas.Detection{Code: "987654321", Confidence: 95})
	driveToSuccess(t, c, provider)
	assert.Equal(t, "987654321", c.Snapshot().LastCode)
}

func TestCoordinatorSwitchCameraOrdering(t *testing.T) {
	provider := newFakeCamProvider(
		camera.Device{ID: "a", Label: "Front"},
		camera.Device{ID: "b", Label: "Back Camera"},
	)
	c := newTestCoordinator(t, provider, &fakeDecoder{}, nil, defaultScanCfg())

	require.NoError(t, c.Start(context.Background(), "a"))
	require.NoError(t, c.SwitchCamera(context.Background(), "b"))

	assert.Equal(t, StateScanning, c.State())
	assert.Equal(t, "b", c.Snapshot().DeviceID)
	assert.Equal(t, []string{"open:a", "close:a", "open:b"}, provider.opLog(),
		"old stream is released before the new one opens")
	assert.Equal(t, 1, provider.maxActive, "never more than one live stream")
}

func TestCoordinatorStaleDetectionIgnored(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	c := newTestCoordinator(t, provider, &fakeDecoder{}, nil, defaultScanCfg())

	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	c.mu.Lock()
	staleToken := c.session.ID()
	c.mu.Unlock()

	// A detection carrying a token the coordinator no longer owns is dropped.
	require.NoError(t, c.Stop())
	c.handleDetection(staleToken, schemas.Detection{Code: "late", Confidence: 100})
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, c.Snapshot().LastCode)

	// So is one with a token that never belonged to the live session.
	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	c.handleDetection("bogus-token", schemas.Detection{Code: "forged", Confidence: 100})
	assert.Equal(t, StateScanning, c.State())
}

func TestCoordinatorResetFromSuccess(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	dec := &fakeDecoder{}
	c := newTestCoordinator(t, provider, dec, nil, defaultScanCfg())

	require.ErrorIs(t, c.Reset(), ErrInvalidTransition)

	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	dec.push(schemas.Detection{Code: "123456789", Confidence: 95})
	driveToSuccess(t, c, provider)

	require.NoError(t, c.Reset())
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, c.Snapshot().LastCode, "reset clears the recorded code")
}

func TestCoordinatorSuccessTimeout(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	dec := &fakeDecoder{}
	cfg := defaultScanCfg()
	cfg.SuccessTimeout = 100 * time.Millisecond
	c := newTestCoordinator(t, provider, dec, nil, cfg)

	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	dec.push(schemas.Detection{Code: "123456789", Confidence: 95})
	driveToSuccess(t, c, provider)

	require.Eventually(t, func() bool {
		return c.State() == StateIdle
	}, 2*time.Second, 10*time.Millisecond, "unacknowledged success expires to Idle")
	assert.Empty(t, c.Snapshot().LastCode)
}

func TestCoordinatorAutoRestartPolicy(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	dec := &fakeDecoder{}
	cfg := defaultScanCfg()
	cfg.ResetPolicy = config.ResetPolicyAuto
	cfg.DebounceWindow = 50 * time.Millisecond
	c := newTestCoordinator(t, provider, dec, nil, cfg)

	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	dec.push(schemas.Detection{Code: "123456789", Confidence: 95})
	driveToSuccess(t, c, provider)

	require.Eventually(t, func() bool {
		return c.State() == StateScanning
	}, 2*time.Second, 10*time.Millisecond, "auto policy resumes scanning")
	assert.Equal(t, 2, provider.openCount())
}

func TestCoordinatorClosedOperations(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	c := newTestCoordinator(t, provider, &fakeDecoder{}, nil, defaultScanCfg())

	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")

	require.ErrorIs(t, c.Start(context.Background(), "cam-rear"), ErrClosed)
	require.ErrorIs(t, c.Stop(), ErrClosed)
	require.ErrorIs(t, c.SwitchCamera(context.Background(), "cam-rear"), ErrClosed)

	// Drain the events buffered before Close; only then does a receive
	// report the channel as closed.
	for {
		if _, open := <-c.Events(); !open {
			break
		}
	}
}

func TestCoordinatorSessionOutlivesStartContext(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	dec := &fakeDecoder{}
	c := newTestCoordinator(t, provider, dec, nil, defaultScanCfg())

	// The caller's context only bounds the open phase; cancelling it after
	// Start returns must not tear the session down.
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx, "cam-rear"))
	cancel()

	dec.push(schemas.Detection{Code: "123456789", Format: "QR_CODE", Confidence: 95})
	driveToSuccess(t, c, provider)
	assert.Equal(t, "123456789", c.Snapshot().LastCode)
}

func TestCoordinatorStreamDeathEntersError(t *testing.T) {
	provider := newFakeCamProvider(camera.Device{ID: "cam-rear", Label: "Back Camera"})
	c := newTestCoordinator(t, provider, &fakeDecoder{}, nil, defaultScanCfg())

	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	provider.last().end()

	require.Eventually(t, func() bool {
		return c.State() == StateError
	}, 2*time.Second, 5*time.Millisecond, "dead stream surfaces as Error")
	assert.NotEmpty(t, c.Snapshot().LastError)
	assert.Equal(t, []string{"open:cam-rear", "close:cam-rear"}, provider.opLog(),
		"device is released even though Stop was never called")

	// The coordinator stays usable: Retry clears the error and a new
	// session can be started.
	require.NoError(t, c.Retry())
	require.NoError(t, c.Start(context.Background(), "cam-rear"))
	assert.Equal(t, StateScanning, c.State())
}
