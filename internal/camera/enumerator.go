package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Labels matching any of these substrings mark a rear-facing camera, which is
// the preferred default for scanning.
var rearFacingHints = []string{"back", "rear", "environment"}

// Enumerator lists cameras through a Provider and applies the default
// selection policy.
type Enumerator struct {
	provider Provider
	logger   *zap.Logger
}

// NewEnumerator creates an Enumerator.
func NewEnumerator(provider Provider, logger *zap.Logger) *Enumerator {
	return &Enumerator{
		provider: provider,
		logger:   logger.Named("enumerator"),
	}
}

// List returns the available devices. Device labels are empty until camera
// permission has been exercised once, so when every label comes back blank,
// List briefly opens and immediately releases a stream on the first device
// to unlock them, then enumerates again.
func (e *Enumerator) List(ctx context.Context) ([]Device, error) {
	devices, err := e.provider.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating cameras: %w", err)
	}
	if len(devices) == 0 || !allLabelsEmpty(devices) {
		return devices, nil
	}

	e.logger.Debug("Device labels locked, probing first device to unlock them.",
		zap.String("device_id", devices[0].ID))

	stream, err := e.provider.Open(ctx, devices[0].ID, StreamConfig{Width: 1, Height: 1, FPS: 1})
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return nil, err
		}
		// The probe is best-effort; a busy device still yields an unlabeled list.
		e.logger.Warn("Label probe failed, returning unlabeled devices.", zap.Error(err))
		return devices, nil
	}
	if cerr := stream.Close(); cerr != nil {
		e.logger.Warn("Failed to release label probe stream.", zap.Error(cerr))
	}

	devices, err = e.provider.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("re-enumerating cameras after label probe: %w", err)
	}
	return devices, nil
}

// DefaultDevice applies the default selection policy: a case-insensitive
// substring match on "back"/"rear"/"environment" in the label wins; otherwise
// the first device. An empty list yields ErrNoCamera.
func DefaultDevice(devices []Device) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoCamera
	}
	for _, d := range devices {
		label := strings.ToLower(d.Label)
		for _, hint := range rearFacingHints {
			if strings.Contains(label, hint) {
				return d, nil
			}
		}
	}
	return devices[0], nil
}

func allLabelsEmpty(devices []Device) bool {
	for _, d := range devices {
		if d.Label != "" {
			return false
		}
	}
	return true
}
