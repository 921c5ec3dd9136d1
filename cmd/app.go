package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hexlattice/scanhub/internal/camera"
	"github.com/hexlattice/scanhub/internal/config"
	"github.com/hexlattice/scanhub/internal/decode"
	"github.com/hexlattice/scanhub/internal/metrics"
	"github.com/hexlattice/scanhub/internal/product"
	"github.com/hexlattice/scanhub/internal/scanner"
)

// app bundles the wired components shared by the serve and scan commands.
type app struct {
	provider *camera.SimProvider
	coord    *scanner.Coordinator
	store    *product.Store
	metrics  *metrics.Metrics
}

// newApp builds the camera provider, decoder, product store, and coordinator
// from the resolved configuration.
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	devices := make([]camera.SimDevice, 0, len(cfg.Camera.Sim.Devices))
	for _, d := range cfg.Camera.Sim.Devices {
		devices = append(devices, camera.SimDevice{ID: d.ID, Label: d.Label, Busy: d.Busy})
	}
	provider := camera.NewSimProvider(devices, cfg.Camera.Sim.Payloads, logger)

	decoder, err := decode.NewZXingDecoder(cfg.Decoder, logger)
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}

	store := product.NewStore(logger)
	m := metrics.New()
	coord := scanner.NewCoordinator(provider, decoder, product.StoreLookup{Store: store}, m,
		cfg.Scanner, cfg.Camera, logger)

	return &app{
		provider: provider,
		coord:    coord,
		store:    store,
		metrics:  m,
	}, nil
}

func (a *app) close() {
	_ = a.coord.Close()
}
