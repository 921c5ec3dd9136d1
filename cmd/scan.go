package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hexlattice/scanhub/internal/observability"
	"github.com/hexlattice/scanhub/internal/scanner"
)

// newScanCmd creates the `scan` command: a one-shot scan that prints the
// first accepted detection and exits.
func newScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan and print the detection as JSON",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			deviceID := viper.GetString("device")
			timeout := viper.GetDuration("timeout")

			a, err := newApp(appCfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			events := a.coord.Events()
			if err := a.coord.Start(ctx, deviceID); err != nil {
				return fmt.Errorf("start scanner: %w", err)
			}

			for {
				select {
				case <-ctx.Done():
					return fmt.Errorf("no barcode detected within %s", timeout)
				case ev, ok := <-events:
					if !ok {
						return fmt.Errorf("scanner closed before a detection")
					}
					if ev.State != scanner.StateSuccess {
						continue
					}
					out, err := json.MarshalIndent(map[string]interface{}{
						"detection": ev.Detection,
						"product":   ev.Product,
					}, "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(out))
					logger.Info("Scan complete.", zap.String("code", ev.Detection.Code))
					return nil
				}
			}
		},
	}

	scanCmd.Flags().String("device", "", "camera device id (default: rear-facing device)")
	scanCmd.Flags().Duration("timeout", 30*time.Second, "give up after this long")
	return scanCmd
}
