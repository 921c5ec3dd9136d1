package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hexlattice/scanhub/internal/camera"
	"github.com/hexlattice/scanhub/internal/observability"
)

// newDevicesCmd creates the `devices` command, listing available cameras.
func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available camera devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			a, err := newApp(appCfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			devices, err := a.coord.Cameras(cmd.Context())
			if err != nil {
				return fmt.Errorf("enumerate cameras: %w", err)
			}

			defaultID := ""
			if dev, err := camera.DefaultDevice(devices); err == nil {
				defaultID = dev.ID
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DEVICE ID\tLABEL\tDEFAULT")
			for _, dev := range devices {
				marker := ""
				if dev.ID == defaultID {
					marker = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", dev.ID, dev.Label, marker)
			}
			return w.Flush()
		},
	}
}
