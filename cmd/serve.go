package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hexlattice/scanhub/internal/observability"
	"github.com/hexlattice/scanhub/internal/product"
	"github.com/hexlattice/scanhub/internal/server"
)

// newServeCmd creates the `serve` command, which runs the REST control
// surface until interrupted.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scanner control API and product catalog",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			cfg := appCfg
			cfg.Server.Addr = viper.GetString("server.addr")

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(cfg.Server, a.coord, product.NewHandler(a.store, logger), a.metrics, logger)
			return srv.Run(ctx)
		},
	}

	serveCmd.Flags().String("addr", ":8080", "listen address for the HTTP API")
	return serveCmd
}
