package cmd

import (
	"context"
	"errors"

	"github.com/rudransh-shrivastava/peerdrop/internal/config"
	"github.com/rudransh-shrivastava/peerdrop/internal/signaling"
	"github.com/spf13/cobra"
)

var listenAddr string

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "run a signaling server",
	Long:  `run the websocket broker peers register with and exchange connection offers through`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr = listenAddr
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()

		server := signaling.NewServer(signaling.Config{Addr: cfg.ListenAddr, Logger: newLogger(cfg)})
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	signalCmd.Flags().StringVar(&listenAddr, "listen", config.DefaultListenAddr, "address to listen on")
}
