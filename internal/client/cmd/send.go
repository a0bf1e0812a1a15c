package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const connectGrace = 2 * time.Second

var sendCmd = &cobra.Command{
	Use:   "send peer-id file-path",
	Short: "send a file to a peer",
	Long:  `connect to the peer registered under peer-id and send it the file at file-path`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerID, path := args[0], args[1]

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		ctx, cancel := signalContext(cmd)
		defer cancel()

		n, stop, err := startNode(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer stop()

		if err := n.RequestConnection(peerID); err != nil {
			return err
		}

		connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.Debounce+cfg.ConnectTimeout+connectGrace)
		defer cancelConnect()
		if err := n.AwaitSession(connectCtx); err != nil {
			return fmt.Errorf("connecting to %s: %w", peerID, err)
		}

		updates, unsubscribe := n.Bus().Transfer.Subscribe()
		defer unsubscribe()

		renderCtx, stopRender := context.WithCancel(ctx)
		defer stopRender()

		var sendErr error
		sent := make(chan struct{})
		go func() {
			defer close(sent)
			job, err := n.SendFile(ctx, path)
			if err != nil && job == nil {
				stopRender()
			}
			sendErr = err
		}()

		renderProgress(renderCtx, cmd.OutOrStdout(), updates, true)
		<-sent
		return sendErr
	},
}
