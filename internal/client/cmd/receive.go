package cmd

import (
	"fmt"

	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "wait for peers to send files",
	Long:  `register with the signaling server and save every file peers send into the download directory`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Your id: %s\n", n.ID())
		fmt.Fprintf(out, "Saving files to %s\n", cfg.DownloadDir)

		peers, unsubscribePeers := n.Bus().Peer.Subscribe()
		defer unsubscribePeers()
		servers, unsubscribeServers := n.Bus().Server.Subscribe()
		defer unsubscribeServers()
		go logStatus(log, peers, servers)

		updates, unsubscribe := n.Bus().Transfer.Subscribe()
		defer unsubscribe()
		renderProgress(ctx, out, updates, false)
		return nil
	},
}

func logStatus(log *logrus.Logger, peers <-chan bus.PeerStatus, servers <-chan bus.ServerStatus) {
	for {
		select {
		case st, ok := <-peers:
			if !ok {
				return
			}
			log.WithFields(logrus.Fields{"peer": st.Peer, "reason": st.Reason}).Infof("Peer %s", st.State)
		case st, ok := <-servers:
			if !ok {
				return
			}
			entry := log.WithField("state", st.State)
			if st.Err != nil {
				entry.Warnf("Signaling server: %v", st.Err)
				continue
			}
			entry.Info("Signaling server")
		}
	}
}
