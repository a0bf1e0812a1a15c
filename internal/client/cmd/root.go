package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/peerdrop/internal/config"
	"github.com/rudransh-shrivastava/peerdrop/internal/db"
	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/rudransh-shrivastava/peerdrop/internal/node"
	"github.com/rudransh-shrivastava/peerdrop/internal/session"
	"github.com/rudransh-shrivastava/peerdrop/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	envFile     string
	signalURL   string
	logLevel    string
	identityArg string
	downloadDir string
	historyDB   string
	chunkSize   int
)

var rootCmd = &cobra.Command{
	Use:           `peerdrop`,
	Long:          `peerdrop sends files directly between two peers over a WebRTC data channel`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading PEERDROP_* variables")
	flags.StringVar(&signalURL, "signal", "", "signaling server websocket url")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&identityArg, "id", "", "identity to register with (generated when empty)")
	flags.StringVar(&downloadDir, "download-dir", "", "directory received files are saved to")
	flags.StringVar(&historyDB, "history-db", "", "sqlite file holding transfer history")
	flags.IntVar(&chunkSize, "chunk-size", 0, "chunk payload size in bytes")

	rootCmd.AddCommand(idCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(signalCmd)
}

// loadConfig layers flags the user set over the env-derived config.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("signal") {
		cfg.SignalURL = signalURL
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("download-dir") {
		cfg.DownloadDir = downloadDir
	}
	if flags.Changed("history-db") {
		cfg.HistoryDB = historyDB
	}
	if flags.Changed("chunk-size") {
		cfg.ChunkSize = chunkSize
	}
	return cfg, cfg.Validate()
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// startNode opens the history database and brings a node up. The returned
// func shuts both down.
func startNode(ctx context.Context, cfg config.Config, log *logrus.Logger) (*node.Node, func(), error) {
	gormDB, err := db.Open(cfg.HistoryDB)
	if err != nil {
		return nil, nil, err
	}

	n, err := node.New(ctx, node.Options{
		Identity:    identityArg,
		SignalURL:   cfg.SignalURL,
		STUNServers: cfg.STUN(),
		Session: session.Config{
			Debounce:       cfg.Debounce,
			ConnectTimeout: cfg.ConnectTimeout,
		},
		ChunkSize:   cfg.ChunkSize,
		DownloadDir: cfg.DownloadDir,
		History:     store.NewTransferStore(gormDB),
		Logger:      log,
	})
	if err != nil {
		_ = db.Close(gormDB)
		return nil, nil, err
	}

	return n, func() {
		_ = n.Close()
		_ = db.Close(gormDB)
	}, nil
}

func newLogger(cfg config.Config) *logrus.Logger {
	return logger.NewLogger(cfg.LogLevel)
}
