package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/rudransh-shrivastava/peerdrop/internal/session"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport/webrtc"
)

const (
	DefaultSignalURL  = "ws://localhost:8080/ws"
	DefaultListenAddr = ":8080"
)

var validate = validator.New()

type Config struct {
	SignalURL      string        `env:"PEERDROP_SIGNAL_URL" validate:"required,url"`
	STUNServers    string        `env:"PEERDROP_STUN_SERVERS"`
	Debounce       time.Duration `env:"PEERDROP_DEBOUNCE" validate:"gte=0"`
	ConnectTimeout time.Duration `env:"PEERDROP_CONNECT_TIMEOUT" validate:"gt=0"`
	ChunkSize      int           `env:"PEERDROP_CHUNK_SIZE" validate:"gt=0"`
	DownloadDir    string        `env:"PEERDROP_DOWNLOAD_DIR" validate:"required"`
	HistoryDB      string        `env:"PEERDROP_HISTORY_DB" validate:"required"`
	LogLevel       string        `env:"PEERDROP_LOG_LEVEL" validate:"oneof=trace debug info warn warning error"`
	ListenAddr     string        `env:"PEERDROP_LISTEN_ADDR" validate:"required"`
}

func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		SignalURL:      DefaultSignalURL,
		STUNServers:    strings.Join(webrtc.DefaultSTUNServers, ","),
		Debounce:       session.DefaultDebounce,
		ConnectTimeout: session.DefaultConnectTimeout,
		ChunkSize:      protocol.DefaultChunkSize,
		DownloadDir:    filepath.Join(home, "Downloads"),
		HistoryDB:      filepath.Join(home, ".peerdrop", "history.db"),
		LogLevel:       "info",
		ListenAddr:     DefaultListenAddr,
	}
}

// Load layers a .env file (if any) and PEERDROP_* variables over the
// defaults.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading env file: %w", err)
	}

	cfg := Default()
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if limit := protocol.MaxChunkSize(transport.MaxMessageSize); c.ChunkSize > limit {
		return fmt.Errorf("chunk size %d exceeds %d", c.ChunkSize, limit)
	}
	return nil
}

// STUN returns the configured STUN server urls. An empty setting disables
// STUN, leaving host candidates only.
func (c Config) STUN() []string {
	var out []string
	for _, s := range strings.Split(c.STUNServers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
