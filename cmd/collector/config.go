package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.yaml.in/yaml/v4"

	"github.com/daszybak/polymarket_capture/internal/capture"
	configtypes "github.com/daszybak/polymarket_capture/internal/config"
	"github.com/daszybak/polymarket_capture/internal/ingest"
	"github.com/daszybak/polymarket_capture/internal/polymarket"
)

type config struct {
	LogLevel string `yaml:"log_level"` // debug, info, warn, error
	Capture  struct {
		Windows           int                  `yaml:"windows"`
		Directory         string               `yaml:"directory"`
		FlushThreshold    int                  `yaml:"flush_threshold"`
		CompressCompleted bool                 `yaml:"compress_completed"`
		ReconnectDelay    configtypes.Duration `yaml:"reconnect_delay"`
		MaxReconnectDelay configtypes.Duration `yaml:"max_reconnect_delay"`
		StableSession     configtypes.Duration `yaml:"stable_session"`
		DiscoveryTimeout  configtypes.Duration `yaml:"discovery_timeout"`
	} `yaml:"capture"`
	Platforms struct {
		PolyMarket struct {
			GammaURL string `yaml:"gamma_url"`
			WS       struct {
				WebsocketURL   string `yaml:"url"`
				MarketEndpoint string `yaml:"market_endpoint"`
			} `yaml:"ws"`
		} `yaml:"polymarket"`
	} `yaml:"platforms"`
	// Database is optional; an empty host disables the window catalog.
	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
		PoolSize int    `yaml:"pool_size"`
		SSLMode  string `yaml:"ssl_mode"`
	} `yaml:"database"`
	Metrics struct {
		Addr string `yaml:"addr"` // empty disables the endpoint
	} `yaml:"metrics"`
}

const defaultDiscoveryTimeout = 10 * time.Second

func defaultConfig() *config {
	cfg := &config{LogLevel: "info"}

	cfg.Capture.Windows = 1
	cfg.Capture.FlushThreshold = ingest.DefaultFlushThreshold
	cfg.Capture.ReconnectDelay = configtypes.Duration(capture.DefaultReconnectDelay)
	cfg.Capture.MaxReconnectDelay = configtypes.Duration(capture.DefaultMaxReconnectDelay)
	cfg.Capture.StableSession = configtypes.Duration(capture.DefaultStableSession)
	cfg.Capture.DiscoveryTimeout = configtypes.Duration(defaultDiscoveryTimeout)

	cfg.Platforms.PolyMarket.GammaURL = polymarket.DefaultGammaURL
	cfg.Platforms.PolyMarket.WS.WebsocketURL = polymarket.DefaultWebsocketURL
	cfg.Platforms.PolyMarket.WS.MarketEndpoint = polymarket.DefaultMarketEndpoint

	cfg.Database.Port = 5432
	cfg.Database.PoolSize = 4
	cfg.Database.SSLMode = "disable"
	return cfg
}

// readConfig layers the file at configPath over the defaults. An empty
// path means defaults only.
func readConfig(configPath string) (*config, error) {
	cfg := defaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	rawConfig, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("couldn't read file %s: %w", configPath, err)
	}

	if err = yaml.Unmarshal(rawConfig, cfg); err != nil {
		return nil, fmt.Errorf("couldn't parse config: %w", err)
	}

	return cfg, nil
}

func validateConfig(cfg *config) error {
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	// Capture
	if cfg.Capture.Windows < 1 {
		return fmt.Errorf("capture.windows must be at least 1")
	}
	if cfg.Capture.FlushThreshold < 1 {
		return fmt.Errorf("capture.flush_threshold must be at least 1")
	}
	if cfg.Capture.ReconnectDelay.Duration() <= 0 {
		return fmt.Errorf("capture.reconnect_delay must be positive")
	}
	if cfg.Capture.MaxReconnectDelay.Duration() < cfg.Capture.ReconnectDelay.Duration() {
		return fmt.Errorf("capture.max_reconnect_delay must not be below capture.reconnect_delay")
	}
	if cfg.Capture.StableSession.Duration() <= 0 {
		return fmt.Errorf("capture.stable_session must be positive")
	}
	if cfg.Capture.DiscoveryTimeout.Duration() <= 0 {
		return fmt.Errorf("capture.discovery_timeout must be positive")
	}

	// Polymarket
	if cfg.Platforms.PolyMarket.GammaURL == "" {
		return fmt.Errorf("platforms.polymarket.gamma_url is required")
	}
	if cfg.Platforms.PolyMarket.WS.WebsocketURL == "" {
		return fmt.Errorf("platforms.polymarket.ws.url is required")
	}
	if cfg.Platforms.PolyMarket.WS.MarketEndpoint == "" {
		return fmt.Errorf("platforms.polymarket.ws.market_endpoint is required")
	}

	// Database
	if cfg.Database.Host != "" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			return fmt.Errorf("database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
		if cfg.Database.Database == "" {
			return fmt.Errorf("database.database is required")
		}
		if cfg.Database.PoolSize <= 0 {
			return fmt.Errorf("database.pool_size must be greater than 0")
		}
		if cfg.Database.SSLMode == "" {
			return fmt.Errorf("database.ssl_mode is required")
		}
	}

	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("log_level %q must be one of debug, info, warn, error", s)
	}
	return level, nil
}

func (c *config) captureConfig() capture.Config {
	return capture.Config{
		Directory:         c.Capture.Directory,
		FlushThreshold:    c.Capture.FlushThreshold,
		ReconnectDelay:    c.Capture.ReconnectDelay.Duration(),
		MaxReconnectDelay: c.Capture.MaxReconnectDelay.Duration(),
		StableSession:     c.Capture.StableSession.Duration(),
	}
}

func (c *config) polymarketConfig() polymarket.Config {
	return polymarket.Config{
		GammaURL:         c.Platforms.PolyMarket.GammaURL,
		WebsocketURL:     c.Platforms.PolyMarket.WS.WebsocketURL,
		MarketEndpoint:   c.Platforms.PolyMarket.WS.MarketEndpoint,
		DiscoveryTimeout: c.Capture.DiscoveryTimeout.Duration(),
	}
}
