// Package polymarket wires Polymarket's Gamma and WebSocket endpoints into
// capture daemons.
package polymarket

import (
	"log/slog"
	"time"

	"github.com/daszybak/polymarket_capture/internal/capture"
	"github.com/daszybak/polymarket_capture/internal/clock"
	"github.com/daszybak/polymarket_capture/internal/polymarket/gamma"
	"github.com/daszybak/polymarket_capture/internal/polymarket/websocket"
)

const platformName = "polymarket"

const (
	DefaultGammaURL       = "https://gamma-api.polymarket.com"
	DefaultWebsocketURL   = "wss://ws-subscriptions-clob.polymarket.com"
	DefaultMarketEndpoint = "/ws/market"
)

type Config struct {
	GammaURL         string
	WebsocketURL     string
	MarketEndpoint   string
	DiscoveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.GammaURL == "" {
		c.GammaURL = DefaultGammaURL
	}
	if c.WebsocketURL == "" {
		c.WebsocketURL = DefaultWebsocketURL
	}
	if c.MarketEndpoint == "" {
		c.MarketEndpoint = DefaultMarketEndpoint
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = gamma.DefaultTimeout
	}
	return c
}

// Polymarket shares one discovery client and one dialer between every
// asset it builds a daemon for.
type Polymarket struct {
	config Config
	// logger is handed to daemons, which name their own component.
	logger *slog.Logger
	clock  clock.Clock

	gamma  *gamma.Client
	dialer *websocket.Dialer
}

func New(cfg Config, c clock.Clock, log *slog.Logger) *Polymarket {
	cfg = cfg.withDefaults()
	log.Info("using endpoints", "platform", platformName, "gamma", cfg.GammaURL, "ws", cfg.WebsocketURL+cfg.MarketEndpoint)

	return &Polymarket{
		config: cfg,
		logger: log,
		clock:  c,
		gamma:  gamma.New(cfg.GammaURL, cfg.DiscoveryTimeout),
		dialer: &websocket.Dialer{
			URL:      cfg.WebsocketURL,
			Endpoint: cfg.MarketEndpoint,
			Clock:    c,
			Logger:   log.With("component", "websocket"),
		},
	}
}

func (p *Polymarket) Config() Config {
	return p.config
}

func (p *Polymarket) Resolver() capture.Resolver {
	return p.gamma
}

func (p *Polymarket) Dialer() *websocket.Dialer {
	return p.dialer
}

// NewDaemon builds a capture daemon for asset on this venue. The venue's
// clock and logger come first so opts can override them.
func (p *Polymarket) NewDaemon(asset string, cfg capture.Config, opts ...capture.Option) *capture.Daemon {
	base := []capture.Option{
		capture.WithClock(p.clock),
		capture.WithLogger(p.logger),
	}
	return capture.New(asset, cfg, p.gamma, p.dialer, append(base, opts...)...)
}
