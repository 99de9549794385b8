package cluster

import (
	"fmt"
	"time"

	"github.com/go-elytra/elytra/config"
	"github.com/go-elytra/elytra/metrics"
)

// ServerOptions configure an Elytra control plane server
type ServerOptions struct {
	Port           int              // port for the server to bind to
	Host           string           // hostname for the server to bind to
	DataDir        string           // root of the on-disk catalog mirror
	DatasetMaxAge  time.Duration    // datasets older than this are evicted
	ReaperPeriod   time.Duration    // how often the reaper sweeps the catalog
	LivenessPeriod time.Duration    // how often connections are pinged
	MaxConns       int              // cap on concurrent connections (0 = unlimited)
	Metrics        *metrics.Metrics // optional Prometheus collectors
}

func ensureDefaultServerOptionsValues(opts *ServerOptions) {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if len(opts.Host) == 0 {
		opts.Host = "0.0.0.0"
	}
	if len(opts.DataDir) == 0 {
		opts.DataDir = "datasets"
	}
	if opts.DatasetMaxAge == 0 {
		opts.DatasetMaxAge = 2 * time.Hour
	}
	if opts.ReaperPeriod == 0 {
		opts.ReaperPeriod = 30 * time.Minute
	}
	if opts.LivenessPeriod == 0 {
		opts.LivenessPeriod = 30 * time.Second
	}
}

// OptionsFromConfig maps environment configuration onto ServerOptions
func OptionsFromConfig(cfg config.ServerConfig) *ServerOptions {
	return &ServerOptions{
		Port:           cfg.Port,
		Host:           cfg.Host,
		DataDir:        cfg.DataDir,
		DatasetMaxAge:  cfg.DatasetMaxAge,
		ReaperPeriod:   cfg.ReaperPeriod,
		LivenessPeriod: cfg.LivenessPeriod,
		MaxConns:       cfg.MaxConns,
	}
}

// connectionString returns the listen address for the server
func (o *ServerOptions) connectionString() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}
