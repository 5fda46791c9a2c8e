// Package collab parses collab service flags and launches the service.
package collab

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/atelier.space/internal/platform/cmd"
	server "github.com/louisbranch/atelier.space/internal/services/collab/app"
)

// Config holds collab command configuration.
type Config struct {
	Port int `env:"ATELIER_SPACE_COLLAB_PORT" envDefault:"8093"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The collab gRPC server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the collab admission service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCollab, func(context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
