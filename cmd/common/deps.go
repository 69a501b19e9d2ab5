// Package common provides shared dependency construction for commands.
package common

import (
	"fmt"

	"github.com/jonesrussell/recipeharvest/internal/config"
	"github.com/jonesrussell/recipeharvest/internal/logger"
)

// CommandDeps holds the dependencies every command needs.
type CommandDeps struct {
	Config *config.Config
	Logger logger.Interface
}

// NewCommandDeps loads configuration and constructs the logger.
func NewCommandDeps(configFile string) (*CommandDeps, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &CommandDeps{Config: cfg, Logger: log}, nil
}
