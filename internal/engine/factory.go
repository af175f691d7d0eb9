package engine

import (
	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/engine/cli"
	"github.com/patchpilot/patchpilot/internal/engine/mock"
	"github.com/patchpilot/patchpilot/pkg/models"
)

// New constructs the change engine based on config. Called once at startup.
// The special command "mock" yields an in-memory engine for local development.
func New(cfg config.EngineConfig) models.Engine {
	if cfg.Command == "mock" {
		return mock.NewEngine()
	}
	return cli.NewEngine(cfg)
}
