package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/stripd/internal/config"
	"github.com/dokzlo13/stripd/internal/script"
)

// ScriptService wraps the Lua runtime. It is inert when no script is configured.
type ScriptService struct {
	cfg     *config.Config
	path    string
	Runtime *script.Runtime
}

// NewScriptService creates the runtime. configPath resolves a relative script path.
func NewScriptService(cfg *config.Config, configPath string, ctl script.Controller) *ScriptService {
	if cfg.Script.Path == "" {
		return &ScriptService{cfg: cfg}
	}

	path := cfg.Script.Path
	if !filepath.IsAbs(path) {
		if _, err := os.Stat(path); os.IsNotExist(err) && configPath != "" {
			path = filepath.Join(filepath.Dir(configPath), path)
		}
	}

	return &ScriptService{
		cfg:     cfg,
		path:    path,
		Runtime: script.New(ctl, cfg.Script.QueueSize),
	}
}

// LoadScript executes the script. Must be called before Run.
func (s *ScriptService) LoadScript() error {
	if s.Runtime == nil {
		return nil
	}
	return s.Runtime.LoadFile(s.path)
}

// Run starts the Lua worker, the only goroutine that touches Lua.
func (s *ScriptService) Run(ctx context.Context) {
	if s.Runtime == nil {
		log.Debug().Msg("No script configured")
		return
	}
	s.Runtime.Run(ctx)
}

// Close releases the runtime. Call after Run returned.
func (s *ScriptService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}
