package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/invoices/backend/internal/domain/verifactu"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RolloutSource holds the current rollout snapshot. Readers get an
// immutable value; a config reload swaps the whole value at once.
type RolloutSource struct {
	current atomic.Pointer[verifactu.RolloutConfig]
	logger  *zap.Logger
}

// NewRolloutSource creates a source seeded from cfg
func NewRolloutSource(cfg VerifactuConfig, logger *zap.Logger) *RolloutSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RolloutSource{logger: logger}
	s.Set(cfg)
	return s
}

// RolloutFrom converts pipeline settings into a rollout value
func RolloutFrom(cfg VerifactuConfig) verifactu.RolloutConfig {
	return verifactu.NewRolloutConfig(cfg.Enabled, cfg.RolloutPercentage, cfg.UseMock)
}

// Current returns the active snapshot
func (s *RolloutSource) Current() verifactu.RolloutConfig {
	return *s.current.Load()
}

// Set replaces the snapshot
func (s *RolloutSource) Set(cfg VerifactuConfig) {
	next := RolloutFrom(cfg)
	prev := s.current.Swap(&next)
	if prev != nil && *prev != next {
		s.logger.Info("Rollout configuration changed",
			zap.Bool("enabled", next.Enabled()),
			zap.Int("percentage", next.Percentage()),
			zap.Bool("simulated", next.Simulated()),
		)
	}
}

// Watch reloads the rollout whenever the config file changes. Only the
// rollout is hot-reloaded; other settings need a restart.
func (s *RolloutSource) Watch(v *viper.Viper) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		s.logger.Debug("Config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		vc := readVerifactu(v)
		applyVerifactuDefaults(&vc)
		s.Set(vc)
	})
	v.WatchConfig()
}
