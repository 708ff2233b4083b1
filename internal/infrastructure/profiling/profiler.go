// Package profiling runs the Pyroscope continuous profiler and tags
// pipeline work with profiling labels.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"
	"github.com/invoices/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Profiler owns the running Pyroscope session. A disabled Profiler is a no-op.
type Profiler struct {
	session *pyroscope.Profiler
	cfg     config.ProfilingConfig
	logger  *zap.Logger

	mu      sync.Mutex
	stopped bool
}

// NewProfiler starts profiling when cfg.Enabled is set
func NewProfiler(cfg config.ProfilingConfig, logger *zap.Logger) (*Profiler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Profiler{cfg: cfg, logger: logger}
	if !cfg.Enabled {
		logger.Info("Continuous profiling disabled")
		return p, nil
	}

	if cfg.ServerAddress == "" {
		return nil, fmt.Errorf("profiling: server address is required when enabled")
	}
	if cfg.ApplicationName == "" {
		return nil, fmt.Errorf("profiling: application name is required when enabled")
	}

	// mutex and block profiles stay empty unless the runtime samples them
	if cfg.MutexCount || cfg.MutexDuration {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockCount || cfg.BlockDuration {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}

	session, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   cfg.ApplicationName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		Logger:            zapAdapter{logger.Sugar()},
		Tags:              hostTags(),
		ProfileTypes:      profileTypes(cfg),
		DisableGCRuns:     cfg.DisableGCRuns,
	})
	if err != nil {
		return nil, fmt.Errorf("profiling: start pyroscope: %w", err)
	}
	p.session = session

	logger.Info("Continuous profiling started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Int("profile_types", len(profileTypes(cfg))),
	)
	return p, nil
}

func profileTypes(cfg config.ProfilingConfig) []pyroscope.ProfileType {
	flags := []struct {
		on  bool
		typ pyroscope.ProfileType
	}{
		{cfg.CPU, pyroscope.ProfileCPU},
		{cfg.AllocObjects, pyroscope.ProfileAllocObjects},
		{cfg.AllocSpace, pyroscope.ProfileAllocSpace},
		{cfg.InuseObjects, pyroscope.ProfileInuseObjects},
		{cfg.InuseSpace, pyroscope.ProfileInuseSpace},
		{cfg.Goroutines, pyroscope.ProfileGoroutines},
		{cfg.MutexCount, pyroscope.ProfileMutexCount},
		{cfg.MutexDuration, pyroscope.ProfileMutexDuration},
		{cfg.BlockCount, pyroscope.ProfileBlockCount},
		{cfg.BlockDuration, pyroscope.ProfileBlockDuration},
	}
	types := make([]pyroscope.ProfileType, 0, len(flags))
	for _, f := range flags {
		if f.on {
			types = append(types, f.typ)
		}
	}
	return types
}

func hostTags() map[string]string {
	tags := make(map[string]string, 2)
	if host, err := os.Hostname(); err == nil && host != "" {
		tags["hostname"] = host
	}
	if pod := os.Getenv("POD_NAME"); pod != "" {
		tags["pod"] = pod
	}
	return tags
}

// Stop flushes and ends the session. Safe to call more than once.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.session == nil {
		p.stopped = true
		return nil
	}
	p.stopped = true
	if err := p.session.Stop(); err != nil {
		return fmt.Errorf("profiling: stop pyroscope: %w", err)
	}
	p.logger.Info("Continuous profiling stopped")
	return nil
}

// IsEnabled reports whether a Pyroscope session is running
func (p *Profiler) IsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil && !p.stopped
}

// Config returns the settings the profiler was built with
func (p *Profiler) Config() config.ProfilingConfig {
	return p.cfg
}

// zapAdapter satisfies pyroscope.Logger
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (a zapAdapter) Infof(format string, args ...interface{})  { a.s.Infof(format, args...) }
func (a zapAdapter) Debugf(format string, args ...interface{}) { a.s.Debugf(format, args...) }
func (a zapAdapter) Errorf(format string, args ...interface{}) { a.s.Errorf(format, args...) }
