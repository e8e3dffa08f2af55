// Package session keeps dissected modules alive between MCP tool calls.
//
// Each session owns a private module loader, and so a private JavaScript
// runtime, backed by an in-memory copy of the client's working directory. A
// session's runtime is not safe for concurrent use, so every operation on a
// session holds that session's lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/isdmx/dissect/config"
	"github.com/isdmx/dissect/dissect"
	"github.com/isdmx/dissect/loader"
	"github.com/isdmx/dissect/metrics"
	"github.com/isdmx/dissect/workdir"
)

var (
	// ErrNotFound is returned for unknown or closed session ids
	ErrNotFound = errors.New("session not found")
	// ErrLimitReached is returned by Open when session.max_sessions sessions are open
	ErrLimitReached = errors.New("session limit reached")
)

// OpenRequest describes a new session
type OpenRequest struct {
	// WorkdirTar is a tar.gz of the module tree, extracted under session.workdir_root
	WorkdirTar []byte
	// Specifier names the module to dissect, relative to the workdir root
	Specifier string
	// Options override the configured engine defaults for this session
	Options []dissect.Option
}

// Session is one dissected module and the runtime it lives in
type Session struct {
	ID        string
	Specifier string
	CreatedAt time.Time

	mu     sync.Mutex
	loader *loader.Loader
	engine *dissect.Engine
	handle *dissect.Handle
}

// Manager tracks the open sessions
type Manager struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager
func NewManager(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		config:   cfg,
		logger:   logger,
		metrics:  m,
		sessions: make(map[string]*Session),
	}
}

// EngineOptions converts the dissect section of the configuration into engine options
func EngineOptions(cfg *config.Config) ([]dissect.Option, error) {
	mode, err := dissect.ParseLowering(cfg.Dissect.Lowering)
	if err != nil {
		return nil, err
	}
	return []dissect.Option{
		dissect.WithReplaceConstWithVar(cfg.Dissect.ReplaceConstWithVar),
		dissect.WithClearCache(cfg.Dissect.ClearCache),
		dissect.WithLowering(mode),
	}, nil
}

// Open extracts the workdir, dissects the requested module and registers the session
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Specifier == "" {
		return nil, errors.New("specifier is required")
	}

	m.mu.Lock()
	full := len(m.sessions) >= m.config.Session.MaxSessions
	m.mu.Unlock()
	if full {
		return nil, fmt.Errorf("%w: %d sessions open", ErrLimitReached, m.config.Session.MaxSessions)
	}

	root := m.config.Session.WorkdirRoot
	fs := afero.NewMemMapFs()
	if len(req.WorkdirTar) > 0 {
		if err := workdir.Extract(fs, req.WorkdirTar, root, m.config.MaxWorkdirBytes()); err != nil {
			return nil, fmt.Errorf("failed to extract workdir_tar: %w", err)
		}
	} else if err := fs.MkdirAll(root, workdir.DirPermission); err != nil {
		return nil, fmt.Errorf("failed to create workdir: %w", err)
	}

	id := uuid.NewString()
	log := m.logger.With(zap.String("session", id))

	opts := []loader.Option{
		loader.WithFS(fs),
		loader.WithRoot(root),
		loader.WithMetrics(m.metrics),
		loader.WithMaxCallStackSize(m.config.Loader.MaxCallStackSize),
	}
	if len(m.config.Loader.Extensions) > 0 {
		opts = append(opts, loader.WithExtensions(m.config.Loader.Extensions...))
	}
	l, err := loader.New(log, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}

	engineOpts, err := EngineOptions(m.config)
	if err != nil {
		l.Runtime().Interrupt("session discarded")
		return nil, err
	}
	engine := dissect.New(log, m.metrics, append(engineOpts, req.Options...)...)
	if err := engine.Install(l); err != nil {
		l.Runtime().Interrupt("session discarded")
		return nil, err
	}

	handle, err := engine.Load(req.Specifier)
	if err != nil {
		l.Runtime().Interrupt("session discarded")
		return nil, fmt.Errorf("failed to dissect %s: %w", req.Specifier, err)
	}

	s := &Session{
		ID:        id,
		Specifier: req.Specifier,
		CreatedAt: time.Now(),
		loader:    l,
		engine:    engine,
		handle:    handle,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.config.Session.MaxSessions {
		s.interrupt("session limit reached")
		return nil, fmt.Errorf("%w: %d sessions open", ErrLimitReached, m.config.Session.MaxSessions)
	}
	m.sessions[id] = s
	m.metrics.SessionOpened()

	log.Info("session opened", zap.String("specifier", req.Specifier), zap.Int("sessions", len(m.sessions)))
	return s, nil
}

// Get returns an open session
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Close discards a session and its runtime
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.interrupt("session closed")
	m.metrics.SessionClosed()
	m.logger.Info("session closed", zap.String("session", id))
	return nil
}

// CloseAll discards every session
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Close(id)
	}
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Keys lists the export names of the dissected module
func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle.Keys()
}

// Options returns the engine configuration of the session
func (s *Session) Options() dissect.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Options()
}

// Get reads a top-level binding as plain data
func (s *Session) Get(name string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.handle.Get(name)
	if err != nil {
		return nil, err
	}
	return dissect.Describe(v), nil
}

// Bindings reads several top-level bindings at once
func (s *Session) Bindings(names []string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(names))
	for _, name := range names {
		v, err := s.handle.Get(name)
		if err != nil {
			return nil, err
		}
		out[name] = dissect.Describe(v)
	}
	return out, nil
}

// SetJSON assigns a top-level binding from JSON text and returns the stored value
func (s *Session) SetJSON(name, raw string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := s.parseJSON(raw)
	if err != nil {
		return nil, err
	}
	v, err := s.handle.Set(name, value)
	if err != nil {
		return nil, err
	}
	return dissect.Describe(v), nil
}

// CallJSON calls an exported function with arguments given as a JSON array
func (s *Session) CallJSON(name, rawArgs string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var args []any
	if rawArgs != "" {
		parsed, err := s.parseJSON(rawArgs)
		if err != nil {
			return nil, err
		}
		arr, ok := parsed.(*goja.Object)
		if !ok || arr.ClassName() != "Array" {
			return nil, errors.New("args must be a JSON array")
		}
		n := arr.Get("length").ToInteger()
		for i := int64(0); i < n; i++ {
			args = append(args, arr.Get(fmt.Sprint(i)))
		}
	}

	v, err := s.handle.Call(name, args...)
	if err != nil {
		return nil, err
	}
	return dissect.Describe(v), nil
}

// parseJSON decodes raw with the runtime's JSON.parse so objects become plain JavaScript objects
func (s *Session) parseJSON(raw string) (goja.Value, error) {
	vm := s.loader.Runtime()
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse is not available")
	}
	v, err := parse(goja.Undefined(), vm.ToValue(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON value: %w", err)
	}
	return v, nil
}

// interrupt stops any code still running in the session's runtime
func (s *Session) interrupt(reason string) {
	s.loader.Runtime().Interrupt(reason)
}
