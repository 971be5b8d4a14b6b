package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

// ConfigManager holds the committed config and fans new versions out to
// subscribers once they pass validation.
type ConfigManager struct {
	path string
	log  logx.Logger

	mu        sync.RWMutex
	cfg       *Config
	canonical []byte // JSON of cfg; reloads with equal bytes are skipped
	validator func(ctx context.Context, cfg *Config) error

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path:      path,
		log:       logx.Nop(),
		validator: func(_ context.Context, cfg *Config) error { return Validate(cfg) },
		subs:      map[chan *Config]struct{}{},
	}
}

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetValidator replaces the check a reload must pass before it is
// committed. The default is Validate.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.mu.Lock()
	m.validator = fn
	m.mu.Unlock()
}

var errTrailingData = errors.New("config: trailing data after document")

// Parse reads the file without committing it. Unknown keys are errors.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	doc, err := toJSON(m.path, raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return cfg, nil
}

// Load parses and validates the file, then commits it.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.commit(cfg, canonical(cfg))
	return cfg, nil
}

func canonical(cfg *Config) []byte {
	b, _ := json.Marshal(cfg)
	return b
}

func (m *ConfigManager) commit(cfg *Config, c []byte) {
	m.mu.Lock()
	m.cfg, m.canonical = cfg, c
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel receiving every committed reload.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe closes ch. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// publish never blocks: a subscriber that fell behind loses its oldest
// pending config.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload commits and publishes the file if it parses, differs from the
// current config and passes the validator.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}
	c := canonical(cfg)

	m.mu.RLock()
	same := bytes.Equal(c, m.canonical)
	validate := m.validator
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return
	}
	if validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.commit(cfg, c)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path))
}
