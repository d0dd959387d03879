package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	DefaultMaxKeySize   = 256
	DefaultMaxValueSize = 64 << 10 // 64KB
	DefaultMaxEntries   = 1000
)

type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   DefaultMaxKeySize,
		MaxValueSize: DefaultMaxValueSize,
		MaxEntries:   DefaultMaxEntries,
	}
}

// KV is an in-memory store a component may read example data from. Values
// are stored as JSON so nothing the sandbox hands over keeps a reference
// into the engine.
type KV struct {
	cfg  KVConfig
	data map[string]json.RawMessage
	mu   sync.RWMutex
}

func NewKV(cfg KVConfig) *KV {
	if cfg.MaxKeySize == 0 {
		cfg.MaxKeySize = DefaultMaxKeySize
	}
	if cfg.MaxValueSize == 0 {
		cfg.MaxValueSize = DefaultMaxValueSize
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &KV{cfg: cfg, data: make(map[string]json.RawMessage)}
}

// Module exposes the store as get/set/remove/keys.
func (s *KV) Module() Module {
	return Module{
		"get":    Func(s.Get),
		"set":    Func(s.Set),
		"remove": Func(s.Delete),
		"keys":   Func(s.Keys),
	}
}

func (s *KV) key(args map[string]any) (string, error) {
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return "", errors.New("key required")
	}
	if len(key) > s.cfg.MaxKeySize {
		return "", fmt.Errorf("key exceeds max size of %d bytes", s.cfg.MaxKeySize)
	}
	return key, nil
}

func (s *KV) Get(ctx context.Context, args map[string]any) (any, error) {
	key, err := s.key(args)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	raw, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return args["default"], nil
	}
	var val any
	if err := json.Unmarshal(raw, &val); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return val, nil
}

func (s *KV) Set(ctx context.Context, args map[string]any) (any, error) {
	key, err := s.key(args)
	if err != nil {
		return nil, err
	}
	val, ok := args["value"]
	if !ok {
		return nil, errors.New("value required")
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("value is not serializable: %w", err)
	}
	if len(raw) > s.cfg.MaxValueSize {
		return nil, fmt.Errorf("value exceeds max size of %d bytes", s.cfg.MaxValueSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; !exists && len(s.data) >= s.cfg.MaxEntries {
		return nil, fmt.Errorf("store is full (%d entries)", s.cfg.MaxEntries)
	}
	s.data[key] = raw
	return "ok", nil
}

func (s *KV) Delete(ctx context.Context, args map[string]any) (any, error) {
	key, err := s.key(args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return "ok", nil
}

func (s *KV) Keys(ctx context.Context, args map[string]any) (any, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}
