package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-bonbon/internal/log"
)

// Store holds the options loaded from a file and writes changes back.
// It is safe for concurrent use.
type Store struct {
	path string

	mu    sync.RWMutex
	opts  Options
	dirty bool
}

// Open loads the options file at path. A missing file yields the defaults;
// it is created on the first Save.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}


// Get returns a copy of the current options.
func (s *Store) Get() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.clone()
}

// Reload re-reads the options file. On error the previous options stay in
// effect.
func (s *Store) Reload() error {
	opts, err := load(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.opts = opts
	s.dirty = false
	s.mu.Unlock()

	log.Info("options loaded", "path", s.path, "device", opts.Device.Address)
	return nil
}

// SetDeviceAddress records the device address and saves the file.
func (s *Store) SetDeviceAddress(addr string) error {
	s.mu.Lock()
	if s.opts.Device.Address != addr {
		s.opts.Device.Address = addr
		s.dirty = true
	}
	s.mu.Unlock()
	return s.Save()
}

// Save writes the options back if anything changed since the last load.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	data, err := yaml.Marshal(s.opts)
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create options directory: %w", err)
		}
	}

	// Replace via rename so readers never see a partial file
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write options: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write options: %w", err)
	}

	s.dirty = false
	log.Info("options saved", "path", s.path)
	return nil
}

func load(path string) (Options, error) {
	opts := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("options file not found, using defaults", "path", path)
	case err != nil:
		return Options{}, fmt.Errorf("failed to read options: %w", err)
	default:
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return Options{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
	}

	opts.Device.Address = DeviceAddress(opts.Device.Address)

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}
