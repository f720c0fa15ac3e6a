package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"gopkg.in/yaml.v3"

	"gpsdo/internal/nmea"
)

// Store owns the settings file. Safe for concurrent use.
type Store struct {
	path string

	mu    sync.Mutex
	cur   Settings
	saves uint64
}

// Open loads path. A missing file yields defaults and is not created until
// the first change.
func Open(path string) (*Store, error) {
	s := &Store{path: path, cur: Defaults()}
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	cur := Defaults()
	if err := yaml.Unmarshal(b, &cur); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	if err := cur.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %s: %w", path, err)
	}
	s.cur = cur
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Reload re-reads the file, for edits made while the daemon runs. An invalid
// file leaves the current settings in place.
func (s *Store) Reload() (Settings, error) {
	if s.path == "" {
		return s.Get(), nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return s.Get(), fmt.Errorf("settings: read %s: %w", s.path, err)
	}
	next := Defaults()
	if err := yaml.Unmarshal(b, &next); err != nil {
		return s.Get(), fmt.Errorf("settings: parse %s: %w", s.path, err)
	}
	if err := next.Validate(); err != nil {
		return s.Get(), fmt.Errorf("settings: %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
	return next.clone(), nil
}

func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.clone()
}

// Saves counts file writes.
func (s *Store) Saves() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Update applies fn to a copy of the settings. If the result is valid and
// differs from the current value it becomes current and is written out.
func (s *Store) Update(fn func(*Settings)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		return false, fmt.Errorf("settings: %w", err)
	}
	if reflect.DeepEqual(next, s.cur) {
		return false, nil
	}
	if err := s.save(next); err != nil {
		return false, err
	}
	s.cur = next
	s.saves++
	return true, nil
}

// SaveDuty records the tuning register.
func (s *Store) SaveDuty(duty uint16) error {
	_, err := s.Update(func(v *Settings) { v.PWM = &duty })
	return err
}

// SaveModule records the receiver identity.
func (s *Store) SaveModule(m nmea.Module) {
	changed, err := s.Update(func(v *Settings) { v.GPSModule = m })
	if err != nil {
		log.Printf("settings: save gps_module failed: %v", err)
		return
	}
	if changed {
		log.Printf("settings: gps_module=%s", m)
	}
}

func (s *Store) SaveBaud(baud int) error {
	_, err := s.Update(func(v *Settings) { v.GPSBaud = baud })
	return err
}

// save writes atomically through a temp file in the same directory.
func (s *Store) save(v Settings) error {
	if s.path == "" {
		return nil
	}
	b, err := yaml.Marshal(&v)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings: sync: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("settings: rename: %w", err)
	}
	return nil
}
