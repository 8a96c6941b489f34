// Package config persists user settings as TOML in the platform config
// directory.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// MaxRecentPeople bounds Settings.RecentPeople.
const MaxRecentPeople = 20

// Settings holds the device session and scan defaults.
type Settings struct {
	PrinterURL    string   `toml:"printer_url" json:"printerURL"`
	SessionID     string   `toml:"session_id" json:"sessionID"`
	ScanDirectory string   `toml:"scan_directory" json:"scanDirectory"`
	RecentPeople  []string `toml:"recent_people" json:"recentPeople"` // most recent first
	Resolution    int      `toml:"resolution" json:"resolution"`
	Compression   int      `toml:"compression" json:"compression"`
	MaxDimension  int      `toml:"max_dimension" json:"maxDimension"` // 0 disables the thumbnail
	Quality       int      `toml:"quality" json:"quality"`
	Optimize      bool     `toml:"optimize" json:"optimize"`
	ExportPDF     bool     `toml:"export_pdf" json:"exportPDF"`
}

// DefaultSettings scan at 600 dpi with a 1080 px thumbnail.
func DefaultSettings() Settings {
	return Settings{
		Resolution:   600,
		Compression:  95,
		MaxDimension: 1080,
		Quality:      75,
	}
}

// DefaultPath returns the settings file inside the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "ledmscan", "settings.toml"), nil
}

// Store provides thread-safe settings persistence backed by a TOML file.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	path     string
}

// NewStore creates a Store that persists settings to path. If the file does
// not exist or is invalid, default settings are used.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	s := &Store{
		path:     path,
		settings: DefaultSettings(),
	}
	s.load()
	return s, nil
}

// NewMemoryStore creates a Store that keeps settings in memory only.
func NewMemoryStore() *Store {
	return &Store{settings: DefaultSettings()}
}

// Path returns the backing file, or "" for a memory store.
func (s *Store) Path() string { return s.path }

// Get returns a snapshot; the caller may modify it freely.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.settings
	out.RecentPeople = append([]string(nil), s.settings.RecentPeople...)
	return out
}

// Update normalizes settings, stores them and writes the file.
func (s *Store) Update(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings.RecentPeople = normalizePeople(settings.RecentPeople)
	s.settings = settings
	return s.save()
}

// AddRecentPerson moves name to the front of the recent people list.
func (s *Store) AddRecentPerson(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.RecentPeople = normalizePeople(append([]string{name}, s.settings.RecentPeople...))
	return s.save()
}

// normalizePeople drops blanks and duplicates, keeping the first occurrence,
// and caps the list at MaxRecentPeople.
func normalizePeople(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		if len(out) == MaxRecentPeople {
			break
		}
	}
	return out
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("cannot read settings, using defaults", "path", s.path, "err", err)
		}
		return
	}
	settings := DefaultSettings()
	if err := toml.Unmarshal(data, &settings); err != nil {
		slog.Warn("invalid settings file, using defaults", "path", s.path, "err", err)
		return
	}
	settings.RecentPeople = normalizePeople(settings.RecentPeople)
	s.settings = settings
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := toml.Marshal(s.settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}
