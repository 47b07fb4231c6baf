// Package eventlog persists physiological events to a local JSON or YAML file.
//
// The file holds a list of events in the wire format of models.PhysiologicalEvent.
// YAML files use the same field names. Events without an ID are assigned one
// on load, and writes go through a temp file and rename.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/mrcode/glycemia/internal/models"
)

// File formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// record is the YAML shape of an event
type record struct {
	ID        string           `json:"id,omitempty" yaml:"id,omitempty"`
	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
	Type      models.EventType `json:"eventType" yaml:"eventType"`
	Value     float64          `json:"value" yaml:"value"`
	Metadata  map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Store is a file-backed event log. It is safe for concurrent use.
type Store struct {
	path   string
	format string
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewStore creates a store for path. The format follows the file extension:
// .yaml and .yml are YAML, everything else JSON.
func NewStore(path string, logger *logrus.Logger) *Store {
	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{path: path, format: format, logger: logger}
}

// Path returns the backing file
func (s *Store) Path() string {
	return s.path
}

// Load reads all events sorted by timestamp. A missing file is an empty log.
func (s *Store) Load() ([]models.PhysiologicalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Events returns the events with from <= timestamp <= to
func (s *Store) Events(ctx context.Context, from, to time.Time) ([]models.PhysiologicalEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all, err := s.Load()
	if err != nil {
		return nil, err
	}

	events := make([]models.PhysiologicalEvent, 0, len(all))
	for _, ev := range all {
		if ev.Timestamp.Before(from) || ev.Timestamp.After(to) {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Append adds events to the file. Events without an ID get one.
func (s *Store) Append(events ...models.PhysiologicalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return err
	}

	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			return fmt.Errorf("%w: %s event without timestamp", models.ErrInvalidEvent, ev.Type)
		}
		if ev.ID == "" {
			ev.ID = models.NewEventID()
		}
		existing = append(existing, ev)
	}
	sortEvents(existing)

	if err := s.save(existing); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"path":  s.path,
		"added": len(events),
		"total": len(existing),
	}).Debug("Appended events")
	return nil
}

// Save replaces the file contents with events
func (s *Store) Save(events []models.PhysiologicalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := make([]models.PhysiologicalEvent, len(events))
	copy(sorted, events)
	sortEvents(sorted)
	return s.save(sorted)
}

func (s *Store) load() ([]models.PhysiologicalEvent, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.WithField("path", s.path).Debug("Event file not found, starting empty")
			return []models.PhysiologicalEvent{}, nil
		}
		return nil, fmt.Errorf("failed to read event file: %w", err)
	}

	var events []models.PhysiologicalEvent
	switch s.format {
	case FormatYAML:
		events, err = decodeYAML(data)
	default:
		err = json.Unmarshal(data, &events)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse event file %s: %w", s.path, err)
	}

	missing := 0
	for i := range events {
		if events[i].Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: event %d has no timestamp", models.ErrInvalidEvent, i)
		}
		if events[i].ID == "" {
			events[i].ID = models.NewEventID()
			missing++
		}
	}
	if missing > 0 {
		s.logger.WithFields(logrus.Fields{"path": s.path, "count": missing}).Debug("Assigned IDs to events")
	}

	sortEvents(events)
	return events, nil
}

func (s *Store) save(events []models.PhysiologicalEvent) error {
	var (
		data []byte
		err  error
	)
	switch s.format {
	case FormatYAML:
		data, err = encodeYAML(events)
	default:
		data, err = json.MarshalIndent(events, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode events: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create event directory: %w", err)
		}
	}

	// Write to temp file first, then rename
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// decodeYAML converts YAML records through the JSON wire format so that
// metadata decoding and validation are shared with JSON files
func decodeYAML(data []byte) ([]models.PhysiologicalEvent, error) {
	var records []record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	events := make([]models.PhysiologicalEvent, len(records))
	for i, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		if err := json.Unmarshal(raw, &events[i]); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return events, nil
}

func encodeYAML(events []models.PhysiologicalEvent) ([]byte, error) {
	records := make([]record, len(events))
	for i, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &records[i]); err != nil {
			return nil, err
		}
	}
	return yaml.Marshal(records)
}

func sortEvents(events []models.PhysiologicalEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
