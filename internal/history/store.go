package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-karttracker/internal/kv"
	"backend-karttracker/internal/shared/geo"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
)

const DefaultKey = "@kart_app_race_history"

var ErrRaceNotFound = errors.New("race not found")

// Store keeps the race log as one JSON array under a single key, newest
// first.
type Store struct {
	mu  sync.Mutex
	kv  kv.Store
	key string
	log zerolog.Logger
	now func() time.Time
}

func NewStore(backend kv.Store, key string, log zerolog.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{
		kv:  backend,
		key: key,
		log: log.With().Str("component", "history").Logger(),
		now: time.Now,
	}
}

// Save prepends e. Missing id and date are filled in. A failed read aborts
// the write so a transient error never truncates the log.
func (s *Store) Save(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Date == "" {
		e.Date = s.now().UTC().Format(time.RFC3339)
	}
	if e.Route == nil {
		e.Route = []geo.Coordinate{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return Entry{}, err
	}
	entries = append([]Entry{e}, entries...)

	raw, err := json.Marshal(entries)
	if err != nil {
		return Entry{}, fmt.Errorf("encode history: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(raw)); err != nil {
		return Entry{}, fmt.Errorf("write history: %w", err)
	}
	return e, nil
}

// SaveRace reports failures as false and logs them.
func (s *Store) SaveRace(ctx context.Context, e Entry) bool {
	if _, err := s.Save(ctx, e); err != nil {
		s.log.Error().Err(err).Str("race_id", e.ID).Msg("save race failed")
		return false
	}
	return true
}

func (s *Store) History(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// GetRaceHistory returns an empty list when nothing is stored or the read
// fails.
func (s *Store) GetRaceHistory(ctx context.Context) []Entry {
	entries, err := s.History(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("read race history failed")
		return []Entry{}
	}
	return entries
}

func (s *Store) Race(ctx context.Context, id string) (Entry, error) {
	entries, err := s.History(ctx)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, ErrRaceNotFound
}

// GetRaceByID returns nil when the race is unknown or the read fails.
func (s *Store) GetRaceByID(ctx context.Context, id string) *Entry {
	e, err := s.Race(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrRaceNotFound) {
			s.log.Error().Err(err).Str("race_id", id).Msg("read race failed")
		}
		return nil
	}
	return &e
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *Store) ClearHistory(ctx context.Context) bool {
	if err := s.Clear(ctx); err != nil {
		s.log.Error().Err(err).Msg("clear history failed")
		return false
	}
	return true
}

// RouteGeoJSON renders a saved route as a LineString feature.
func (s *Store) RouteGeoJSON(ctx context.Context, id string) (*geojson.Feature, error) {
	e, err := s.Race(ctx, id)
	if err != nil {
		return nil, err
	}
	return geo.RouteFeature(e.Route, map[string]any{
		"id":          e.ID,
		"circuitName": e.CircuitName,
		"laps":        e.Laps,
	}), nil
}

func (s *Store) load(ctx context.Context) ([]Entry, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if !ok || raw == "" {
		return []Entry{}, nil
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
