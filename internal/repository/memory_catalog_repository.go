package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

// CatalogSeed is the JSON document accepted by LoadCatalogSeed.
type CatalogSeed struct {
	Rooms    []models.Room          `json:"rooms"`
	Editions []models.CourseEdition `json:"editions"`
}

// MemoryCatalogRepository serves a fixed catalog from memory.
type MemoryCatalogRepository struct {
	mu       sync.RWMutex
	editions map[models.EditionRef]models.CourseEdition
	rooms    map[int64]models.Room
}

// NewMemoryCatalogRepository builds a catalog from seed data.
func NewMemoryCatalogRepository(seed CatalogSeed) *MemoryCatalogRepository {
	r := &MemoryCatalogRepository{
		editions: make(map[models.EditionRef]models.CourseEdition, len(seed.Editions)),
		rooms:    make(map[int64]models.Room, len(seed.Rooms)),
	}
	for _, e := range seed.Editions {
		r.editions[e.Ref()] = e
	}
	for _, room := range seed.Rooms {
		r.rooms[room.ID] = room
	}
	return r
}

// LoadCatalogSeed reads a CatalogSeed from a JSON file.
func LoadCatalogSeed(path string) (CatalogSeed, error) {
	var seed CatalogSeed
	raw, err := os.ReadFile(path)
	if err != nil {
		return seed, fmt.Errorf("read catalog seed: %w", err)
	}
	if err := json.Unmarshal(raw, &seed); err != nil {
		return seed, fmt.Errorf("parse catalog seed %s: %w", path, err)
	}
	return seed, nil
}

// GetEdition returns a copy of the edition or sql.ErrNoRows.
func (r *MemoryCatalogRepository) GetEdition(_ context.Context, ref models.EditionRef) (*models.CourseEdition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.editions[ref]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := copyEdition(e)
	return &out, nil
}

// ListEditions returns editions matching the filter in id order.
func (r *MemoryCatalogRepository) ListEditions(_ context.Context, filter models.EditionFilter) ([]models.CourseEdition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.CourseEdition
	for _, e := range r.editions {
		if filter.CoordinatorID != "" && !e.HasCoordinator(filter.CoordinatorID) {
			continue
		}
		if filter.GroupID != 0 && !e.InGroup(filter.GroupID) {
			continue
		}
		out = append(out, copyEdition(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CourseID != out[j].CourseID {
			return out[i].CourseID < out[j].CourseID
		}
		return out[i].EditionID < out[j].EditionID
	})
	return out, nil
}

// GetRoom returns the room or sql.ErrNoRows.
func (r *MemoryCatalogRepository) GetRoom(_ context.Context, id int64) (*models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &room, nil
}

func copyEdition(e models.CourseEdition) models.CourseEdition {
	e.Coordinators = append([]string(nil), e.Coordinators...)
	e.Groups = append([]int64(nil), e.Groups...)
	return e
}
