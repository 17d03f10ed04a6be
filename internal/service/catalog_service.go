package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
)

// CatalogRepository is the read-only catalog store.
type CatalogRepository interface {
	GetEdition(ctx context.Context, ref models.EditionRef) (*models.CourseEdition, error)
	ListEditions(ctx context.Context, filter models.EditionFilter) ([]models.CourseEdition, error)
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
}

// CatalogService reads course editions and rooms, caching them in Redis when
// the cache is enabled.
type CatalogService struct {
	repo   CatalogRepository
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewCatalogService constructs the service. cache may be nil.
func NewCatalogService(repo CatalogRepository, cache *CacheService, ttl time.Duration, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// GetEdition returns an edition with its coordinators and groups.
func (s *CatalogService) GetEdition(ctx context.Context, ref models.EditionRef) (*models.CourseEdition, error) {
	key := fmt.Sprintf("catalog:edition:%d:%d", ref.CourseID, ref.EditionID)
	return readThrough(ctx, s.cache, key, s.ttl, func() (*models.CourseEdition, error) {
		edition, err := s.repo.GetEdition(ctx, ref)
		if err != nil {
			return nil, notFoundIfMissing(err, "course edition %d/%d", ref.CourseID, ref.EditionID)
		}
		return edition, nil
	})
}

// ListEditions returns editions matching the filter.
func (s *CatalogService) ListEditions(ctx context.Context, filter models.EditionFilter) ([]models.CourseEdition, error) {
	key := fmt.Sprintf("catalog:editions:%s:%d", filter.CoordinatorID, filter.GroupID)
	return readThrough(ctx, s.cache, key, s.ttl, func() ([]models.CourseEdition, error) {
		editions, err := s.repo.ListEditions(ctx, filter)
		if err != nil {
			return nil, internalError(err, "failed to list course editions")
		}
		return editions, nil
	})
}

// GetRoom returns a room.
func (s *CatalogService) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	room, err := s.repo.GetRoom(ctx, id)
	if err != nil {
		return nil, notFoundIfMissing(err, "room %d", id)
	}
	return room, nil
}
