package memory

import (
	"ai-refinery/internal/dto"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// PipelineRepository keeps the last known status of each pipeline run.
type PipelineRepository struct {
	cache *cache.Cache
}

func NewPipelineRepository() *PipelineRepository {
	// Create a cache with a default expiration time of 1 hour, and which
	// purges expired items every 10 minutes
	c := cache.New(1*time.Hour, 10*time.Minute)
	return &PipelineRepository{
		cache: c,
	}
}

func (r *PipelineRepository) Save(status dto.PipelineStatusResponse) {
	r.cache.Set(status.Id.String(), status, cache.DefaultExpiration)
}

func (r *PipelineRepository) Get(id uuid.UUID) (dto.PipelineStatusResponse, bool) {
	if x, found := r.cache.Get(id.String()); found {
		return x.(dto.PipelineStatusResponse), true
	}
	return dto.PipelineStatusResponse{}, false
}

func (r *PipelineRepository) Delete(id uuid.UUID) {
	r.cache.Delete(id.String())
}

// Count returns the number of runs still cached.
func (r *PipelineRepository) Count() int {
	return r.cache.ItemCount()
}
