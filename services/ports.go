package services

import (
	"context"

	"travel-missions/models"
)

// ContentGenerator supplies candidate mission content. Implementations may
// fail or return incomplete payloads; callers validate before persisting.
type ContentGenerator interface {
	Generate(ctx context.Context, city models.City, d models.Difficulty, excludedTargets []string) (*models.MissionContent, error)
	GenerateBatch(ctx context.Context, city models.City, quantity int) ([]models.MissionContent, error)
}

// ImageValidator checks that a photo shows one of the expected keywords.
type ImageValidator interface {
	Validate(ctx context.Context, imageURL string, keywords []string) (bool, error)
}

// ImageResolver turns an uploaded object key into a public URL.
type ImageResolver interface {
	ResolveImageURL(ctx context.Context, key string) (string, error)
}

// GenerationLock serialises generator calls for the same key. The returned
// func releases the lock.
type GenerationLock interface {
	Acquire(ctx context.Context, key string) (func(), error)
}
