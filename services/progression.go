package services

import (
	"context"
	"time"

	"travel-missions/models"
	"travel-missions/store"
)

// Progress is the read model of a user's standing.
type Progress struct {
	UserID            string     `json:"user_id"`
	Score             int64      `json:"score"`
	Level             int        `json:"level"`
	NextLevelAt       int64      `json:"next_level_at"`
	PointsToNextLevel int64      `json:"points_to_next_level"`
	LastLevelUpAt     *time.Time `json:"last_level_up_at,omitempty"`
	CompletedMissions int        `json:"completed_missions"`
	VisitedCities     int        `json:"visited_cities"`
	Achievements      int        `json:"achievements"`
}

type ProgressService struct {
	Store store.Store
}

func NewProgressService(st store.Store) *ProgressService {
	return &ProgressService{Store: st}
}

// GetProgress returns score, level and the history aggregates achievements
// are evaluated on.
func (s *ProgressService) GetProgress(ctx context.Context, userID string) (*Progress, error) {
	prof, err := s.Store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	completed, err := s.Store.CompletedMissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	grants, err := s.Store.ListUserAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}

	level := prof.Level
	if level < 1 {
		level = 1
	}
	next := models.LevelThreshold(level)
	snap := Snapshot{Completed: completed}

	return &Progress{
		UserID:            userID,
		Score:             prof.Score,
		Level:             level,
		NextLevelAt:       next,
		PointsToNextLevel: next - prof.Score,
		LastLevelUpAt:     prof.LastLevelUpAt,
		CompletedMissions: len(completed),
		VisitedCities:     len(snap.VisitedCities()),
		Achievements:      len(grants),
	}, nil
}
