package models

import (
	"math"
	"time"
)

// Profile holds the cumulative score of a user. Both mission completions and
// achievement grants add to it.
type Profile struct {
	UserID        string     `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Score         int64      `gorm:"not null;default:0" json:"score"`
	Level         int        `gorm:"not null;default:1" json:"level"`
	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BaseScorePerLevel scales the level curve.
const BaseScorePerLevel = 100

// scoreForNextLevel returns the extra score needed on top of the linear part
// to leave currentLevel: floor(BaseScorePerLevel * n^1.2).
func scoreForNextLevel(currentLevel int) int64 {
	if currentLevel < 1 {
		currentLevel = 1
	}
	return int64(float64(BaseScorePerLevel) * math.Pow(float64(currentLevel), 1.2))
}

// LevelThreshold is the total score at which a user leaves level.
func LevelThreshold(level int) int64 {
	return int64(BaseScorePerLevel)*int64(level) + scoreForNextLevel(level)
}

// LevelForScore derives the level of a cumulative score.
func LevelForScore(score int64) int {
	level := 1
	for score >= LevelThreshold(level) {
		level++
	}
	return level
}

// ApplyScore adds delta to the profile and recomputes its level.
func (p *Profile) ApplyScore(delta int64, now time.Time) {
	p.Score += delta
	if p.Score < 0 {
		p.Score = 0
	}
	if p.Level < 1 {
		p.Level = 1
	}
	level := LevelForScore(p.Score)
	if level > p.Level {
		p.LastLevelUpAt = &now
	}
	p.Level = level
}
