package models

import (
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/datatypes"
)

// City is reference data maintained by the profile/CRUD layer; the engine only
// reads it to resolve ids into names for the content generator.
type City struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Name    string `gorm:"not null" json:"name"`
	Country string `json:"country,omitempty"`
}

// Mission is a catalog entry. It is immutable once created.
type Mission struct {
	ID               string                      `gorm:"primaryKey;type:uuid" json:"id"`
	CityID           uint                        `gorm:"index:idx_missions_city_difficulty;not null" json:"city_id"`
	Difficulty       Difficulty                  `gorm:"index:idx_missions_city_difficulty;not null" json:"difficulty"`
	Title            string                      `gorm:"not null" json:"title"`
	Description      string                      `gorm:"type:text" json:"description"`
	Keywords         datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"keywords"`
	TargetObjectName string                      `gorm:"not null" json:"target_object_name"`
	LoreText         string                      `gorm:"type:text" json:"lore_text,omitempty"`
	Fingerprint      string                      `gorm:"uniqueIndex;not null" json:"-"`
	CreatedAt        time.Time                   `gorm:"autoCreateTime;index" json:"created_at"`
}

// MissionFingerprint derives the catalog dedup key from the content that makes
// two generated missions "the same".
func MissionFingerprint(cityID uint, d Difficulty, title, target string) string {
	return slug.Make(fmt.Sprintf("%d %d %s %s", cityID, d, title, target))
}

// MissionView is the client projection of a mission. Lore is only filled in
// once the requesting user has completed the mission.
type MissionView struct {
	ID               string     `json:"id"`
	CityID           uint       `json:"city_id"`
	Difficulty       Difficulty `json:"difficulty"`
	DifficultyLabel  string     `json:"difficulty_label"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Keywords         []string   `json:"keywords"`
	TargetObjectName string     `json:"target_object_name"`
	LoreText         string     `json:"lore_text,omitempty"`
}

// View projects the mission, withholding lore unless unlocked.
func (m Mission) View(loreUnlocked bool) MissionView {
	v := MissionView{
		ID:               m.ID,
		CityID:           m.CityID,
		Difficulty:       m.Difficulty,
		DifficultyLabel:  m.Difficulty.String(),
		Title:            m.Title,
		Description:      m.Description,
		Keywords:         append([]string(nil), m.Keywords...),
		TargetObjectName: m.TargetObjectName,
	}
	if loreUnlocked {
		v.LoreText = m.LoreText
	}
	return v
}

// MissionContent is what the external generator supplies for one mission.
type MissionContent struct {
	Title            string   `json:"title" validate:"required"`
	Description      string   `json:"description" validate:"required"`
	TargetObjectName string   `json:"targetObjectName" validate:"required"`
	Keywords         []string `json:"keywords" validate:"required,min=1,dive,required"`
	LoreText         string   `json:"loreText" validate:"required"`
	// Difficulty is only set by batch generation.
	Difficulty string `json:"difficulty,omitempty"`
}
