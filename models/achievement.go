package models

import (
	"time"
)

// ConditionType names the rule kind of an achievement definition.
type ConditionType string

const (
	ConditionFirstMission  ConditionType = "COMPLETE_FIRST_MISSION"
	ConditionNMissions     ConditionType = "COMPLETE_N_MISSIONS"
	ConditionVisitNCities  ConditionType = "VISIT_N_CITIES"
	ConditionReachLevel    ConditionType = "REACH_LEVEL"
	ConditionEasyMission   ConditionType = "COMPLETE_EASY_MISSION"
	ConditionMediumMission ConditionType = "COMPLETE_MEDIUM_MISSION"
	ConditionHardMission   ConditionType = "COMPLETE_HARD_MISSION"
	ConditionCityMissions  ConditionType = "COMPLETE_CITY_MISSIONS"
)

// Achievement: static rule definition (seeded at startup, editable in DB)
type Achievement struct {
	ID             string        `gorm:"primaryKey;type:uuid" json:"id"`
	Code           string        `gorm:"uniqueIndex;not null" json:"code"` // e.g., "FIRST_MISSION", "MISSIONS_10"
	Name           string        `gorm:"not null" json:"name"`
	Description    string        `json:"description"`
	ConditionType  ConditionType `gorm:"type:varchar(32)" json:"condition_type,omitempty"` // empty on legacy rows
	ConditionValue int           `gorm:"default:0" json:"condition_value"`
	Points         int64         `gorm:"not null;default:0" json:"points"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

// UserAchievement: granted instance. The composite key enforces one grant per
// user per achievement.
type UserAchievement struct {
	UserID        string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	AchievementID string    `gorm:"primaryKey;type:uuid" json:"achievement_id"`
	UnlockedAt    time.Time `gorm:"not null" json:"unlocked_at"`
}

// AchievementStatus is the read projection of a rule for one user.
type AchievementStatus struct {
	Achievement
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

// DefaultAchievements is the rule table seeded on startup (upserted by code).
var DefaultAchievements = []Achievement{
	{
		Code:          "FIRST_MISSION",
		Name:          "First Steps",
		Description:   "Completed your first mission",
		ConditionType: ConditionFirstMission,
		Points:        10,
	},
	{
		Code:           "MISSIONS_10",
		Name:           "Explorer",
		Description:    "Completed 10 missions",
		ConditionType:  ConditionNMissions,
		ConditionValue: 10,
		Points:         50,
	},
	{
		Code:           "MISSIONS_50",
		Name:           "Globetrotter",
		Description:    "Completed 50 missions",
		ConditionType:  ConditionNMissions,
		ConditionValue: 50,
		Points:         200,
	},
	{
		Code:           "CITIES_3",
		Name:           "City Hopper",
		Description:    "Completed missions in 3 different cities",
		ConditionType:  ConditionVisitNCities,
		ConditionValue: 3,
		Points:         75,
	},
	{
		Code:           "LEVEL_5",
		Name:           "Seasoned Traveller",
		Description:    "Reached level 5",
		ConditionType:  ConditionReachLevel,
		ConditionValue: 5,
		Points:         100,
	},
	{
		Code:          "EASY_MISSION",
		Name:          "Warm Up",
		Description:   "Completed an easy mission",
		ConditionType: ConditionEasyMission,
		Points:        10,
	},
	{
		Code:          "MEDIUM_MISSION",
		Name:          "Getting Serious",
		Description:   "Completed a medium mission",
		ConditionType: ConditionMediumMission,
		Points:        25,
	},
	{
		Code:          "HARD_MISSION",
		Name:          "Daredevil",
		Description:   "Completed a hard mission",
		ConditionType: ConditionHardMission,
		Points:        50,
	},
	{
		Code:           "CITY_COMPLETE",
		Name:           "Local Legend",
		Description:    "Completed every mission of a city",
		ConditionType:  ConditionCityMissions,
		ConditionValue: 1,
		Points:         150,
	},
}
