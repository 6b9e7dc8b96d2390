package models

import "time"

// AssignmentStatus is the lifecycle state of a user's mission.
type AssignmentStatus string

const (
	AssignmentAssigned  AssignmentStatus = "assigned"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentDiscarded AssignmentStatus = "discarded"
)

// Terminal reports whether no transition may leave the status.
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentCompleted || s == AssignmentDiscarded
}

// UserMissionAssignment is the per-user claim of a catalog mission. Rows are
// never deleted; discard is a terminal status.
type UserMissionAssignment struct {
	UserID      string           `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	MissionID   string           `gorm:"primaryKey;type:uuid" json:"mission_id"`
	Status      AssignmentStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	CompletedAt *time.Time       `gorm:"index" json:"completed_at,omitempty"`
	ImageURL    string           `gorm:"type:text" json:"image_url,omitempty"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// AssignedMission joins an assignment with its catalog entry.
type AssignedMission struct {
	Assignment UserMissionAssignment
	Mission    Mission
}
