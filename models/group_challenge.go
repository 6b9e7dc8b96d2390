package models

import "time"

// GroupChallenge is a shared pool of missions claimable by its members.
type GroupChallenge struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	Title       string     `gorm:"not null" json:"title"`
	CreatedBy   string     `gorm:"type:varchar(64);not null;index" json:"created_by"`
	IsSolo      bool       `gorm:"not null;default:false" json:"is_solo"`
	InviteCode  *string    `gorm:"uniqueIndex;size:16" json:"invite_code,omitempty"`
	CityID      *uint      `json:"city_id,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GroupChallengeMember links a user to a challenge.
type GroupChallengeMember struct {
	ChallengeID string    `gorm:"primaryKey;type:uuid" json:"challenge_id"`
	UserID      string    `gorm:"primaryKey;type:varchar(64);index" json:"user_id"`
	JoinedAt    time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// GroupChallengeMission links a catalog mission to a challenge.
type GroupChallengeMission struct {
	ChallengeID string    `gorm:"primaryKey;type:uuid" json:"challenge_id"`
	MissionID   string    `gorm:"primaryKey;type:uuid" json:"mission_id"`
	Position    int       `gorm:"not null;default:0" json:"position"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// GroupMissionState is the shared claim state of a challenge mission.
type GroupMissionState string

const (
	GroupMissionAvailable GroupMissionState = "available"
	GroupMissionAssigned  GroupMissionState = "assigned"
	GroupMissionCompleted GroupMissionState = "completed"
)

// GroupMissionStatus holds one row per (challenge, mission). The primary key
// is what makes a claim exclusive across members: state changes are
// compare-and-set updates on this single row.
type GroupMissionStatus struct {
	ChallengeID string            `gorm:"primaryKey;type:uuid" json:"challenge_id"`
	MissionID   string            `gorm:"primaryKey;type:uuid" json:"mission_id"`
	Status      GroupMissionState `gorm:"type:varchar(16);not null;default:'available';index" json:"status"`
	UserID      *string           `gorm:"type:varchar(64);index" json:"user_id,omitempty"`
	ClaimedAt   *time.Time        `json:"claimed_at,omitempty"`
	CompletedAt *time.Time        `gorm:"index" json:"completed_at,omitempty"`
	ImageURL    string            `gorm:"type:text" json:"image_url,omitempty"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// ClaimantID returns the claimant or completer, empty when available.
func (s GroupMissionStatus) ClaimantID() string {
	if s.UserID == nil {
		return ""
	}
	return *s.UserID
}

// ChallengeMission is a linked mission with its current claim status.
type ChallengeMission struct {
	Mission Mission
	Status  GroupMissionStatus
}

// GroupCompletion reports the challenge tally after a completion.
type GroupCompletion struct {
	Applied              bool
	CompletedCount       int64
	TotalCount           int64
	ChallengeCompletedAt *time.Time
}
