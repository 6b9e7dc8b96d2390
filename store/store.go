// Package store is the persistence port of the mission engine. Every method is
// a single atomic operation: status changes and the score they award commit
// together or not at all.
package store

import (
	"context"
	"time"

	"travel-missions/models"
)

// Store is implemented by GormStore (Postgres) and memstore.Store (tests).
type Store interface {
	CatalogStore
	AssignmentStore
	ProfileStore
	ChallengeStore
	AchievementStore
}

// CatalogStore owns cities and catalog missions.
type CatalogStore interface {
	GetCity(ctx context.Context, id uint) (*models.City, error)
	GetMission(ctx context.Context, id string) (*models.Mission, error)
	// ListCatalogMissions returns missions for (city, difficulty) in catalog
	// (creation) order.
	ListCatalogMissions(ctx context.Context, cityID uint, d models.Difficulty) ([]models.Mission, error)
	// InsertMission stores m unless a mission with the same fingerprint exists,
	// in which case the existing row is returned.
	InsertMission(ctx context.Context, m *models.Mission) (*models.Mission, error)
	// CityMissionIDs returns the catalog mission ids of each requested city.
	CityMissionIDs(ctx context.Context, cityIDs []uint) (map[uint][]string, error)
}

// AssignmentStore owns per-user mission assignments.
type AssignmentStore interface {
	// CreateAssignment inserts a: false when (user, mission) already exists.
	CreateAssignment(ctx context.Context, a *models.UserMissionAssignment) (bool, error)
	GetAssignment(ctx context.Context, userID, missionID string) (*models.UserMissionAssignment, error)
	ListAssignments(ctx context.Context, userID string, status models.AssignmentStatus) ([]models.AssignedMission, error)
	// UsedTargetNames lists target objects of every mission the user touched.
	UsedTargetNames(ctx context.Context, userID string) ([]string, error)
	// CompleteAssignment moves assigned → completed and adds points to the
	// profile in one transaction. false when the row was not assigned.
	CompleteAssignment(ctx context.Context, userID, missionID string, at time.Time, imageURL string, points int64) (bool, error)
	// DiscardAssignment moves assigned → discarded. false when not assigned.
	DiscardAssignment(ctx context.Context, userID, missionID string) (bool, error)
	// CompletedMissions returns every mission the user completed, individually
	// or inside a group challenge.
	CompletedMissions(ctx context.Context, userID string) ([]models.Mission, error)
	// UsersWithCompletionsSince lists users with a completion committed at or
	// after since. The server-side commit time is used, not the completed_at
	// the client reported.
	UsersWithCompletionsSince(ctx context.Context, since time.Time) ([]string, error)
}

// ProfileStore owns user scores.
type ProfileStore interface {
	// GetProfile returns the profile, or a zero-score level-1 profile when the
	// user has none yet.
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	AddScore(ctx context.Context, userID string, delta int64) (*models.Profile, error)
}

// ChallengeStore owns group challenges and their shared mission pool.
type ChallengeStore interface {
	// CreateChallenge inserts ch and the creator membership. It returns
	// ErrInviteCodeTaken when the invite code collides.
	CreateChallenge(ctx context.Context, ch *models.GroupChallenge) error
	GetChallenge(ctx context.Context, id string) (*models.GroupChallenge, error)
	GetChallengeByInviteCode(ctx context.Context, code string) (*models.GroupChallenge, error)
	ListUserChallenges(ctx context.Context, userID string) ([]models.GroupChallenge, error)
	AddMember(ctx context.Context, challengeID, userID string) (bool, error)
	IsMember(ctx context.Context, challengeID, userID string) (bool, error)
	// RemoveMember deletes the membership and returns the member's active
	// claims to available.
	RemoveMember(ctx context.Context, challengeID, userID string) (bool, error)
	// AddChallengeMissions inserts (or dedups) the missions into the catalog
	// and links each as available, in one transaction. It fails with
	// ErrChallengeCompleted on a stamped challenge and with
	// ErrMissionAlreadyLinked when a mission is already in the pool.
	AddChallengeMissions(ctx context.Context, challengeID string, missions []models.Mission) ([]models.Mission, error)
	ListChallengeMissions(ctx context.Context, challengeID string) ([]models.ChallengeMission, error)
	GetGroupMissionStatus(ctx context.Context, challengeID, missionID string) (*models.GroupMissionStatus, error)
	// ClaimGroupMission moves available → assigned for userID. false when the
	// mission was not available.
	ClaimGroupMission(ctx context.Context, challengeID, missionID, userID string, at time.Time) (bool, error)
	// ReleaseGroupMission moves assigned → available when userID holds it.
	ReleaseGroupMission(ctx context.Context, challengeID, missionID, userID string) (bool, error)
	// CompleteGroupMission moves assigned → completed when userID holds it,
	// adds points, and stamps the challenge when every linked mission is done.
	CompleteGroupMission(ctx context.Context, challengeID, missionID, userID string, at time.Time, imageURL string, points int64) (*models.GroupCompletion, error)
	// ReconcileChallenges stamps completed_at on fully completed challenges
	// left unstamped and returns how many were fixed.
	ReconcileChallenges(ctx context.Context, at time.Time) (int64, error)
}

// AchievementStore owns rule definitions and grants.
type AchievementStore interface {
	UpsertAchievements(ctx context.Context, defs []models.Achievement) error
	ListAchievements(ctx context.Context) ([]models.Achievement, error)
	ListUserAchievements(ctx context.Context, userID string) ([]models.UserAchievement, error)
	// GrantAchievement inserts the grant and adds its points in one
	// transaction. false when the user already holds it.
	GrantAchievement(ctx context.Context, userID string, a models.Achievement, at time.Time) (bool, error)
}
