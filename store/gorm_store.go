package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"travel-missions/models"
)

// GormStore implements Store on Postgres through GORM. Open the connection
// with TranslateError enabled so unique violations surface as
// gorm.ErrDuplicatedKey.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// Migrate creates or updates every table the engine owns.
func (s *GormStore) Migrate() error {
	return s.DB.AutoMigrate(
		&models.City{},
		&models.Mission{},
		&models.UserMissionAssignment{},
		&models.Profile{},
		&models.GroupChallenge{},
		&models.GroupChallengeMember{},
		&models.GroupChallengeMission{},
		&models.GroupMissionStatus{},
		&models.Achievement{},
		&models.UserAchievement{},
	)
}

// --- Catalog ---

func (s *GormStore) GetCity(ctx context.Context, id uint) (*models.City, error) {
	var city models.City
	if err := s.DB.WithContext(ctx).First(&city, "id = ?", id).Error; err != nil {
		return nil, translate(err, "city")
	}
	return &city, nil
}

func (s *GormStore) GetMission(ctx context.Context, id string) (*models.Mission, error) {
	var m models.Mission
	if err := s.DB.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err, "mission")
	}
	return &m, nil
}

func (s *GormStore) ListCatalogMissions(ctx context.Context, cityID uint, d models.Difficulty) ([]models.Mission, error) {
	var missions []models.Mission
	err := s.DB.WithContext(ctx).
		Where("city_id = ? AND difficulty = ?", cityID, d).
		Order("created_at ASC, id ASC").
		Find(&missions).Error
	return missions, err
}

func (s *GormStore) InsertMission(ctx context.Context, m *models.Mission) (*models.Mission, error) {
	return insertMission(s.DB.WithContext(ctx), m)
}

func insertMission(tx *gorm.DB, m *models.Mission) (*models.Mission, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Fingerprint == "" {
		m.Fingerprint = models.MissionFingerprint(m.CityID, m.Difficulty, m.Title, m.TargetObjectName)
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fingerprint"}},
		DoNothing: true,
	}).Create(m)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return m, nil
	}
	var existing models.Mission
	if err := tx.Where("fingerprint = ?", m.Fingerprint).First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func (s *GormStore) CityMissionIDs(ctx context.Context, cityIDs []uint) (map[uint][]string, error) {
	out := make(map[uint][]string, len(cityIDs))
	if len(cityIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ID     string
		CityID uint
	}
	if err := s.DB.WithContext(ctx).Model(&models.Mission{}).
		Select("id, city_id").
		Where("city_id IN ?", cityIDs).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.CityID] = append(out[r.CityID], r.ID)
	}
	return out, nil
}

// --- Assignments ---

func (s *GormStore) CreateAssignment(ctx context.Context, a *models.UserMissionAssignment) (bool, error) {
	if a.Status == "" {
		a.Status = models.AssignmentAssigned
	}
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(a)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) GetAssignment(ctx context.Context, userID, missionID string) (*models.UserMissionAssignment, error) {
	var a models.UserMissionAssignment
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND mission_id = ?", userID, missionID).
		First(&a).Error
	if err != nil {
		return nil, translate(err, "assignment")
	}
	return &a, nil
}

func (s *GormStore) ListAssignments(ctx context.Context, userID string, status models.AssignmentStatus) ([]models.AssignedMission, error) {
	db := s.DB.WithContext(ctx)
	q := db.Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var assignments []models.UserMissionAssignment
	if err := q.Order("created_at DESC").Find(&assignments).Error; err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	ids := make([]string, len(assignments))
	for i, a := range assignments {
		ids[i] = a.MissionID
	}
	var missions []models.Mission
	if err := db.Where("id IN ?", ids).Find(&missions).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]models.Mission, len(missions))
	for _, m := range missions {
		byID[m.ID] = m
	}

	out := make([]models.AssignedMission, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, models.AssignedMission{Assignment: a, Mission: byID[a.MissionID]})
	}
	return out, nil
}

func (s *GormStore) UsedTargetNames(ctx context.Context, userID string) ([]string, error) {
	var names []string
	err := s.DB.WithContext(ctx).Model(&models.Mission{}).
		Joins("JOIN user_mission_assignments uma ON uma.mission_id = missions.id").
		Where("uma.user_id = ?", userID).
		Distinct().
		Pluck("missions.target_object_name", &names).Error
	return names, err
}

func (s *GormStore) CompleteAssignment(ctx context.Context, userID, missionID string, at time.Time, imageURL string, points int64) (bool, error) {
	applied := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.UserMissionAssignment{}).
			Where("user_id = ? AND mission_id = ? AND status = ?", userID, missionID, models.AssignmentAssigned).
			Updates(map[string]interface{}{
				"status":       models.AssignmentCompleted,
				"completed_at": at,
				"image_url":    imageURL,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if _, err := addScore(tx, userID, points, at); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *GormStore) DiscardAssignment(ctx context.Context, userID, missionID string) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.UserMissionAssignment{}).
		Where("user_id = ? AND mission_id = ? AND status = ?", userID, missionID, models.AssignmentAssigned).
		Update("status", models.AssignmentDiscarded)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) CompletedMissions(ctx context.Context, userID string) ([]models.Mission, error) {
	db := s.DB.WithContext(ctx)
	individual := db.Model(&models.UserMissionAssignment{}).
		Select("mission_id").
		Where("user_id = ? AND status = ?", userID, models.AssignmentCompleted)
	group := db.Model(&models.GroupMissionStatus{}).
		Select("mission_id").
		Where("user_id = ? AND status = ?", userID, models.GroupMissionCompleted)

	var missions []models.Mission
	err := db.Where("id IN (?) OR id IN (?)", individual, group).
		Order("created_at ASC").
		Find(&missions).Error
	return missions, err
}

func (s *GormStore) UsersWithCompletionsSince(ctx context.Context, since time.Time) ([]string, error) {
	db := s.DB.WithContext(ctx)
	var individual, group []string
	if err := db.Model(&models.UserMissionAssignment{}).
		Where("status = ? AND updated_at >= ?", models.AssignmentCompleted, since).
		Distinct().
		Pluck("user_id", &individual).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.GroupMissionStatus{}).
		Where("status = ? AND updated_at >= ?", models.GroupMissionCompleted, since).
		Distinct().
		Pluck("user_id", &group).Error; err != nil {
		return nil, err
	}
	return mergeUnique(individual, group), nil
}

// --- Profiles ---

func (s *GormStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Profile{UserID: userID, Level: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) AddScore(ctx context.Context, userID string, delta int64) (*models.Profile, error) {
	var out *models.Profile
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := addScore(tx, userID, delta, time.Now())
		out = p
		return err
	})
	return out, err
}

// addScore must run inside a transaction: it locks the profile row so
// concurrent awards serialise.
func addScore(tx *gorm.DB, userID string, delta int64, now time.Time) (*models.Profile, error) {
	seed := models.Profile{UserID: userID, Level: 1}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var p models.Profile
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&p).Error; err != nil {
		return nil, err
	}
	p.ApplyScore(delta, now)
	if err := tx.Save(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Group challenges ---

func (s *GormStore) CreateChallenge(ctx context.Context, ch *models.GroupChallenge) error {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ch).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrInviteCodeTaken
			}
			return err
		}
		return tx.Create(&models.GroupChallengeMember{
			ChallengeID: ch.ID,
			UserID:      ch.CreatedBy,
		}).Error
	})
}

func (s *GormStore) GetChallenge(ctx context.Context, id string) (*models.GroupChallenge, error) {
	var ch models.GroupChallenge
	if err := s.DB.WithContext(ctx).First(&ch, "id = ?", id).Error; err != nil {
		return nil, translate(err, "challenge")
	}
	return &ch, nil
}

func (s *GormStore) GetChallengeByInviteCode(ctx context.Context, code string) (*models.GroupChallenge, error) {
	var ch models.GroupChallenge
	if err := s.DB.WithContext(ctx).Where("invite_code = ?", code).First(&ch).Error; err != nil {
		return nil, translate(err, "invite code")
	}
	return &ch, nil
}

func (s *GormStore) ListUserChallenges(ctx context.Context, userID string) ([]models.GroupChallenge, error) {
	var challenges []models.GroupChallenge
	err := s.DB.WithContext(ctx).
		Joins("JOIN group_challenge_members gcm ON gcm.challenge_id = group_challenges.id").
		Where("gcm.user_id = ?", userID).
		Order("group_challenges.created_at DESC").
		Find(&challenges).Error
	return challenges, err
}

func (s *GormStore) AddMember(ctx context.Context, challengeID, userID string) (bool, error) {
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.GroupChallengeMember{ChallengeID: challengeID, UserID: userID})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) IsMember(ctx context.Context, challengeID, userID string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.GroupChallengeMember{}).
		Where("challenge_id = ? AND user_id = ?", challengeID, userID).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) RemoveMember(ctx context.Context, challengeID, userID string) (bool, error) {
	removed := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("challenge_id = ? AND user_id = ?", challengeID, userID).
			Delete(&models.GroupChallengeMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = true
		return tx.Model(&models.GroupMissionStatus{}).
			Where("challenge_id = ? AND user_id = ? AND status = ?", challengeID, userID, models.GroupMissionAssigned).
			Updates(map[string]interface{}{
				"status":     models.GroupMissionAvailable,
				"user_id":    nil,
				"claimed_at": nil,
			}).Error
	})
	return removed, err
}

func (s *GormStore) AddChallengeMissions(ctx context.Context, challengeID string, missions []models.Mission) ([]models.Mission, error) {
	stored := make([]models.Mission, 0, len(missions))
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Same lock as CompleteGroupMission: the pool cannot grow while a
		// completion is deciding whether the challenge is done.
		var ch models.GroupChallenge
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&ch, "id = ?", challengeID).Error; err != nil {
			return translate(err, "challenge")
		}
		if ch.CompletedAt != nil {
			return ErrChallengeCompleted
		}

		var linked int64
		if err := tx.Model(&models.GroupChallengeMission{}).
			Where("challenge_id = ?", challengeID).
			Count(&linked).Error; err != nil {
			return err
		}
		for i := range missions {
			m, err := insertMission(tx, &missions[i])
			if err != nil {
				return err
			}
			link := models.GroupChallengeMission{
				ChallengeID: challengeID,
				MissionID:   m.ID,
				Position:    int(linked) + i,
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrMissionAlreadyLinked
			}
			status := models.GroupMissionStatus{
				ChallengeID: challengeID,
				MissionID:   m.ID,
				Status:      models.GroupMissionAvailable,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&status).Error; err != nil {
				return err
			}
			stored = append(stored, *m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *GormStore) ListChallengeMissions(ctx context.Context, challengeID string) ([]models.ChallengeMission, error) {
	db := s.DB.WithContext(ctx)
	var links []models.GroupChallengeMission
	if err := db.Where("challenge_id = ?", challengeID).
		Order("position ASC, created_at ASC").
		Find(&links).Error; err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}

	ids := make([]string, len(links))
	for i, l := range links {
		ids[i] = l.MissionID
	}
	var missions []models.Mission
	if err := db.Where("id IN ?", ids).Find(&missions).Error; err != nil {
		return nil, err
	}
	var statuses []models.GroupMissionStatus
	if err := db.Where("challenge_id = ?", challengeID).Find(&statuses).Error; err != nil {
		return nil, err
	}

	missionByID := make(map[string]models.Mission, len(missions))
	for _, m := range missions {
		missionByID[m.ID] = m
	}
	statusByID := make(map[string]models.GroupMissionStatus, len(statuses))
	for _, st := range statuses {
		statusByID[st.MissionID] = st
	}

	out := make([]models.ChallengeMission, 0, len(links))
	for _, l := range links {
		st, ok := statusByID[l.MissionID]
		if !ok {
			st = models.GroupMissionStatus{ChallengeID: challengeID, MissionID: l.MissionID, Status: models.GroupMissionAvailable}
		}
		out = append(out, models.ChallengeMission{Mission: missionByID[l.MissionID], Status: st})
	}
	return out, nil
}

func (s *GormStore) GetGroupMissionStatus(ctx context.Context, challengeID, missionID string) (*models.GroupMissionStatus, error) {
	var st models.GroupMissionStatus
	err := s.DB.WithContext(ctx).
		Where("challenge_id = ? AND mission_id = ?", challengeID, missionID).
		First(&st).Error
	if err != nil {
		return nil, translate(err, "challenge mission")
	}
	return &st, nil
}

func (s *GormStore) ClaimGroupMission(ctx context.Context, challengeID, missionID, userID string, at time.Time) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.GroupMissionStatus{}).
		Where("challenge_id = ? AND mission_id = ? AND status = ?", challengeID, missionID, models.GroupMissionAvailable).
		Updates(map[string]interface{}{
			"status":     models.GroupMissionAssigned,
			"user_id":    userID,
			"claimed_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ReleaseGroupMission(ctx context.Context, challengeID, missionID, userID string) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.GroupMissionStatus{}).
		Where("challenge_id = ? AND mission_id = ? AND status = ? AND user_id = ?",
			challengeID, missionID, models.GroupMissionAssigned, userID).
		Updates(map[string]interface{}{
			"status":     models.GroupMissionAvailable,
			"user_id":    nil,
			"claimed_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) CompleteGroupMission(ctx context.Context, challengeID, missionID, userID string, at time.Time, imageURL string, points int64) (*models.GroupCompletion, error) {
	out := &models.GroupCompletion{}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the challenge first so concurrent completions count in turn.
		var ch models.GroupChallenge
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&ch, "id = ?", challengeID).Error; err != nil {
			return translate(err, "challenge")
		}

		res := tx.Model(&models.GroupMissionStatus{}).
			Where("challenge_id = ? AND mission_id = ? AND status = ? AND user_id = ?",
				challengeID, missionID, models.GroupMissionAssigned, userID).
			Updates(map[string]interface{}{
				"status":       models.GroupMissionCompleted,
				"completed_at": at,
				"image_url":    imageURL,
			})
		if res.Error != nil {
			return res.Error
		}
		out.Applied = res.RowsAffected == 1
		if out.Applied {
			if _, err := addScore(tx, userID, points, at); err != nil {
				return err
			}
		}

		if err := tx.Model(&models.GroupMissionStatus{}).
			Where("challenge_id = ?", challengeID).
			Count(&out.TotalCount).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.GroupMissionStatus{}).
			Where("challenge_id = ? AND status = ?", challengeID, models.GroupMissionCompleted).
			Count(&out.CompletedCount).Error; err != nil {
			return err
		}

		if ch.CompletedAt == nil && out.TotalCount > 0 && out.CompletedCount == out.TotalCount {
			if err := tx.Model(&models.GroupChallenge{}).
				Where("id = ? AND completed_at IS NULL", challengeID).
				Update("completed_at", at).Error; err != nil {
				return err
			}
			ch.CompletedAt = &at
		}
		out.ChallengeCompletedAt = ch.CompletedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ReconcileChallenges(ctx context.Context, at time.Time) (int64, error) {
	db := s.DB.WithContext(ctx)
	done := db.Model(&models.GroupMissionStatus{}).
		Select("challenge_id").
		Group("challenge_id").
		Having("COUNT(*) = SUM(CASE WHEN status = ? THEN 1 ELSE 0 END)", models.GroupMissionCompleted)
	var candidates []string
	if err := db.Model(&models.GroupChallenge{}).
		Where("completed_at IS NULL AND id IN (?)", done).
		Pluck("id", &candidates).Error; err != nil {
		return 0, err
	}

	var fixed int64
	for _, id := range candidates {
		stamped, err := s.stampIfDone(ctx, id, at)
		if err != nil {
			return fixed, err
		}
		if stamped {
			fixed++
		}
	}
	return fixed, nil
}

// stampIfDone recounts a candidate under the challenge lock, since missions
// may have been linked after the candidate query ran.
func (s *GormStore) stampIfDone(ctx context.Context, challengeID string, at time.Time) (bool, error) {
	stamped := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ch models.GroupChallenge
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&ch, "id = ?", challengeID).Error; err != nil {
			return translate(err, "challenge")
		}
		if ch.CompletedAt != nil {
			return nil
		}
		var total, completed int64
		if err := tx.Model(&models.GroupMissionStatus{}).
			Where("challenge_id = ?", challengeID).
			Count(&total).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.GroupMissionStatus{}).
			Where("challenge_id = ? AND status = ?", challengeID, models.GroupMissionCompleted).
			Count(&completed).Error; err != nil {
			return err
		}
		if total == 0 || completed != total {
			return nil
		}
		if err := tx.Model(&models.GroupChallenge{}).
			Where("id = ?", challengeID).
			Update("completed_at", at).Error; err != nil {
			return err
		}
		stamped = true
		return nil
	})
	return stamped, err
}

// --- Achievements ---

func (s *GormStore) UpsertAchievements(ctx context.Context, defs []models.Achievement) error {
	if len(defs) == 0 {
		return nil
	}
	rows := make([]models.Achievement, len(defs))
	copy(rows, defs)
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.NewString()
		}
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "condition_type", "condition_value", "points"}),
	}).Create(&rows).Error
}

func (s *GormStore) ListAchievements(ctx context.Context) ([]models.Achievement, error) {
	var defs []models.Achievement
	err := s.DB.WithContext(ctx).Order("created_at ASC, code ASC").Find(&defs).Error
	return defs, err
}

func (s *GormStore) ListUserAchievements(ctx context.Context, userID string) ([]models.UserAchievement, error) {
	var grants []models.UserAchievement
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("unlocked_at ASC").
		Find(&grants).Error
	return grants, err
}

func (s *GormStore) GrantAchievement(ctx context.Context, userID string, a models.Achievement, at time.Time) (bool, error) {
	granted := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.UserAchievement{
			UserID:        userID,
			AchievementID: a.ID,
			UnlockedAt:    at,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if a.Points != 0 {
			if _, err := addScore(tx, userID, a.Points, at); err != nil {
				return err
			}
		}
		granted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return granted, nil
}

func mergeUnique(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

var _ Store = (*GormStore)(nil)
