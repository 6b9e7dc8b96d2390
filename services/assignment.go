package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"travel-missions/apperr"
	"travel-missions/metrics"
	"travel-missions/models"
	"travel-missions/store"
	"travel-missions/telemetry"
)

// MissionService assigns catalog missions to users, generating new content
// when the user has already seen everything the catalog holds.
type MissionService struct {
	Store     store.Store
	Generator ContentGenerator
	Lock      GenerationLock
	Log       *logrus.Entry
	Metrics   *metrics.Metrics
}

func NewMissionService(st store.Store, gen ContentGenerator, lock GenerationLock, log *logrus.Entry, m *metrics.Metrics) *MissionService {
	if lock == nil {
		lock = NewLocalLock()
	}
	return &MissionService{Store: st, Generator: gen, Lock: lock, Log: log, Metrics: m}
}

// RequestMission assigns the user a mission in city at the given difficulty
// label. Lore is withheld from the returned view.
func (s *MissionService) RequestMission(ctx context.Context, userID string, cityID uint, difficultyLabel string) (*models.MissionView, error) {
	if userID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "user id is required")
	}
	d, err := models.ParseDifficulty(difficultyLabel)
	if err != nil {
		return nil, err
	}
	city, err := s.Store.GetCity(ctx, cityID)
	if err != nil {
		return nil, err
	}

	if m, err := s.assignFromCatalog(ctx, userID, city.ID, d); err != nil || m != nil {
		return viewOf(m), err
	}

	// Generation for the same city and tier is serialised; whoever waited
	// rescans first since the previous holder may have filled the catalog.
	release, err := s.Lock.Acquire(ctx, generationKey(city.ID, d))
	if err != nil {
		return nil, fmt.Errorf("acquire generation lock: %w", err)
	}
	defer release()

	if m, err := s.assignFromCatalog(ctx, userID, city.ID, d); err != nil || m != nil {
		return viewOf(m), err
	}

	m, err := s.generate(ctx, userID, *city, d)
	if err != nil {
		return nil, err
	}
	created, err := s.Store.CreateAssignment(ctx, &models.UserMissionAssignment{
		UserID:    userID,
		MissionID: m.ID,
		Status:    models.AssignmentAssigned,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		// The fingerprint matched a mission this user already holds.
		return nil, apperr.New(apperr.GenerationFailed, "generator repeated a mission already assigned to the user")
	}

	s.Metrics.MissionAssigned("generated", d.String())
	s.Log.WithFields(logrus.Fields{
		"user_id":    userID,
		"mission_id": m.ID,
		"city_id":    city.ID,
		"difficulty": d.String(),
	}).Info("🎯 generated mission assigned")
	return viewOf(m), nil
}

// assignFromCatalog returns the first catalog mission the user never touched,
// now assigned to them, or nil when there is none.
func (s *MissionService) assignFromCatalog(ctx context.Context, userID string, cityID uint, d models.Difficulty) (*models.Mission, error) {
	candidates, err := s.Store.ListCatalogMissions(ctx, cityID, d)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		m := &candidates[i]
		created, err := s.Store.CreateAssignment(ctx, &models.UserMissionAssignment{
			UserID:    userID,
			MissionID: m.ID,
			Status:    models.AssignmentAssigned,
		})
		if err != nil {
			return nil, err
		}
		if created {
			s.Metrics.MissionAssigned("catalog", d.String())
			s.Log.WithFields(logrus.Fields{
				"user_id":    userID,
				"mission_id": m.ID,
			}).Debug("catalog mission assigned")
			return m, nil
		}
	}
	return nil, nil
}

func (s *MissionService) generate(ctx context.Context, userID string, city models.City, d models.Difficulty) (*models.Mission, error) {
	excluded, err := s.Store.UsedTargetNames(ctx, userID)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.Start(ctx, "generator.generate")
	started := time.Now()
	content, err := s.Generator.Generate(ctx, city, d, excluded)
	s.Metrics.ObserveGenerator(time.Since(started).Seconds())
	telemetry.End(span, err)
	if err != nil {
		s.Metrics.GeneratorFailed("error")
		s.Log.WithError(err).WithField("city_id", city.ID).Warn("content generator failed")
		return nil, apperr.Wrap(apperr.GenerationFailed, "mission generation failed", err)
	}
	if content == nil {
		s.Metrics.GeneratorFailed("empty")
		return nil, apperr.New(apperr.GenerationFailed, "generator returned no mission")
	}
	if err := validateContent(*content); err != nil {
		s.Metrics.GeneratorFailed("invalid")
		return nil, err
	}

	return s.Store.InsertMission(ctx, newMission(city.ID, d, *content))
}

// ListUserMissions returns the user's missions, optionally filtered by status.
// Lore is only included for completed missions.
func (s *MissionService) ListUserMissions(ctx context.Context, userID string, status string) ([]UserMissionView, error) {
	var filter models.AssignmentStatus
	if status != "" {
		filter = models.AssignmentStatus(status)
		if filter != models.AssignmentAssigned && !filter.Terminal() {
			return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown status %q", status))
		}
	}
	rows, err := s.Store.ListAssignments(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	out := make([]UserMissionView, 0, len(rows))
	for _, r := range rows {
		out = append(out, userMissionView(r.Assignment, r.Mission))
	}
	return out, nil
}

// GetMission returns one of the user's missions.
func (s *MissionService) GetMission(ctx context.Context, userID, missionID string) (*UserMissionView, error) {
	a, err := s.Store.GetAssignment(ctx, userID, missionID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.NotFound {
			return nil, apperr.New(apperr.NotFound, "mission not found")
		}
		return nil, err
	}
	m, err := s.Store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	v := userMissionView(*a, *m)
	return &v, nil
}

// UserMissionView is a mission as seen by one user.
type UserMissionView struct {
	models.MissionView
	Status      models.AssignmentStatus `json:"status"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	ImageURL    string                  `json:"image_url,omitempty"`
	AssignedAt  time.Time               `json:"assigned_at"`
}

func userMissionView(a models.UserMissionAssignment, m models.Mission) UserMissionView {
	return UserMissionView{
		MissionView: m.View(a.Status == models.AssignmentCompleted),
		Status:      a.Status,
		CompletedAt: a.CompletedAt,
		ImageURL:    a.ImageURL,
		AssignedAt:  a.CreatedAt,
	}
}

func viewOf(m *models.Mission) *models.MissionView {
	if m == nil {
		return nil
	}
	v := m.View(false)
	return &v
}

func generationKey(cityID uint, d models.Difficulty) string {
	return fmt.Sprintf("gen:%d:%d", cityID, d)
}

func validateContent(c models.MissionContent) error {
	if err := validate.Struct(c); err != nil {
		return apperr.Wrap(apperr.GenerationFailed, "generator returned an incomplete mission", err)
	}
	return nil
}

func newMission(cityID uint, d models.Difficulty, c models.MissionContent) *models.Mission {
	return &models.Mission{
		CityID:           cityID,
		Difficulty:       d,
		Title:            c.Title,
		Description:      c.Description,
		Keywords:         c.Keywords,
		TargetObjectName: c.TargetObjectName,
		LoreText:         c.LoreText,
		Fingerprint:      models.MissionFingerprint(cityID, d, c.Title, c.TargetObjectName),
	}
}
