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
)

// LifecycleService moves individual assignments from assigned to one of the
// terminal states.
type LifecycleService struct {
	Store        store.Store
	Images       *ImageChecker
	Achievements *AchievementService
	Log          *logrus.Entry
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

func NewLifecycleService(st store.Store, images *ImageChecker, achievements *AchievementService, log *logrus.Entry, m *metrics.Metrics) *LifecycleService {
	return &LifecycleService{
		Store:        st,
		Images:       images,
		Achievements: achievements,
		Log:          log,
		Metrics:      m,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

// TransitionResult is the outcome of a lifecycle transition.
type TransitionResult struct {
	Mission           UserMissionView      `json:"mission"`
	PointsAwarded     int64                `json:"points_awarded"`
	Achievements      []models.Achievement `json:"achievements"`
	AchievementPoints int64                `json:"achievement_points"`
	// AlreadyApplied is set when the assignment was already in the target
	// state and nothing changed.
	AlreadyApplied bool `json:"already_applied"`
}

// Transition applies target to the user's assignment of missionID.
// Re-submitting the state an assignment already rests in succeeds without
// effect; any other move out of a terminal state is InvalidTransition.
func (s *LifecycleService) Transition(ctx context.Context, userID, missionID string, target models.AssignmentStatus, payload CompletionPayload) (*TransitionResult, error) {
	if target != models.AssignmentCompleted && target != models.AssignmentDiscarded {
		return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("cannot transition to %q", target))
	}

	a, err := s.Store.GetAssignment(ctx, userID, missionID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.NotFound {
			return nil, apperr.New(apperr.NotAssigned, "mission is not assigned to the user")
		}
		return nil, err
	}
	m, err := s.Store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return s.settled(*a, *m, target)
	}

	switch target {
	case models.AssignmentDiscarded:
		return s.discard(ctx, userID, *m)
	default:
		return s.complete(ctx, userID, *m, payload)
	}
}

func (s *LifecycleService) discard(ctx context.Context, userID string, m models.Mission) (*TransitionResult, error) {
	changed, err := s.Store.DiscardAssignment(ctx, userID, m.ID)
	if err != nil {
		return nil, err
	}
	a, err := s.Store.GetAssignment(ctx, userID, m.ID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return s.settled(*a, m, models.AssignmentDiscarded)
	}
	s.Metrics.Transition("individual", string(models.AssignmentDiscarded), "applied")
	s.Log.WithFields(logrus.Fields{"user_id": userID, "mission_id": m.ID}).Info("🗑️ mission discarded")
	return &TransitionResult{Mission: userMissionView(*a, m), Achievements: []models.Achievement{}}, nil
}

func (s *LifecycleService) complete(ctx context.Context, userID string, m models.Mission, payload CompletionPayload) (*TransitionResult, error) {
	imageURL, err := s.Images.Check(ctx, payload, m.Keywords)
	if err != nil {
		s.Metrics.Transition("individual", string(models.AssignmentCompleted), "rejected")
		return nil, err
	}

	points := m.Difficulty.Points()
	at := completionTime(payload, s.Now())
	changed, err := s.Store.CompleteAssignment(ctx, userID, m.ID, at, imageURL, points)
	if err != nil {
		return nil, err
	}
	a, err := s.Store.GetAssignment(ctx, userID, m.ID)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Lost a race with a concurrent transition.
		return s.settled(*a, m, models.AssignmentCompleted)
	}

	s.Metrics.Transition("individual", string(models.AssignmentCompleted), "applied")
	s.Log.WithFields(logrus.Fields{
		"user_id":    userID,
		"mission_id": m.ID,
		"points":     points,
	}).Info("✅ mission completed")

	res := &TransitionResult{
		Mission:       userMissionView(*a, m),
		PointsAwarded: points,
		Achievements:  []models.Achievement{},
	}
	s.evaluateAfterCompletion(ctx, userID, res)
	return res, nil
}

// evaluateAfterCompletion runs the evaluator; a failure never undoes the
// completion that triggered it.
func (s *LifecycleService) evaluateAfterCompletion(ctx context.Context, userID string, res *TransitionResult) {
	granted, err := s.Achievements.Evaluate(ctx, userID)
	if err != nil {
		s.Log.WithError(err).WithField("user_id", userID).Warn("achievement evaluation failed after completion")
		return
	}
	res.Achievements = granted.Granted
	res.AchievementPoints = granted.PointsAwarded
}

func (s *LifecycleService) settled(a models.UserMissionAssignment, m models.Mission, target models.AssignmentStatus) (*TransitionResult, error) {
	if a.Status != target {
		s.Metrics.Transition("individual", string(target), "invalid")
		return nil, apperr.New(apperr.InvalidTransition,
			fmt.Sprintf("mission is already %s", a.Status))
	}
	s.Metrics.Transition("individual", string(target), "noop")
	return &TransitionResult{
		Mission:        userMissionView(a, m),
		Achievements:   []models.Achievement{},
		AlreadyApplied: true,
	}, nil
}
