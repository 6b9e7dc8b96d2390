package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"travel-missions/apperr"
	"travel-missions/metrics"
	"travel-missions/models"
	"travel-missions/store"
	"travel-missions/telemetry"
)

const (
	MaxChallengeMissions = 10
	maxChallengeTitle    = 120

	inviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	inviteCodeLength   = 8
	inviteCodeAttempts = 5
)

// ChallengeService coordinates group challenges: membership, the shared
// mission pool and the claim/release/complete races over it.
type ChallengeService struct {
	Store         store.Store
	Generator     ContentGenerator
	Images        *ImageChecker
	Achievements  *AchievementService
	Log           *logrus.Entry
	Metrics       *metrics.Metrics
	Now           func() time.Time
	NewInviteCode func() (string, error)
}

func NewChallengeService(st store.Store, gen ContentGenerator, images *ImageChecker, achievements *AchievementService, log *logrus.Entry, m *metrics.Metrics) *ChallengeService {
	return &ChallengeService{
		Store:         st,
		Generator:     gen,
		Images:        images,
		Achievements:  achievements,
		Log:           log,
		Metrics:       m,
		Now:           func() time.Time { return time.Now().UTC() },
		NewInviteCode: randomInviteCode,
	}
}

// ChallengeMissionView is a linked mission with its shared claim state.
type ChallengeMissionView struct {
	models.MissionView
	Status      models.GroupMissionState `json:"status"`
	ClaimedBy   string                   `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time               `json:"claimed_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	ImageURL    string                   `json:"image_url,omitempty"`
}

// ChallengeMissions is the challenge board: every linked mission plus tallies.
type ChallengeMissions struct {
	ChallengeID    string                 `json:"challenge_id"`
	CompletedCount int                    `json:"completed_count"`
	TotalCount     int                    `json:"total_count"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	Missions       []ChallengeMissionView `json:"missions"`
}

// GroupCompletionResult is the outcome of completing a group mission.
type GroupCompletionResult struct {
	Mission              ChallengeMissionView `json:"mission"`
	PointsAwarded        int64                `json:"points_awarded"`
	Achievements         []models.Achievement `json:"achievements"`
	AchievementPoints    int64                `json:"achievement_points"`
	CompletedCount       int64                `json:"completed_count"`
	TotalCount           int64                `json:"total_count"`
	ChallengeCompletedAt *time.Time           `json:"challenge_completed_at,omitempty"`
	AlreadyApplied       bool                 `json:"already_applied"`
}

// CreateChallenge creates a challenge with userID as its first member.
// Non-solo challenges get an invite code.
func (s *ChallengeService) CreateChallenge(ctx context.Context, userID, title string, isSolo bool, cityID *uint) (*models.GroupChallenge, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > maxChallengeTitle {
		return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("title must be 1..%d characters", maxChallengeTitle))
	}
	if cityID != nil {
		if _, err := s.Store.GetCity(ctx, *cityID); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		ch := &models.GroupChallenge{
			Title:     title,
			CreatedBy: userID,
			IsSolo:    isSolo,
			CityID:    cityID,
		}
		if !isSolo {
			code, err := s.NewInviteCode()
			if err != nil {
				return nil, err
			}
			ch.InviteCode = &code
		}
		err := s.Store.CreateChallenge(ctx, ch)
		if errors.Is(err, store.ErrInviteCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.Log.WithFields(logrus.Fields{"challenge_id": ch.ID, "user_id": userID, "solo": isSolo}).Info("🏁 challenge created")
		return ch, nil
	}
	return nil, fmt.Errorf("could not allocate a unique invite code after %d attempts", inviteCodeAttempts)
}

// JoinChallenge adds userID to the challenge behind inviteCode. Joining twice
// is a no-op.
func (s *ChallengeService) JoinChallenge(ctx context.Context, userID, inviteCode string) (*models.GroupChallenge, error) {
	code := strings.ToUpper(strings.TrimSpace(inviteCode))
	if code == "" {
		return nil, apperr.New(apperr.InvalidArgument, "invite code is required")
	}
	ch, err := s.Store.GetChallengeByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	added, err := s.Store.AddMember(ctx, ch.ID, userID)
	if err != nil {
		return nil, err
	}
	if added {
		s.Log.WithFields(logrus.Fields{"challenge_id": ch.ID, "user_id": userID}).Info("👥 member joined challenge")
	}
	return ch, nil
}

// LeaveChallenge removes a member and frees their active claims. The creator
// cannot leave.
func (s *ChallengeService) LeaveChallenge(ctx context.Context, userID, challengeID string) error {
	ch, err := s.requireMember(ctx, challengeID, userID)
	if err != nil {
		return err
	}
	if ch.CreatedBy == userID {
		return apperr.New(apperr.Forbidden, "the creator cannot leave the challenge")
	}
	if _, err := s.Store.RemoveMember(ctx, challengeID, userID); err != nil {
		return err
	}
	s.Log.WithFields(logrus.Fields{"challenge_id": challengeID, "user_id": userID}).Info("👋 member left challenge")
	return nil
}

// GetChallenge returns a challenge the user belongs to.
func (s *ChallengeService) GetChallenge(ctx context.Context, userID, challengeID string) (*models.GroupChallenge, error) {
	return s.requireMember(ctx, challengeID, userID)
}

func (s *ChallengeService) ListUserChallenges(ctx context.Context, userID string) ([]models.GroupChallenge, error) {
	return s.Store.ListUserChallenges(ctx, userID)
}

// GenerateMissionsForChallenge asks the generator for quantity missions in
// cityID and links them to the challenge as available. The batch is all or
// nothing: it fails with GenerationFailed unless quantity distinct new
// missions come back. A completed challenge takes no more missions.
func (s *ChallengeService) GenerateMissionsForChallenge(ctx context.Context, userID, challengeID string, cityID uint, quantity int) ([]models.MissionView, error) {
	ch, err := s.requireMember(ctx, challengeID, userID)
	if err != nil {
		return nil, err
	}
	if ch.CompletedAt != nil {
		return nil, store.ErrChallengeCompleted
	}
	if quantity < 1 || quantity > MaxChallengeMissions {
		return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("quantity must be between 1 and %d", MaxChallengeMissions))
	}
	city, err := s.Store.GetCity(ctx, cityID)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.Start(ctx, "generator.generate_batch")
	started := time.Now()
	items, err := s.Generator.GenerateBatch(ctx, *city, quantity)
	s.Metrics.ObserveGenerator(time.Since(started).Seconds())
	telemetry.End(span, err)
	if err != nil {
		s.Metrics.GeneratorFailed("error")
		s.Log.WithError(err).WithField("challenge_id", challengeID).Warn("batch generation failed")
		return nil, apperr.Wrap(apperr.GenerationFailed, "mission generation failed", err)
	}
	if len(items) == 0 {
		s.Metrics.GeneratorFailed("empty")
		return nil, apperr.New(apperr.GenerationFailed, "generator returned no missions")
	}
	missions := make([]models.Mission, 0, quantity)
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if len(missions) == quantity {
			break
		}
		if err := validateContent(item); err != nil {
			s.Metrics.GeneratorFailed("invalid")
			return nil, err
		}
		m := newMission(city.ID, s.batchDifficulty(item.Difficulty), item)
		if seen[m.Fingerprint] {
			continue
		}
		seen[m.Fingerprint] = true
		missions = append(missions, *m)
	}
	if len(missions) < quantity {
		s.Metrics.GeneratorFailed("short")
		s.Log.WithFields(logrus.Fields{
			"challenge_id": challengeID,
			"wanted":       quantity,
			"distinct":     len(missions),
		}).Warn("batch generation came back short")
		return nil, apperr.New(apperr.GenerationFailed,
			fmt.Sprintf("generator returned %d distinct missions, %d requested", len(missions), quantity))
	}

	stored, err := s.Store.AddChallengeMissions(ctx, challengeID, missions)
	if errors.Is(err, store.ErrMissionAlreadyLinked) {
		s.Metrics.GeneratorFailed("duplicate")
		return nil, apperr.Wrap(apperr.GenerationFailed, "generator repeated a mission already in the challenge", err)
	}
	if err != nil {
		return nil, err
	}
	out := make([]models.MissionView, 0, len(stored))
	for _, m := range stored {
		out = append(out, m.View(false))
	}
	s.Log.WithFields(logrus.Fields{"challenge_id": challengeID, "count": len(out)}).Info("🗺️ challenge missions generated")
	return out, nil
}

// batchDifficulty reads the tier label of a batch item, defaulting to medium.
func (s *ChallengeService) batchDifficulty(label string) models.Difficulty {
	if label == "" {
		return models.DifficultyMedium
	}
	d, err := models.ParseDifficulty(label)
	if err != nil {
		s.Log.WithField("difficulty", label).Debug("unknown batch difficulty, using medium")
		return models.DifficultyMedium
	}
	return d
}

// ClaimMission gives userID the exclusive claim on a challenge mission. Exactly
// one of any number of concurrent claimers wins; the others get AlreadyClaimed.
func (s *ChallengeService) ClaimMission(ctx context.Context, challengeID, missionID, userID string) (*ChallengeMissionView, error) {
	if _, err := s.requireMember(ctx, challengeID, userID); err != nil {
		return nil, err
	}
	st, err := s.Store.GetGroupMissionStatus(ctx, challengeID, missionID)
	if err != nil {
		return nil, err
	}
	if st.Status == models.GroupMissionAssigned && st.ClaimantID() == userID {
		return s.missionView(ctx, *st, userID)
	}

	won, err := s.Store.ClaimGroupMission(ctx, challengeID, missionID, userID, s.Now())
	if err != nil {
		return nil, err
	}
	st, err = s.Store.GetGroupMissionStatus(ctx, challengeID, missionID)
	if err != nil {
		return nil, err
	}
	if !won && !(st.Status == models.GroupMissionAssigned && st.ClaimantID() == userID) {
		s.Metrics.Claim("lost")
		return nil, apperr.New(apperr.AlreadyClaimed, "mission is already claimed")
	}
	s.Metrics.Claim("won")
	s.Log.WithFields(logrus.Fields{"challenge_id": challengeID, "mission_id": missionID, "user_id": userID}).Info("🙋 group mission claimed")
	return s.missionView(ctx, *st, userID)
}

// ReleaseMission returns a claimed mission to the pool. Only the claimant may
// release it.
func (s *ChallengeService) ReleaseMission(ctx context.Context, challengeID, missionID, userID string) (*ChallengeMissionView, error) {
	if _, err := s.requireMember(ctx, challengeID, userID); err != nil {
		return nil, err
	}
	st, err := s.Store.GetGroupMissionStatus(ctx, challengeID, missionID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.GroupMissionAssigned || st.ClaimantID() != userID {
		return nil, apperr.New(apperr.Forbidden, "only the current claimant can release the mission")
	}
	released, err := s.Store.ReleaseGroupMission(ctx, challengeID, missionID, userID)
	if err != nil {
		return nil, err
	}
	if !released {
		return nil, apperr.New(apperr.Forbidden, "only the current claimant can release the mission")
	}
	s.Metrics.Transition("group", string(models.GroupMissionAvailable), "applied")
	st, err = s.Store.GetGroupMissionStatus(ctx, challengeID, missionID)
	if err != nil {
		return nil, err
	}
	return s.missionView(ctx, *st, userID)
}

// CompleteMission completes a claimed mission with the same image check as an
// individual completion, awards tier points, and stamps the challenge once
// every linked mission is done.
func (s *ChallengeService) CompleteMission(ctx context.Context, challengeID, missionID, userID string, payload CompletionPayload) (*GroupCompletionResult, error) {
	if _, err := s.requireMember(ctx, challengeID, userID); err != nil {
		return nil, err
	}
	st, err := s.Store.GetGroupMissionStatus(ctx, challengeID, missionID)
	if err != nil {
		return nil, err
	}
	if st.Status == models.GroupMissionCompleted && st.ClaimantID() == userID {
		return s.alreadyCompleted(ctx, *st, userID)
	}
	if st.Status != models.GroupMissionAssigned || st.ClaimantID() != userID {
		return nil, apperr.New(apperr.Forbidden, "only the current claimant can complete the mission")
	}

	m, err := s.Store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	imageURL, err := s.Images.Check(ctx, payload, m.Keywords)
	if err != nil {
		s.Metrics.Transition("group", string(models.GroupMissionCompleted), "rejected")
		return nil, err
	}

	points := m.Difficulty.Points()
	tally, err := s.Store.CompleteGroupMission(ctx, challengeID, missionID, userID, completionTime(payload, s.Now()), imageURL, points)
	if err != nil {
		return nil, err
	}
	st, err = s.Store.GetGroupMissionStatus(ctx, challengeID, missionID)
	if err != nil {
		return nil, err
	}
	if !tally.Applied {
		if st.Status == models.GroupMissionCompleted && st.ClaimantID() == userID {
			return s.alreadyCompleted(ctx, *st, userID)
		}
		return nil, apperr.New(apperr.Forbidden, "only the current claimant can complete the mission")
	}

	s.Metrics.Transition("group", string(models.GroupMissionCompleted), "applied")
	s.Log.WithFields(logrus.Fields{
		"challenge_id": challengeID,
		"mission_id":   missionID,
		"user_id":      userID,
		"points":       points,
		"progress":     fmt.Sprintf("%d/%d", tally.CompletedCount, tally.TotalCount),
	}).Info("✅ group mission completed")

	view := s.view(*m, *st, userID)
	res := &GroupCompletionResult{
		Mission:              view,
		PointsAwarded:        points,
		Achievements:         []models.Achievement{},
		CompletedCount:       tally.CompletedCount,
		TotalCount:           tally.TotalCount,
		ChallengeCompletedAt: tally.ChallengeCompletedAt,
	}

	granted, err := s.Achievements.Evaluate(ctx, userID)
	if err != nil {
		s.Log.WithError(err).WithField("user_id", userID).Warn("achievement evaluation failed after group completion")
	} else {
		res.Achievements = granted.Granted
		res.AchievementPoints = granted.PointsAwarded
	}
	return res, nil
}

func (s *ChallengeService) alreadyCompleted(ctx context.Context, st models.GroupMissionStatus, userID string) (*GroupCompletionResult, error) {
	board, err := s.board(ctx, st.ChallengeID, userID)
	if err != nil {
		return nil, err
	}
	view, err := s.missionView(ctx, st, userID)
	if err != nil {
		return nil, err
	}
	return &GroupCompletionResult{
		Mission:              *view,
		Achievements:         []models.Achievement{},
		CompletedCount:       int64(board.CompletedCount),
		TotalCount:           int64(board.TotalCount),
		ChallengeCompletedAt: board.CompletedAt,
		AlreadyApplied:       true,
	}, nil
}

// GetMissionsWithStatus returns the challenge board.
func (s *ChallengeService) GetMissionsWithStatus(ctx context.Context, userID, challengeID string) (*ChallengeMissions, error) {
	if _, err := s.requireMember(ctx, challengeID, userID); err != nil {
		return nil, err
	}
	return s.board(ctx, challengeID, userID)
}

func (s *ChallengeService) board(ctx context.Context, challengeID, viewerID string) (*ChallengeMissions, error) {
	ch, err := s.Store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	rows, err := s.Store.ListChallengeMissions(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	out := &ChallengeMissions{
		ChallengeID: challengeID,
		TotalCount:  len(rows),
		CompletedAt: ch.CompletedAt,
		Missions:    make([]ChallengeMissionView, 0, len(rows)),
	}
	for _, r := range rows {
		if r.Status.Status == models.GroupMissionCompleted {
			out.CompletedCount++
		}
		out.Missions = append(out.Missions, s.view(r.Mission, r.Status, viewerID))
	}
	return out, nil
}

func (s *ChallengeService) missionView(ctx context.Context, st models.GroupMissionStatus, viewerID string) (*ChallengeMissionView, error) {
	m, err := s.Store.GetMission(ctx, st.MissionID)
	if err != nil {
		return nil, err
	}
	v := s.view(*m, st, viewerID)
	return &v, nil
}

// view withholds lore unless the viewer completed the mission.
func (s *ChallengeService) view(m models.Mission, st models.GroupMissionStatus, viewerID string) ChallengeMissionView {
	unlocked := st.Status == models.GroupMissionCompleted && st.ClaimantID() == viewerID
	return ChallengeMissionView{
		MissionView: m.View(unlocked),
		Status:      st.Status,
		ClaimedBy:   st.ClaimantID(),
		ClaimedAt:   st.ClaimedAt,
		CompletedAt: st.CompletedAt,
		ImageURL:    st.ImageURL,
	}
}

func (s *ChallengeService) requireMember(ctx context.Context, challengeID, userID string) (*models.GroupChallenge, error) {
	ch, err := s.Store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	ok, err := s.Store.IsMember(ctx, challengeID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.Forbidden, "not a member of this challenge")
	}
	return ch, nil
}

func randomInviteCode() (string, error) {
	alphabetSize := big.NewInt(int64(len(inviteCodeAlphabet)))
	var b strings.Builder
	for i := 0; i < inviteCodeLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		b.WriteByte(inviteCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
