package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"travel-missions/metrics"
	"travel-missions/models"
	"travel-missions/store"
	"travel-missions/telemetry"
)

// AchievementService evaluates the rule table against a user's history and
// grants each satisfied rule exactly once.
type AchievementService struct {
	Store   store.Store
	Log     *logrus.Entry
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewAchievementService(st store.Store, log *logrus.Entry, m *metrics.Metrics) *AchievementService {
	return &AchievementService{Store: st, Log: log, Metrics: m, Now: func() time.Time { return time.Now().UTC() }}
}

// EvaluationResult lists what one Evaluate call granted.
type EvaluationResult struct {
	Granted       []models.Achievement `json:"granted"`
	PointsAwarded int64                `json:"points_awarded"`
}

type decodedRule struct {
	def  models.Achievement
	rule Rule
}

// SeedDefaults upserts the built-in rule table by code.
func (s *AchievementService) SeedDefaults(ctx context.Context) error {
	if err := s.Store.UpsertAchievements(ctx, models.DefaultAchievements); err != nil {
		return err
	}
	s.Log.WithField("count", len(models.DefaultAchievements)).Info("🏅 achievement rules seeded")
	return nil
}

// Evaluate grants every rule the user now satisfies and does not hold yet.
// Grants raise the level, which can satisfy level rules, so evaluation runs
// until a pass grants nothing.
func (s *AchievementService) Evaluate(ctx context.Context, userID string) (res *EvaluationResult, err error) {
	ctx, span := telemetry.Start(ctx, "achievements.evaluate")
	defer func() { telemetry.End(span, err) }()

	defs, err := s.Store.ListAchievements(ctx)
	if err != nil {
		return nil, err
	}
	rules := s.decode(defs)

	grants, err := s.Store.ListUserAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]bool, len(grants))
	for _, g := range grants {
		held[g.AchievementID] = true
	}

	completed, err := s.Store.CompletedMissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap := Snapshot{Completed: completed}
	if needsCityCatalog(rules, held) {
		snap.CityMissions, err = s.Store.CityMissionIDs(ctx, snap.VisitedCities())
		if err != nil {
			return nil, err
		}
	}

	res = &EvaluationResult{Granted: []models.Achievement{}}
	for {
		profile, err := s.Store.GetProfile(ctx, userID)
		if err != nil {
			return nil, err
		}
		snap.Profile = *profile

		progressed := false
		for _, r := range rules {
			if held[r.def.ID] || !snap.Satisfies(r.rule) {
				continue
			}
			granted, err := s.Store.GrantAchievement(ctx, userID, r.def, s.Now())
			if err != nil {
				return nil, err
			}
			held[r.def.ID] = true
			if !granted {
				// A concurrent evaluation got there first.
				continue
			}
			progressed = true
			res.Granted = append(res.Granted, r.def)
			res.PointsAwarded += r.def.Points
			s.Metrics.AchievementGranted(r.def.Code)
			s.Log.WithFields(logrus.Fields{
				"user_id": userID,
				"code":    r.def.Code,
				"points":  r.def.Points,
			}).Info("🎖️ achievement granted")
		}
		if !progressed {
			return res, nil
		}
	}
}

func (s *AchievementService) decode(defs []models.Achievement) []decodedRule {
	out := make([]decodedRule, 0, len(defs))
	for _, def := range defs {
		rule, err := DecodeRule(def)
		if err != nil {
			s.Log.WithError(err).WithField("code", def.Code).Warn("skipping achievement rule")
			continue
		}
		out = append(out, decodedRule{def: def, rule: rule})
	}
	return out
}

func needsCityCatalog(rules []decodedRule, held map[string]bool) bool {
	for _, r := range rules {
		if _, ok := r.rule.(CityCompletionRule); ok && !held[r.def.ID] {
			return true
		}
	}
	return false
}

// ListAchievements returns every rule with the user's unlock state.
func (s *AchievementService) ListAchievements(ctx context.Context, userID string) ([]models.AchievementStatus, error) {
	defs, err := s.Store.ListAchievements(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := s.Store.ListUserAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	unlocked := make(map[string]time.Time, len(grants))
	for _, g := range grants {
		unlocked[g.AchievementID] = g.UnlockedAt
	}

	out := make([]models.AchievementStatus, 0, len(defs))
	for _, def := range defs {
		st := models.AchievementStatus{Achievement: def}
		if at, ok := unlocked[def.ID]; ok {
			at := at
			st.Unlocked = true
			st.UnlockedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}
