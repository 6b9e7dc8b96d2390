// Package workers runs the background jobs of the mission service.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"travel-missions/services"
	"travel-missions/store"
)

// Reconciler repairs state that a failed request can leave behind: challenges
// whose missions are all completed but were never stamped, and achievement
// evaluations swallowed after a completion.
type Reconciler struct {
	Store        store.Store
	Achievements *services.AchievementService
	Interval     time.Duration
	Log          *logrus.Entry
	Now          func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	sched   gocron.Scheduler
}

// Report summarises one reconciliation pass.
type Report struct {
	ChallengesStamped int64
	UsersEvaluated    int
	AchievementsGiven int
}

func NewReconciler(st store.Store, achievements *services.AchievementService, interval time.Duration, log *logrus.Entry) *Reconciler {
	return &Reconciler{
		Store:        st,
		Achievements: achievements,
		Interval:     interval,
		Log:          log,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules RunOnce every Interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(r.Interval),
		gocron.NewTask(func() {
			if _, err := r.RunOnce(ctx); err != nil {
				r.Log.WithError(err).Error("[Reconciler] pass failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	r.sched = sched
	sched.Start()
	r.Log.WithField("interval", r.Interval.String()).Info("🔁 reconciler started")

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			r.Log.WithError(err).Warn("[Reconciler] shutdown failed")
			return
		}
		r.Log.Info("⏹️ reconciler stopped")
	}()
	return nil
}

// RunOnce stamps finished challenges and re-evaluates achievements for every
// user with a completion committed since the previous pass, whatever
// completion time the client reported.
func (r *Reconciler) RunOnce(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	since := r.lastRun
	if since.IsZero() {
		since = now.Add(-r.Interval)
	}

	report := &Report{}
	stamped, err := r.Store.ReconcileChallenges(ctx, now)
	if err != nil {
		return nil, err
	}
	report.ChallengesStamped = stamped
	if stamped > 0 {
		r.Log.WithField("count", stamped).Info("🏁 [Reconciler] stamped completed challenges")
	}

	users, err := r.Store.UsersWithCompletionsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, userID := range users {
		res, err := r.Achievements.Evaluate(ctx, userID)
		if err != nil {
			r.Log.WithError(err).WithField("user_id", userID).Warn("[Reconciler] achievement evaluation failed")
			continue
		}
		report.UsersEvaluated++
		report.AchievementsGiven += len(res.Granted)
	}

	r.lastRun = now
	return report, nil
}
