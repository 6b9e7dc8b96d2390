package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-missions/apperr"
	"travel-missions/models"
)

func TestCompleteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.assign(t, "alice", madridID, models.DifficultyEasy, "Fountain")

	first, err := env.lifecycle.Transition(ctx, "alice", m.ID, models.AssignmentCompleted, photo)
	require.NoError(t, err)
	assert.False(t, first.AlreadyApplied)
	assert.Equal(t, int64(10), first.PointsAwarded)
	assert.Equal(t, models.AssignmentCompleted, first.Mission.Status)
	assert.NotEmpty(t, first.Mission.LoreText)

	second, err := env.lifecycle.Transition(ctx, "alice", m.ID, models.AssignmentCompleted, photo)
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)
	assert.Zero(t, second.PointsAwarded)
	assert.Equal(t, models.AssignmentCompleted, second.Mission.Status)

	assert.Equal(t, int64(10), env.score(t, "alice"))
	assert.Equal(t, 1, env.validator.calls, "the repeat does not re-run the image check")
}

func TestCompletionPointsPerTier(t *testing.T) {
	cases := []struct {
		difficulty models.Difficulty
		points     int64
	}{
		{models.DifficultyEasy, 10},
		{models.DifficultyMedium, 20},
		{models.DifficultyHard, 30},
	}
	for _, tc := range cases {
		t.Run(tc.difficulty.String(), func(t *testing.T) {
			env := newTestEnv(t)
			m := env.assign(t, "alice", madridID, tc.difficulty, "Target")

			res, err := env.lifecycle.Transition(context.Background(), "alice", m.ID, models.AssignmentCompleted, photo)
			require.NoError(t, err)
			assert.Equal(t, tc.points, res.PointsAwarded)
			assert.Equal(t, tc.points, env.score(t, "alice"))
		})
	}
}

func TestHardCompletionGrantsHardMissionAchievement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, models.Achievement{
		Code:          "HARD_MISSION",
		Name:          "Daredevil",
		ConditionType: models.ConditionHardMission,
		Points:        50,
	})
	m := env.assign(t, "alice", madridID, models.DifficultyHard, "Cathedral")

	res, err := env.lifecycle.Transition(ctx, "alice", m.ID, models.AssignmentCompleted, photo)
	require.NoError(t, err)

	assert.Equal(t, int64(30), res.PointsAwarded)
	require.Len(t, res.Achievements, 1)
	assert.Equal(t, "HARD_MISSION", res.Achievements[0].Code)
	assert.Equal(t, int64(50), res.AchievementPoints)
	assert.Equal(t, int64(80), env.score(t, "alice"))

	again, err := env.achievements.Evaluate(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, again.Granted)
	assert.Equal(t, int64(80), env.score(t, "alice"))

	grants, err := env.store.ListUserAchievements(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestEvaluatorFailureDoesNotUndoCompletion(t *testing.T) {
	env := newTestEnv(t)
	logger, hook := logtest.NewNullLogger()
	log := logrus.NewEntry(logger)

	broken := NewAchievementService(brokenAchievements{Store: env.store}, log, nil)
	lifecycle := NewLifecycleService(env.store, env.images, broken, log, nil)
	m := env.assign(t, "alice", madridID, models.DifficultyMedium, "Bridge")

	res, err := lifecycle.Transition(context.Background(), "alice", m.ID, models.AssignmentCompleted, photo)
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.PointsAwarded)
	assert.Empty(t, res.Achievements)
	assert.Equal(t, int64(20), env.score(t, "alice"))

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "achievement evaluation failed after completion" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestCompleteRequiresValidImage(t *testing.T) {
	t.Run("validator rejects", func(t *testing.T) {
		env := newTestEnv(t)
		env.validator.ok = false
		m := env.assign(t, "alice", madridID, models.DifficultyEasy, "Fountain")

		_, err := env.lifecycle.Transition(context.Background(), "alice", m.ID, models.AssignmentCompleted, photo)
		assert.Equal(t, apperr.ValidationFailed, apperr.CodeOf(err))

		a, _ := env.store.GetAssignment(context.Background(), "alice", m.ID)
		assert.Equal(t, models.AssignmentAssigned, a.Status)
		assert.Zero(t, env.score(t, "alice"))
	})

	t.Run("validator errors", func(t *testing.T) {
		env := newTestEnv(t)
		env.validator.err = errors.New("labeler down")
		m := env.assign(t, "alice", madridID, models.DifficultyEasy, "Fountain")

		_, err := env.lifecycle.Transition(context.Background(), "alice", m.ID, models.AssignmentCompleted, photo)
		assert.Equal(t, apperr.ValidationFailed, apperr.CodeOf(err))
	})

	t.Run("no image", func(t *testing.T) {
		env := newTestEnv(t)
		m := env.assign(t, "alice", madridID, models.DifficultyEasy, "Fountain")

		_, err := env.lifecycle.Transition(context.Background(), "alice", m.ID, models.AssignmentCompleted, CompletionPayload{})
		assert.Equal(t, apperr.InvalidArgument, apperr.CodeOf(err))
	})

	t.Run("missing object", func(t *testing.T) {
		env := newTestEnv(t)
		m := env.assign(t, "alice", madridID, models.DifficultyEasy, "Fountain")

		_, err := env.lifecycle.Transition(context.Background(), "alice", m.ID, models.AssignmentCompleted,
			CompletionPayload{ImageKey: "missing.jpg"})
		assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
	})

	t.Run("keys without object storage", func(t *testing.T) {
		env := newTestEnv(t)
		env.images.Resolver = nil
		m := env.assign(t, "alice", madridID, models.DifficultyEasy, "Fountain")

		_, err := env.lifecycle.Transition(context.Background(), "alice", m.ID, models.AssignmentCompleted,
			CompletionPayload{ImageKey: "u/1.jpg"})
		assert.Equal(t, apperr.Unsupported, apperr.CodeOf(err))
	})
}

func TestCompleteStoresResolvedImageAndClientTime(t *testing.T) {
	env := newTestEnv(t)
	m := env.assign(t, "alice", madridID, models.DifficultyEasy, "Fountain")
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	res, err := env.lifecycle.Transition(context.Background(), "alice", m.ID, models.AssignmentCompleted,
		CompletionPayload{ImageKey: "completions/alice/1.jpg", CompletedAt: &at})
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example/completions/alice/1.jpg", res.Mission.ImageURL)
	require.NotNil(t, res.Mission.CompletedAt)
	assert.True(t, at.Equal(*res.Mission.CompletedAt))
}

func TestTransitionErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.lifecycle.Transition(ctx, "alice", "nope", models.AssignmentCompleted, photo)
	assert.Equal(t, apperr.NotAssigned, apperr.CodeOf(err))

	m := env.assign(t, "alice", madridID, models.DifficultyEasy, "Fountain")
	_, err = env.lifecycle.Transition(ctx, "alice", m.ID, models.AssignmentAssigned, photo)
	assert.Equal(t, apperr.InvalidArgument, apperr.CodeOf(err))

	_, err = env.lifecycle.Transition(ctx, "bob", m.ID, models.AssignmentDiscarded, CompletionPayload{})
	assert.Equal(t, apperr.NotAssigned, apperr.CodeOf(err))
}

func TestTerminalStatesAreFinal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	discarded := env.assign(t, "alice", madridID, models.DifficultyEasy, "A")
	completed := env.assign(t, "alice", madridID, models.DifficultyEasy, "B")

	_, err := env.lifecycle.Transition(ctx, "alice", discarded.ID, models.AssignmentDiscarded, CompletionPayload{})
	require.NoError(t, err)
	_, err = env.lifecycle.Transition(ctx, "alice", completed.ID, models.AssignmentCompleted, photo)
	require.NoError(t, err)

	again, err := env.lifecycle.Transition(ctx, "alice", discarded.ID, models.AssignmentDiscarded, CompletionPayload{})
	require.NoError(t, err)
	assert.True(t, again.AlreadyApplied)

	_, err = env.lifecycle.Transition(ctx, "alice", discarded.ID, models.AssignmentCompleted, photo)
	assert.Equal(t, apperr.InvalidTransition, apperr.CodeOf(err))

	_, err = env.lifecycle.Transition(ctx, "alice", completed.ID, models.AssignmentDiscarded, CompletionPayload{})
	assert.Equal(t, apperr.InvalidTransition, apperr.CodeOf(err))

	assert.Equal(t, int64(10), env.score(t, "alice"))
}
