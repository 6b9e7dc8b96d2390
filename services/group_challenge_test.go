package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-missions/apperr"
	"travel-missions/models"
	"travel-missions/store"
)

// groupFixture creates a challenge owned by alice, joined by members, with n
// generated missions.
func groupFixture(t *testing.T, env *testEnv, n int, members ...string) (*models.GroupChallenge, []models.MissionView) {
	t.Helper()
	ctx := context.Background()
	ch, err := env.challenges.CreateChallenge(ctx, "alice", "Weekend in Madrid", false, nil)
	require.NoError(t, err)
	for _, u := range members {
		_, err := env.challenges.JoinChallenge(ctx, u, *ch.InviteCode)
		require.NoError(t, err)
	}
	missions, err := env.challenges.GenerateMissionsForChallenge(ctx, "alice", ch.ID, madridID, n)
	require.NoError(t, err)
	require.Len(t, missions, n)
	return ch, missions
}

func TestCreateChallengeInviteCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	group, err := env.challenges.CreateChallenge(ctx, "alice", "Group", false, nil)
	require.NoError(t, err)
	require.NotNil(t, group.InviteCode)
	assert.Len(t, *group.InviteCode, inviteCodeLength)

	solo, err := env.challenges.CreateChallenge(ctx, "alice", "Solo", true, nil)
	require.NoError(t, err)
	assert.Nil(t, solo.InviteCode)

	isMember, err := env.store.IsMember(ctx, solo.ID, "alice")
	require.NoError(t, err)
	assert.True(t, isMember)

	_, err = env.challenges.CreateChallenge(ctx, "alice", "  ", false, nil)
	assert.Equal(t, apperr.InvalidArgument, apperr.CodeOf(err))

	badCity := uint(404)
	_, err = env.challenges.CreateChallenge(ctx, "alice", "Nowhere", false, &badCity)
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
}

func TestCreateChallengeRetriesInviteCodeCollision(t *testing.T) {
	env := newTestEnv(t)
	codes := []string{"AAAA2222", "AAAA2222", "BBBB3333"}
	env.challenges.NewInviteCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	first, err := env.challenges.CreateChallenge(context.Background(), "alice", "One", false, nil)
	require.NoError(t, err)
	second, err := env.challenges.CreateChallenge(context.Background(), "bob", "Two", false, nil)
	require.NoError(t, err)

	assert.Equal(t, "AAAA2222", *first.InviteCode)
	assert.Equal(t, "BBBB3333", *second.InviteCode)
}

func TestJoinChallengeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ch, err := env.challenges.CreateChallenge(ctx, "alice", "Group", false, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		joined, err := env.challenges.JoinChallenge(ctx, "bob", " "+*ch.InviteCode+" ")
		require.NoError(t, err)
		assert.Equal(t, ch.ID, joined.ID)
	}
	list, err := env.challenges.ListUserChallenges(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = env.challenges.JoinChallenge(ctx, "bob", "ZZZZZZZZ")
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
}

func TestExclusiveClaimUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	const claimers = 20
	members := make([]string, claimers)
	for i := range members {
		members[i] = fmt.Sprintf("member-%02d", i)
	}
	ch, missions := groupFixture(t, env, 1, members...)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, losses := 0, 0
	for _, u := range members {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, err := env.challenges.ClaimMission(context.Background(), ch.ID, missions[0].ID, u)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.CodeOf(err) == apperr.AlreadyClaimed:
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, claimers-1, losses)
}

func TestClaimReleaseCompleteAreClaimantOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ch, missions := groupFixture(t, env, 1, "bob")
	mid := missions[0].ID

	_, err := env.challenges.ClaimMission(ctx, ch.ID, mid, "mallory")
	assert.Equal(t, apperr.Forbidden, apperr.CodeOf(err), "non-members cannot claim")

	claimed, err := env.challenges.ClaimMission(ctx, ch.ID, mid, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.GroupMissionAssigned, claimed.Status)
	assert.Equal(t, "bob", claimed.ClaimedBy)

	_, err = env.challenges.ClaimMission(ctx, ch.ID, mid, "bob")
	assert.NoError(t, err, "re-claiming your own mission is a no-op")

	_, err = env.challenges.ReleaseMission(ctx, ch.ID, mid, "alice")
	assert.Equal(t, apperr.Forbidden, apperr.CodeOf(err))
	_, err = env.challenges.CompleteMission(ctx, ch.ID, mid, "alice", photo)
	assert.Equal(t, apperr.Forbidden, apperr.CodeOf(err))

	released, err := env.challenges.ReleaseMission(ctx, ch.ID, mid, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.GroupMissionAvailable, released.Status)
	assert.Empty(t, released.ClaimedBy)

	_, err = env.challenges.ClaimMission(ctx, ch.ID, mid, "alice")
	require.NoError(t, err)
	_, err = env.challenges.ClaimMission(ctx, ch.ID, mid, "bob")
	assert.Equal(t, apperr.AlreadyClaimed, apperr.CodeOf(err))

	_, err = env.challenges.ClaimMission(ctx, ch.ID, "unlinked", "bob")
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
}

func TestChallengeCompletesWhenEveryMissionIsDone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ch, missions := groupFixture(t, env, 3, "bob", "carol")

	complete := func(user, missionID string) *GroupCompletionResult {
		_, err := env.challenges.ClaimMission(ctx, ch.ID, missionID, user)
		require.NoError(t, err)
		res, err := env.challenges.CompleteMission(ctx, ch.ID, missionID, user, photo)
		require.NoError(t, err)
		return res
	}

	complete("bob", missions[0].ID)
	second := complete("carol", missions[1].ID)
	assert.Equal(t, int64(2), second.CompletedCount)
	assert.Equal(t, int64(3), second.TotalCount)
	assert.Nil(t, second.ChallengeCompletedAt)

	board, err := env.challenges.GetMissionsWithStatus(ctx, "alice", ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, board.CompletedCount)
	assert.Equal(t, 3, board.TotalCount)
	assert.Nil(t, board.CompletedAt)
	statuses := map[models.GroupMissionState]int{}
	for _, m := range board.Missions {
		statuses[m.Status]++
	}
	assert.Equal(t, 2, statuses[models.GroupMissionCompleted])
	assert.Equal(t, 1, statuses[models.GroupMissionAvailable])
	assert.Equal(t, "bob", board.Missions[0].ClaimedBy)
	assert.Empty(t, board.Missions[0].LoreText, "lore stays hidden from members who did not complete it")

	third := complete("alice", missions[2].ID)
	assert.Equal(t, int64(3), third.CompletedCount)
	require.NotNil(t, third.ChallengeCompletedAt)

	ch2, err := env.challenges.GetChallenge(ctx, "bob", ch.ID)
	require.NoError(t, err)
	assert.NotNil(t, ch2.CompletedAt)
}

func TestCompletedChallengeTakesNoMoreMissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ch, missions := groupFixture(t, env, 1, "bob")

	_, err := env.challenges.ClaimMission(ctx, ch.ID, missions[0].ID, "bob")
	require.NoError(t, err)
	res, err := env.challenges.CompleteMission(ctx, ch.ID, missions[0].ID, "bob", photo)
	require.NoError(t, err)
	require.NotNil(t, res.ChallengeCompletedAt)
	calls := env.gen.batchCalls

	_, err = env.challenges.GenerateMissionsForChallenge(ctx, "alice", ch.ID, madridID, 2)
	assert.Equal(t, apperr.InvalidTransition, apperr.CodeOf(err))
	assert.Equal(t, calls, env.gen.batchCalls, "the generator is not called for a completed challenge")

	// The store enforces it too, for a completion that lands between the
	// membership check and the insert.
	_, err = env.store.AddChallengeMissions(ctx, ch.ID, []models.Mission{*newMission(madridID, models.DifficultyEasy, sampleContent("Late"))})
	assert.ErrorIs(t, err, store.ErrChallengeCompleted)

	board, err := env.challenges.GetMissionsWithStatus(ctx, "alice", ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, board.TotalCount)
	assert.Equal(t, 1, board.CompletedCount)
	assert.NotNil(t, board.CompletedAt)
}

func TestGenerateMissionsForChallengeNeedsDistinctMissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ch, err := env.challenges.CreateChallenge(ctx, "alice", "Group", false, nil)
	require.NoError(t, err)

	same := sampleContent("Cibeles fountain")
	env.gen.batch = []models.MissionContent{same, same, same}
	_, err = env.challenges.GenerateMissionsForChallenge(ctx, "alice", ch.ID, madridID, 3)
	assert.Equal(t, apperr.GenerationFailed, apperr.CodeOf(err))

	env.gen.batch = []models.MissionContent{same}
	_, err = env.challenges.GenerateMissionsForChallenge(ctx, "alice", ch.ID, madridID, 2)
	assert.Equal(t, apperr.GenerationFailed, apperr.CodeOf(err), "a short batch is rejected")

	board, err := env.challenges.GetMissionsWithStatus(ctx, "alice", ch.ID)
	require.NoError(t, err)
	assert.Zero(t, board.TotalCount)

	linked, err := env.challenges.GenerateMissionsForChallenge(ctx, "alice", ch.ID, madridID, 1)
	require.NoError(t, err)
	require.Len(t, linked, 1)

	_, err = env.challenges.GenerateMissionsForChallenge(ctx, "alice", ch.ID, madridID, 1)
	assert.Equal(t, apperr.GenerationFailed, apperr.CodeOf(err), "a mission already in the pool is not linked twice")

	board, err = env.challenges.GetMissionsWithStatus(ctx, "alice", ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, board.TotalCount)
	assert.Equal(t, linked[0].ID, board.Missions[0].ID)

	env.gen.batch = []models.MissionContent{sampleContent("Retiro"), sampleContent("Retiro"), sampleContent("Prado"), sampleContent("Sol")}
	more, err := env.challenges.GenerateMissionsForChallenge(ctx, "alice", ch.ID, madridID, 2)
	require.NoError(t, err)
	require.Len(t, more, 2)
	assert.Equal(t, "Retiro", more[0].TargetObjectName)
	assert.Equal(t, "Prado", more[1].TargetObjectName)

	board, err = env.challenges.GetMissionsWithStatus(ctx, "alice", ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, board.TotalCount)
}

func TestGroupCompletionAwardsTierPointsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ch, missions := groupFixture(t, env, 1, "bob")
	mid := missions[0].ID

	m, err := env.store.GetMission(ctx, mid)
	require.NoError(t, err)

	_, err = env.challenges.ClaimMission(ctx, ch.ID, mid, "bob")
	require.NoError(t, err)
	first, err := env.challenges.CompleteMission(ctx, ch.ID, mid, "bob", photo)
	require.NoError(t, err)
	assert.Equal(t, m.Difficulty.Points(), first.PointsAwarded)
	assert.NotEmpty(t, first.Mission.LoreText)

	again, err := env.challenges.CompleteMission(ctx, ch.ID, mid, "bob", photo)
	require.NoError(t, err)
	assert.True(t, again.AlreadyApplied)
	assert.Equal(t, m.Difficulty.Points(), env.score(t, "bob"))

	_, err = env.challenges.ClaimMission(ctx, ch.ID, mid, "alice")
	assert.Equal(t, apperr.AlreadyClaimed, apperr.CodeOf(err), "completed missions cannot be claimed")
}

func TestGroupCompletionCountsTowardAchievements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, models.Achievement{Code: "FIRST_MISSION", Name: "First", ConditionType: models.ConditionFirstMission, Points: 10})
	ch, missions := groupFixture(t, env, 1, "bob")

	_, err := env.challenges.ClaimMission(ctx, ch.ID, missions[0].ID, "bob")
	require.NoError(t, err)
	res, err := env.challenges.CompleteMission(ctx, ch.ID, missions[0].ID, "bob", photo)
	require.NoError(t, err)

	require.Len(t, res.Achievements, 1)
	assert.Equal(t, "FIRST_MISSION", res.Achievements[0].Code)
}

func TestGenerateMissionsForChallengeValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ch, err := env.challenges.CreateChallenge(ctx, "alice", "Group", false, nil)
	require.NoError(t, err)

	for _, q := range []int{0, MaxChallengeMissions + 1} {
		_, err := env.challenges.GenerateMissionsForChallenge(ctx, "alice", ch.ID, madridID, q)
		assert.Equal(t, apperr.InvalidArgument, apperr.CodeOf(err), "quantity %d", q)
	}

	_, err = env.challenges.GenerateMissionsForChallenge(ctx, "bob", ch.ID, madridID, 2)
	assert.Equal(t, apperr.Forbidden, apperr.CodeOf(err))

	bad := sampleContent("Broken")
	bad.TargetObjectName = ""
	env.gen.batch = []models.MissionContent{sampleContent("Fine"), bad}
	_, err = env.challenges.GenerateMissionsForChallenge(ctx, "alice", ch.ID, madridID, 2)
	assert.Equal(t, apperr.GenerationFailed, apperr.CodeOf(err))

	board, err := env.challenges.GetMissionsWithStatus(ctx, "alice", ch.ID)
	require.NoError(t, err)
	assert.Zero(t, board.TotalCount, "a rejected batch links nothing")
}

func TestGenerateMissionsForChallengeDifficulties(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ch, err := env.challenges.CreateChallenge(ctx, "alice", "Group", false, nil)
	require.NoError(t, err)

	noLabel := sampleContent("Unlabelled")
	hard := sampleContent("Labelled")
	hard.Difficulty = "Difícil"
	env.gen.batch = []models.MissionContent{noLabel, hard}

	missions, err := env.challenges.GenerateMissionsForChallenge(ctx, "alice", ch.ID, barcelonaID, 2)
	require.NoError(t, err)
	require.Len(t, missions, 2)
	assert.Equal(t, models.DifficultyMedium, missions[0].Difficulty)
	assert.Equal(t, models.DifficultyHard, missions[1].Difficulty)
	assert.Equal(t, barcelonaID, missions[1].CityID)
}

func TestLeaveChallengeReleasesClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ch, missions := groupFixture(t, env, 1, "bob")

	_, err := env.challenges.ClaimMission(ctx, ch.ID, missions[0].ID, "bob")
	require.NoError(t, err)

	assert.Equal(t, apperr.Forbidden, apperr.CodeOf(env.challenges.LeaveChallenge(ctx, "alice", ch.ID)))
	require.NoError(t, env.challenges.LeaveChallenge(ctx, "bob", ch.ID))

	st, err := env.store.GetGroupMissionStatus(ctx, ch.ID, missions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupMissionAvailable, st.Status)

	_, err = env.challenges.GetMissionsWithStatus(ctx, "bob", ch.ID)
	assert.Equal(t, apperr.Forbidden, apperr.CodeOf(err))
}
