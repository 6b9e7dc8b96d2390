package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-missions/apperr"
	"travel-missions/models"
)

func TestDecodeRule(t *testing.T) {
	cases := []struct {
		name string
		def  models.Achievement
		want Rule
	}{
		{"first mission", models.Achievement{ConditionType: models.ConditionFirstMission}, FirstMissionRule{}},
		{"n missions", models.Achievement{ConditionType: models.ConditionNMissions, ConditionValue: 10}, MissionCountRule{Count: 10}},
		{"n missions without value", models.Achievement{ConditionType: models.ConditionNMissions}, MissionCountRule{Count: 1}},
		{"cities", models.Achievement{ConditionType: models.ConditionVisitNCities, ConditionValue: 3}, VisitedCitiesRule{Count: 3}},
		{"level", models.Achievement{ConditionType: models.ConditionReachLevel, ConditionValue: 5}, ReachLevelRule{Level: 5}},
		{"hard", models.Achievement{ConditionType: models.ConditionHardMission}, DifficultyMissionRule{Difficulty: models.DifficultyHard, Count: 1}},
		{"city complete", models.Achievement{ConditionType: models.ConditionCityMissions}, CityCompletionRule{Cities: 1}},
		{"condition type wins over code", models.Achievement{Code: "MISSIONS_50", ConditionType: models.ConditionReachLevel, ConditionValue: 2}, ReachLevelRule{Level: 2}},
		{"legacy first mission", models.Achievement{Code: "FIRST_MISSION"}, FirstMissionRule{}},
		{"legacy missions", models.Achievement{Code: "MISSIONS_50"}, MissionCountRule{Count: 50}},
		{"legacy cities", models.Achievement{Code: "CITIES_3"}, VisitedCitiesRule{Count: 3}},
		{"legacy level", models.Achievement{Code: "LEVEL_5"}, ReachLevelRule{Level: 5}},
		{"legacy medium", models.Achievement{Code: "MEDIUM_MISSION"}, DifficultyMissionRule{Difficulty: models.DifficultyMedium, Count: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeRule(tc.def)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeRuleUnsupported(t *testing.T) {
	for _, def := range []models.Achievement{
		{Code: "NIGHT_OWL"},
		{Code: "MISSIONS_0"},
		{Code: "SUNSET", ConditionType: "PHOTO_AT_SUNSET"},
	} {
		_, err := DecodeRule(def)
		assert.Equal(t, apperr.Unsupported, apperr.CodeOf(err), def.Code)
	}
}

func TestSnapshotSatisfies(t *testing.T) {
	snap := Snapshot{
		Completed: []models.Mission{
			{ID: "a", CityID: madridID, Difficulty: models.DifficultyEasy},
			{ID: "b", CityID: madridID, Difficulty: models.DifficultyHard},
			{ID: "c", CityID: lisbonID, Difficulty: models.DifficultyHard},
		},
		Profile: models.Profile{Level: 3},
		CityMissions: map[uint][]string{
			madridID: {"a", "b"},
			lisbonID: {"c", "d"},
		},
	}

	assert.ElementsMatch(t, []uint{madridID, lisbonID}, snap.VisitedCities())
	assert.True(t, snap.Satisfies(FirstMissionRule{}))
	assert.True(t, snap.Satisfies(MissionCountRule{Count: 3}))
	assert.False(t, snap.Satisfies(MissionCountRule{Count: 4}))
	assert.True(t, snap.Satisfies(VisitedCitiesRule{Count: 2}))
	assert.False(t, snap.Satisfies(VisitedCitiesRule{Count: 3}))
	assert.True(t, snap.Satisfies(ReachLevelRule{Level: 3}))
	assert.False(t, snap.Satisfies(ReachLevelRule{Level: 4}))
	assert.True(t, snap.Satisfies(DifficultyMissionRule{Difficulty: models.DifficultyHard, Count: 2}))
	assert.False(t, snap.Satisfies(DifficultyMissionRule{Difficulty: models.DifficultyMedium, Count: 1}))
	assert.True(t, snap.Satisfies(CityCompletionRule{Cities: 1}))
	assert.False(t, snap.Satisfies(CityCompletionRule{Cities: 2}))

	empty := Snapshot{}
	assert.False(t, empty.Satisfies(FirstMissionRule{}))
	assert.False(t, empty.Satisfies(CityCompletionRule{Cities: 1}))
}
