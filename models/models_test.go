package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travel-missions/apperr"
)

func TestParseDifficulty(t *testing.T) {
	tests := []struct {
		label string
		want  Difficulty
	}{
		{"easy", DifficultyEasy},
		{"facil", DifficultyEasy},
		{"Fácil", DifficultyEasy},
		{" 1 ", DifficultyEasy},
		{"medium", DifficultyMedium},
		{"Media", DifficultyMedium},
		{"3", DifficultyMedium},
		{"HARD", DifficultyHard},
		{"difícil", DifficultyHard},
		{"5", DifficultyHard},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := ParseDifficulty(tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("Unknown", func(t *testing.T) {
		_, err := ParseDifficulty("extreme")
		assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
	})
	t.Run("CodeTwoIsNotATier", func(t *testing.T) {
		_, err := ParseDifficulty("2")
		assert.Error(t, err)
	})
}

func TestDifficultyPointsAreASeparateScale(t *testing.T) {
	assert.Equal(t, int64(10), DifficultyEasy.Points())
	assert.Equal(t, int64(20), DifficultyMedium.Points())
	assert.Equal(t, int64(30), DifficultyHard.Points())
	assert.Equal(t, int64(0), Difficulty(2).Points())
	assert.False(t, Difficulty(2).Valid())
	assert.Equal(t, "hard", DifficultyHard.String())
}

func TestMissionViewWithholdsLore(t *testing.T) {
	m := Mission{ID: "m1", Title: "X", LoreText: "long ago", Keywords: []string{"fountain"}}

	assert.Empty(t, m.View(false).LoreText)
	assert.Equal(t, "long ago", m.View(true).LoreText)
	assert.Equal(t, []string{"fountain"}, m.View(false).Keywords)
}

func TestMissionFingerprintIgnoresCaseAndAccents(t *testing.T) {
	a := MissionFingerprint(7, DifficultyEasy, "La Fuente", "Fountain")
	b := MissionFingerprint(7, DifficultyEasy, "la fuente", "fountain")
	c := MissionFingerprint(7, DifficultyHard, "La Fuente", "Fountain")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestLevelForScore(t *testing.T) {
	assert.Equal(t, 1, LevelForScore(0))
	assert.Equal(t, 1, LevelForScore(LevelThreshold(1)-1))
	assert.Equal(t, 2, LevelForScore(LevelThreshold(1)))
	assert.Equal(t, 3, LevelForScore(LevelThreshold(2)))
}

func TestProfileApplyScore(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Profile{UserID: "u1", Level: 1}

	p.ApplyScore(30, now)
	assert.Equal(t, int64(30), p.Score)
	assert.Equal(t, 1, p.Level)
	assert.Nil(t, p.LastLevelUpAt)

	p.ApplyScore(LevelThreshold(1), now)
	assert.Equal(t, 2, p.Level)
	require.NotNil(t, p.LastLevelUpAt)
	assert.Equal(t, now, *p.LastLevelUpAt)
}
