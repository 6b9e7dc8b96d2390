package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gosimple/unidecode"
	"golang.org/x/text/cases"

	"travel-missions/apperr"
)

// Difficulty is the catalog code of a mission tier. The codes are not
// contiguous and are stored as-is.
type Difficulty int

const (
	DifficultyEasy   Difficulty = 1
	DifficultyMedium Difficulty = 3
	DifficultyHard   Difficulty = 5
)

// completionPoints is the score awarded for completing a mission of each tier.
// It is a separate scale from the catalog codes.
var completionPoints = map[Difficulty]int64{
	DifficultyEasy:   10,
	DifficultyMedium: 20,
	DifficultyHard:   30,
}

var difficultyLabels = map[string]Difficulty{
	"easy":      DifficultyEasy,
	"facil":     DifficultyEasy,
	"1":         DifficultyEasy,
	"medium":    DifficultyMedium,
	"media":     DifficultyMedium,
	"medio":     DifficultyMedium,
	"normal":    DifficultyMedium,
	"3":         DifficultyMedium,
	"hard":      DifficultyHard,
	"dificil":   DifficultyHard,
	"difficult": DifficultyHard,
	"5":         DifficultyHard,
}

var folder = cases.Fold()

// FoldText lowercases and strips accents so labels typed in different
// languages compare equal ("Fácil" == "facil").
func FoldText(s string) string {
	return folder.String(unidecode.Unidecode(strings.TrimSpace(s)))
}

// ParseDifficulty resolves a user-facing label into a catalog code.
func ParseDifficulty(label string) (Difficulty, error) {
	if d, ok := difficultyLabels[FoldText(label)]; ok {
		return d, nil
	}
	return 0, apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown difficulty %q", label))
}

// Valid reports whether d is one of the three catalog codes.
func (d Difficulty) Valid() bool {
	_, ok := completionPoints[d]
	return ok
}

// Points returns the completion award for the tier, 0 for unknown codes.
func (d Difficulty) Points() int64 {
	return completionPoints[d]
}

func (d Difficulty) String() string {
	switch d {
	case DifficultyEasy:
		return "easy"
	case DifficultyMedium:
		return "medium"
	case DifficultyHard:
		return "hard"
	default:
		return strconv.Itoa(int(d))
	}
}
