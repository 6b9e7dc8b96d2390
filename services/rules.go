package services

import (
	"fmt"
	"regexp"
	"strconv"

	"travel-missions/apperr"
	"travel-missions/models"
)

// Rule is the closed set of achievement conditions. Every kind carries its own
// typed parameters; Snapshot.Satisfies switches over all of them.
type Rule interface {
	isRule()
}

type FirstMissionRule struct{}

type MissionCountRule struct{ Count int }

type VisitedCitiesRule struct{ Count int }

type ReachLevelRule struct{ Level int }

type DifficultyMissionRule struct {
	Difficulty models.Difficulty
	Count      int
}

// CityCompletionRule holds once the user completed every catalog mission of
// at least Cities visited cities.
type CityCompletionRule struct{ Cities int }

func (FirstMissionRule) isRule()      {}
func (MissionCountRule) isRule()      {}
func (VisitedCitiesRule) isRule()     {}
func (ReachLevelRule) isRule()        {}
func (DifficultyMissionRule) isRule() {}
func (CityCompletionRule) isRule()    {}

var (
	legacyMissionsCode = regexp.MustCompile(`^MISSIONS_(\d+)$`)
	legacyCitiesCode   = regexp.MustCompile(`^CITIES_(\d+)$`)
	legacyLevelCode    = regexp.MustCompile(`^LEVEL_(\d+)$`)
)

// DecodeRule turns a stored definition into a Rule. condition_type wins; rows
// without a known type fall back to their code. Anything else is Unsupported.
func DecodeRule(a models.Achievement) (Rule, error) {
	switch a.ConditionType {
	case models.ConditionFirstMission:
		return FirstMissionRule{}, nil
	case models.ConditionNMissions:
		return MissionCountRule{Count: atLeastOne(a.ConditionValue)}, nil
	case models.ConditionVisitNCities:
		return VisitedCitiesRule{Count: atLeastOne(a.ConditionValue)}, nil
	case models.ConditionReachLevel:
		return ReachLevelRule{Level: atLeastOne(a.ConditionValue)}, nil
	case models.ConditionEasyMission:
		return DifficultyMissionRule{Difficulty: models.DifficultyEasy, Count: atLeastOne(a.ConditionValue)}, nil
	case models.ConditionMediumMission:
		return DifficultyMissionRule{Difficulty: models.DifficultyMedium, Count: atLeastOne(a.ConditionValue)}, nil
	case models.ConditionHardMission:
		return DifficultyMissionRule{Difficulty: models.DifficultyHard, Count: atLeastOne(a.ConditionValue)}, nil
	case models.ConditionCityMissions:
		return CityCompletionRule{Cities: atLeastOne(a.ConditionValue)}, nil
	}
	return decodeLegacyCode(a)
}

func decodeLegacyCode(a models.Achievement) (Rule, error) {
	switch a.Code {
	case "FIRST_MISSION":
		return FirstMissionRule{}, nil
	case "EASY_MISSION":
		return DifficultyMissionRule{Difficulty: models.DifficultyEasy, Count: 1}, nil
	case "MEDIUM_MISSION":
		return DifficultyMissionRule{Difficulty: models.DifficultyMedium, Count: 1}, nil
	case "HARD_MISSION":
		return DifficultyMissionRule{Difficulty: models.DifficultyHard, Count: 1}, nil
	case "CITY_COMPLETE":
		return CityCompletionRule{Cities: 1}, nil
	}
	if n, ok := codeNumber(legacyMissionsCode, a.Code); ok {
		return MissionCountRule{Count: n}, nil
	}
	if n, ok := codeNumber(legacyCitiesCode, a.Code); ok {
		return VisitedCitiesRule{Count: n}, nil
	}
	if n, ok := codeNumber(legacyLevelCode, a.Code); ok {
		return ReachLevelRule{Level: n}, nil
	}
	return nil, apperr.New(apperr.Unsupported,
		fmt.Sprintf("achievement %s: unsupported condition %q", a.Code, a.ConditionType))
}

func codeNumber(re *regexp.Regexp, code string) (int, bool) {
	m := re.FindStringSubmatch(code)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Snapshot is everything a rule may look at for one user.
type Snapshot struct {
	Completed []models.Mission
	Profile   models.Profile
	// CityMissions lists the catalog mission ids of every visited city.
	CityMissions map[uint][]string
}

// VisitedCities returns the distinct cities of completed missions.
func (s Snapshot) VisitedCities() []uint {
	seen := make(map[uint]bool)
	var out []uint
	for _, m := range s.Completed {
		if !seen[m.CityID] {
			seen[m.CityID] = true
			out = append(out, m.CityID)
		}
	}
	return out
}

func (s Snapshot) countDifficulty(d models.Difficulty) int {
	n := 0
	for _, m := range s.Completed {
		if m.Difficulty == d {
			n++
		}
	}
	return n
}

func (s Snapshot) fullyCompletedCities() int {
	done := make(map[string]bool, len(s.Completed))
	for _, m := range s.Completed {
		done[m.ID] = true
	}
	n := 0
	for _, city := range s.VisitedCities() {
		ids := s.CityMissions[city]
		if len(ids) == 0 {
			continue
		}
		all := true
		for _, id := range ids {
			if !done[id] {
				all = false
				break
			}
		}
		if all {
			n++
		}
	}
	return n
}

// Satisfies evaluates r against the snapshot.
func (s Snapshot) Satisfies(r Rule) bool {
	switch r := r.(type) {
	case FirstMissionRule:
		return len(s.Completed) >= 1
	case MissionCountRule:
		return len(s.Completed) >= r.Count
	case VisitedCitiesRule:
		return len(s.VisitedCities()) >= r.Count
	case ReachLevelRule:
		return s.Profile.Level >= r.Level
	case DifficultyMissionRule:
		return s.countDifficulty(r.Difficulty) >= r.Count
	case CityCompletionRule:
		return s.fullyCompletedCities() >= r.Cities
	default:
		panic(fmt.Sprintf("unhandled achievement rule %T", r))
	}
}
