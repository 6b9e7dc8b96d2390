package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"travel-missions/logging"
	"travel-missions/models"
	"travel-missions/store"
	"travel-missions/store/memstore"
)

type fakeGenerator struct {
	mu           sync.Mutex
	queue        []models.MissionContent
	batch        []models.MissionContent
	err          error
	calls        int
	batchCalls   int
	lastExcluded []string
}

func (g *fakeGenerator) Generate(_ context.Context, city models.City, d models.Difficulty, excluded []string) (*models.MissionContent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastExcluded = append([]string(nil), excluded...)
	if g.err != nil {
		return nil, g.err
	}
	if len(g.queue) > 0 {
		c := g.queue[0]
		g.queue = g.queue[1:]
		return &c, nil
	}
	c := sampleContent(fmt.Sprintf("%s %s #%d", city.Name, d, g.calls))
	return &c, nil
}

func (g *fakeGenerator) GenerateBatch(_ context.Context, city models.City, quantity int) ([]models.MissionContent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batchCalls++
	if g.err != nil {
		return nil, g.err
	}
	if g.batch != nil {
		return g.batch, nil
	}
	out := make([]models.MissionContent, 0, quantity)
	for i := 0; i < quantity; i++ {
		c := sampleContent(fmt.Sprintf("%s group #%d-%d", city.Name, g.batchCalls, i))
		c.Difficulty = []string{"easy", "medium", "hard"}[i%3]
		out = append(out, c)
	}
	return out, nil
}

func sampleContent(name string) models.MissionContent {
	return models.MissionContent{
		Title:            "Find " + name,
		Description:      "Take a photo of " + name,
		TargetObjectName: name,
		Keywords:         []string{"statue"},
		LoreText:         "Long ago, " + name + " was built.",
	}
}

type fakeValidator struct {
	mu    sync.Mutex
	ok    bool
	err   error
	calls int
}

func (v *fakeValidator) Validate(context.Context, string, []string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.ok, v.err
}

type fakeResolver struct{}

func (fakeResolver) ResolveImageURL(_ context.Context, key string) (string, error) {
	if key == "missing.jpg" {
		return "", store.NotFound("image")
	}
	return "https://cdn.example/" + key, nil
}

// brokenAchievements makes every evaluation fail.
type brokenAchievements struct {
	store.Store
}

func (brokenAchievements) ListAchievements(context.Context) ([]models.Achievement, error) {
	return nil, errors.New("achievements table unavailable")
}

type testEnv struct {
	store        *memstore.Store
	gen          *fakeGenerator
	validator    *fakeValidator
	images       *ImageChecker
	missions     *MissionService
	lifecycle    *LifecycleService
	challenges   *ChallengeService
	achievements *AchievementService
	progress     *ProgressService
}

const (
	madridID    uint = 7
	barcelonaID uint = 8
	lisbonID    uint = 9
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memstore.New()
	st.PutCity(models.City{ID: madridID, Name: "Madrid", Country: "Spain"})
	st.PutCity(models.City{ID: barcelonaID, Name: "Barcelona", Country: "Spain"})
	st.PutCity(models.City{ID: lisbonID, Name: "Lisbon", Country: "Portugal"})

	log := logging.Discard()
	gen := &fakeGenerator{}
	val := &fakeValidator{ok: true}
	images := &ImageChecker{Resolver: fakeResolver{}, Validator: val, Log: log}
	ach := NewAchievementService(st, log, nil)

	return &testEnv{
		store:        st,
		gen:          gen,
		validator:    val,
		images:       images,
		missions:     NewMissionService(st, gen, NewLocalLock(), log, nil),
		lifecycle:    NewLifecycleService(st, images, ach, log, nil),
		challenges:   NewChallengeService(st, gen, images, ach, log, nil),
		achievements: ach,
		progress:     NewProgressService(st),
	}
}

// seed stores achievement rules and returns them with ids.
func (e *testEnv) seed(t *testing.T, defs ...models.Achievement) {
	t.Helper()
	require.NoError(t, e.store.UpsertAchievements(context.Background(), defs))
}

// catalogMission stores a mission directly in the catalog.
func (e *testEnv) catalogMission(t *testing.T, cityID uint, d models.Difficulty, name string) models.Mission {
	t.Helper()
	m, err := e.store.InsertMission(context.Background(), newMission(cityID, d, sampleContent(name)))
	require.NoError(t, err)
	return *m
}

// assign gives userID a fresh catalog mission.
func (e *testEnv) assign(t *testing.T, userID string, cityID uint, d models.Difficulty, name string) models.Mission {
	t.Helper()
	m := e.catalogMission(t, cityID, d, name)
	created, err := e.store.CreateAssignment(context.Background(), &models.UserMissionAssignment{
		UserID:    userID,
		MissionID: m.ID,
		Status:    models.AssignmentAssigned,
	})
	require.NoError(t, err)
	require.True(t, created)
	return m
}

func (e *testEnv) score(t *testing.T, userID string) int64 {
	t.Helper()
	p, err := e.store.GetProfile(context.Background(), userID)
	require.NoError(t, err)
	return p.Score
}

var photo = CompletionPayload{ImageURL: "https://cdn.example/photo.jpg"}
