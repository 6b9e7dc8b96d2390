// Package memstore is an in-memory store.Store used by tests and local runs
// without Postgres. A single mutex makes every method atomic.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"travel-missions/models"
	"travel-missions/store"
)

type pairKey struct{ a, b string }

type Store struct {
	mu sync.Mutex

	cities        map[uint]models.City
	missions      map[string]models.Mission
	missionOrder  []string
	fingerprints  map[string]string
	assignments   map[pairKey]models.UserMissionAssignment
	profiles      map[string]models.Profile
	challenges    map[string]models.GroupChallenge
	members       map[pairKey]models.GroupChallengeMember
	links         map[string][]models.GroupChallengeMission
	groupStatuses map[pairKey]models.GroupMissionStatus
	achievements  map[string]models.Achievement // by code
	grants        map[pairKey]models.UserAchievement

	base time.Time
	seq  int64
}

func New() *Store {
	return &Store{
		cities:        make(map[uint]models.City),
		missions:      make(map[string]models.Mission),
		fingerprints:  make(map[string]string),
		assignments:   make(map[pairKey]models.UserMissionAssignment),
		profiles:      make(map[string]models.Profile),
		challenges:    make(map[string]models.GroupChallenge),
		members:       make(map[pairKey]models.GroupChallengeMember),
		links:         make(map[string][]models.GroupChallengeMission),
		groupStatuses: make(map[pairKey]models.GroupMissionStatus),
		achievements:  make(map[string]models.Achievement),
		grants:        make(map[pairKey]models.UserAchievement),
		base:          time.Now(),
	}
}

// stamp returns a strictly increasing timestamp so creation order survives
// coarse clocks.
func (s *Store) stamp() time.Time {
	s.seq++
	return s.base.Add(time.Duration(s.seq) * time.Microsecond)
}

// PutCity seeds reference data.
func (s *Store) PutCity(c models.City) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cities[c.ID] = c
}

// --- Catalog ---

func (s *Store) GetCity(_ context.Context, id uint) (*models.City, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cities[id]
	if !ok {
		return nil, store.NotFound("city")
	}
	return &c, nil
}

func (s *Store) GetMission(_ context.Context, id string) (*models.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return nil, store.NotFound("mission")
	}
	return &m, nil
}

func (s *Store) ListCatalogMissions(_ context.Context, cityID uint, d models.Difficulty) ([]models.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Mission
	for _, id := range s.missionOrder {
		m := s.missions[id]
		if m.CityID == cityID && m.Difficulty == d {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) InsertMission(_ context.Context, m *models.Mission) (*models.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.insertMission(*m)
	return &stored, nil
}

func (s *Store) insertMission(m models.Mission) models.Mission {
	if m.Fingerprint == "" {
		m.Fingerprint = models.MissionFingerprint(m.CityID, m.Difficulty, m.Title, m.TargetObjectName)
	}
	if id, ok := s.fingerprints[m.Fingerprint]; ok {
		return s.missions[id]
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = s.stamp()
	s.missions[m.ID] = m
	s.missionOrder = append(s.missionOrder, m.ID)
	s.fingerprints[m.Fingerprint] = m.ID
	return m
}

func (s *Store) CityMissionIDs(_ context.Context, cityIDs []uint) (map[uint][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[uint]bool, len(cityIDs))
	for _, id := range cityIDs {
		want[id] = true
	}
	out := make(map[uint][]string, len(cityIDs))
	for _, id := range s.missionOrder {
		m := s.missions[id]
		if want[m.CityID] {
			out[m.CityID] = append(out[m.CityID], m.ID)
		}
	}
	return out, nil
}

// --- Assignments ---

func (s *Store) CreateAssignment(_ context.Context, a *models.UserMissionAssignment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{a.UserID, a.MissionID}
	if _, ok := s.assignments[key]; ok {
		return false, nil
	}
	if a.Status == "" {
		a.Status = models.AssignmentAssigned
	}
	now := s.stamp()
	a.CreatedAt, a.UpdatedAt = now, now
	s.assignments[key] = *a
	return true, nil
}

func (s *Store) GetAssignment(_ context.Context, userID, missionID string) (*models.UserMissionAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[pairKey{userID, missionID}]
	if !ok {
		return nil, store.NotFound("assignment")
	}
	return &a, nil
}

func (s *Store) ListAssignments(_ context.Context, userID string, status models.AssignmentStatus) ([]models.AssignedMission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AssignedMission
	for key, a := range s.assignments {
		if key.a != userID || (status != "" && a.Status != status) {
			continue
		}
		out = append(out, models.AssignedMission{Assignment: a, Mission: s.missions[a.MissionID]})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Assignment.CreatedAt.After(out[j].Assignment.CreatedAt)
	})
	return out, nil
}

func (s *Store) UsedTargetNames(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for key := range s.assignments {
		if key.a != userID {
			continue
		}
		name := s.missions[key.b].TargetObjectName
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) CompleteAssignment(_ context.Context, userID, missionID string, at time.Time, imageURL string, points int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{userID, missionID}
	a, ok := s.assignments[key]
	if !ok || a.Status != models.AssignmentAssigned {
		return false, nil
	}
	a.Status = models.AssignmentCompleted
	a.CompletedAt = &at
	a.ImageURL = imageURL
	a.UpdatedAt = time.Now()
	s.assignments[key] = a
	s.addScore(userID, points, at)
	return true, nil
}

func (s *Store) DiscardAssignment(_ context.Context, userID, missionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{userID, missionID}
	a, ok := s.assignments[key]
	if !ok || a.Status != models.AssignmentAssigned {
		return false, nil
	}
	a.Status = models.AssignmentDiscarded
	a.UpdatedAt = time.Now()
	s.assignments[key] = a
	return true, nil
}

func (s *Store) CompletedMissions(_ context.Context, userID string) ([]models.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := make(map[string]bool)
	for key, a := range s.assignments {
		if key.a == userID && a.Status == models.AssignmentCompleted {
			done[key.b] = true
		}
	}
	for key, st := range s.groupStatuses {
		if st.Status == models.GroupMissionCompleted && st.ClaimantID() == userID {
			done[key.b] = true
		}
	}
	var out []models.Mission
	for _, id := range s.missionOrder {
		if done[id] {
			out = append(out, s.missions[id])
		}
	}
	return out, nil
}

func (s *Store) UsersWithCompletionsSince(_ context.Context, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	add := func(userID string) {
		if userID != "" && !seen[userID] {
			seen[userID] = true
			out = append(out, userID)
		}
	}
	for key, a := range s.assignments {
		if a.Status == models.AssignmentCompleted && !a.UpdatedAt.Before(since) {
			add(key.a)
		}
	}
	for _, st := range s.groupStatuses {
		if st.Status == models.GroupMissionCompleted && !st.UpdatedAt.Before(since) {
			add(st.ClaimantID())
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- Profiles ---

func (s *Store) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return &models.Profile{UserID: userID, Level: 1}, nil
	}
	return &p, nil
}

func (s *Store) AddScore(_ context.Context, userID string, delta int64) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.addScore(userID, delta, time.Now())
	return &p, nil
}

func (s *Store) addScore(userID string, delta int64, now time.Time) models.Profile {
	p, ok := s.profiles[userID]
	if !ok {
		p = models.Profile{UserID: userID, Level: 1, CreatedAt: now}
	}
	p.ApplyScore(delta, now)
	p.UpdatedAt = now
	s.profiles[userID] = p
	return p
}

// --- Group challenges ---

func (s *Store) CreateChallenge(_ context.Context, ch *models.GroupChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch.InviteCode != nil {
		for _, other := range s.challenges {
			if other.InviteCode != nil && *other.InviteCode == *ch.InviteCode {
				return store.ErrInviteCodeTaken
			}
		}
	}
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	now := s.stamp()
	ch.CreatedAt, ch.UpdatedAt = now, now
	s.challenges[ch.ID] = *ch
	s.members[pairKey{ch.ID, ch.CreatedBy}] = models.GroupChallengeMember{
		ChallengeID: ch.ID,
		UserID:      ch.CreatedBy,
		JoinedAt:    now,
	}
	return nil
}

func (s *Store) GetChallenge(_ context.Context, id string) (*models.GroupChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return nil, store.NotFound("challenge")
	}
	return &ch, nil
}

func (s *Store) GetChallengeByInviteCode(_ context.Context, code string) (*models.GroupChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.challenges {
		if ch.InviteCode != nil && *ch.InviteCode == code {
			return &ch, nil
		}
	}
	return nil, store.NotFound("invite code")
}

func (s *Store) ListUserChallenges(_ context.Context, userID string) ([]models.GroupChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GroupChallenge
	for key := range s.members {
		if key.b == userID {
			out = append(out, s.challenges[key.a])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AddMember(_ context.Context, challengeID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{challengeID, userID}
	if _, ok := s.members[key]; ok {
		return false, nil
	}
	s.members[key] = models.GroupChallengeMember{ChallengeID: challengeID, UserID: userID, JoinedAt: s.stamp()}
	return true, nil
}

func (s *Store) IsMember(_ context.Context, challengeID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[pairKey{challengeID, userID}]
	return ok, nil
}

func (s *Store) RemoveMember(_ context.Context, challengeID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{challengeID, userID}
	if _, ok := s.members[key]; !ok {
		return false, nil
	}
	delete(s.members, key)
	for k, st := range s.groupStatuses {
		if k.a == challengeID && st.Status == models.GroupMissionAssigned && st.ClaimantID() == userID {
			st.Status = models.GroupMissionAvailable
			st.UserID = nil
			st.ClaimedAt = nil
			s.groupStatuses[k] = st
		}
	}
	return true, nil
}

func (s *Store) AddChallengeMissions(_ context.Context, challengeID string, missions []models.Mission) ([]models.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[challengeID]
	if !ok {
		return nil, store.NotFound("challenge")
	}
	if ch.CompletedAt != nil {
		return nil, store.ErrChallengeCompleted
	}

	// Check the whole batch before touching anything.
	batch := make(map[string]bool, len(missions))
	for i := range missions {
		fp := missions[i].Fingerprint
		if fp == "" {
			fp = models.MissionFingerprint(missions[i].CityID, missions[i].Difficulty, missions[i].Title, missions[i].TargetObjectName)
		}
		if batch[fp] {
			return nil, store.ErrMissionAlreadyLinked
		}
		batch[fp] = true
		if id, ok := s.fingerprints[fp]; ok {
			if _, linked := s.groupStatuses[pairKey{challengeID, id}]; linked {
				return nil, store.ErrMissionAlreadyLinked
			}
		}
	}

	out := make([]models.Mission, 0, len(missions))
	for _, m := range missions {
		stored := s.insertMission(m)
		s.links[challengeID] = append(s.links[challengeID], models.GroupChallengeMission{
			ChallengeID: challengeID,
			MissionID:   stored.ID,
			Position:    len(s.links[challengeID]),
			CreatedAt:   s.stamp(),
		})
		s.groupStatuses[pairKey{challengeID, stored.ID}] = models.GroupMissionStatus{
			ChallengeID: challengeID,
			MissionID:   stored.ID,
			Status:      models.GroupMissionAvailable,
			UpdatedAt:   time.Now(),
		}
		out = append(out, stored)
	}
	return out, nil
}

func (s *Store) ListChallengeMissions(_ context.Context, challengeID string) ([]models.ChallengeMission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChallengeMission
	for _, l := range s.links[challengeID] {
		out = append(out, models.ChallengeMission{
			Mission: s.missions[l.MissionID],
			Status:  s.groupStatuses[pairKey{challengeID, l.MissionID}],
		})
	}
	return out, nil
}

func (s *Store) GetGroupMissionStatus(_ context.Context, challengeID, missionID string) (*models.GroupMissionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.groupStatuses[pairKey{challengeID, missionID}]
	if !ok {
		return nil, store.NotFound("challenge mission")
	}
	return &st, nil
}

func (s *Store) ClaimGroupMission(_ context.Context, challengeID, missionID, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{challengeID, missionID}
	st, ok := s.groupStatuses[key]
	if !ok || st.Status != models.GroupMissionAvailable {
		return false, nil
	}
	st.Status = models.GroupMissionAssigned
	st.UserID = &userID
	st.ClaimedAt = &at
	st.UpdatedAt = at
	s.groupStatuses[key] = st
	return true, nil
}

func (s *Store) ReleaseGroupMission(_ context.Context, challengeID, missionID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{challengeID, missionID}
	st, ok := s.groupStatuses[key]
	if !ok || st.Status != models.GroupMissionAssigned || st.ClaimantID() != userID {
		return false, nil
	}
	st.Status = models.GroupMissionAvailable
	st.UserID = nil
	st.ClaimedAt = nil
	st.UpdatedAt = time.Now()
	s.groupStatuses[key] = st
	return true, nil
}

func (s *Store) CompleteGroupMission(_ context.Context, challengeID, missionID, userID string, at time.Time, imageURL string, points int64) (*models.GroupCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[challengeID]
	if !ok {
		return nil, store.NotFound("challenge")
	}
	out := &models.GroupCompletion{}
	key := pairKey{challengeID, missionID}
	if st, ok := s.groupStatuses[key]; ok && st.Status == models.GroupMissionAssigned && st.ClaimantID() == userID {
		st.Status = models.GroupMissionCompleted
		st.CompletedAt = &at
		st.ImageURL = imageURL
		st.UpdatedAt = time.Now()
		s.groupStatuses[key] = st
		s.addScore(userID, points, at)
		out.Applied = true
	}
	out.TotalCount, out.CompletedCount = s.tally(challengeID)
	if ch.CompletedAt == nil && out.TotalCount > 0 && out.CompletedCount == out.TotalCount {
		ch.CompletedAt = &at
		s.challenges[challengeID] = ch
	}
	out.ChallengeCompletedAt = ch.CompletedAt
	return out, nil
}

func (s *Store) tally(challengeID string) (total, completed int64) {
	for k, st := range s.groupStatuses {
		if k.a != challengeID {
			continue
		}
		total++
		if st.Status == models.GroupMissionCompleted {
			completed++
		}
	}
	return total, completed
}

func (s *Store) ReconcileChallenges(_ context.Context, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fixed int64
	for id, ch := range s.challenges {
		if ch.CompletedAt != nil {
			continue
		}
		total, completed := s.tally(id)
		if total > 0 && total == completed {
			stampedAt := at
			ch.CompletedAt = &stampedAt
			s.challenges[id] = ch
			fixed++
		}
	}
	return fixed, nil
}

// ForceGroupStatus overwrites a status row, bypassing the state machine. It
// exists so tests can build states a crash would leave behind.
func (s *Store) ForceGroupStatus(st models.GroupMissionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupStatuses[pairKey{st.ChallengeID, st.MissionID}] = st
}

// --- Achievements ---

func (s *Store) UpsertAchievements(_ context.Context, defs []models.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, def := range defs {
		if existing, ok := s.achievements[def.Code]; ok {
			def.ID = existing.ID
			def.CreatedAt = existing.CreatedAt
		} else {
			if def.ID == "" {
				def.ID = uuid.NewString()
			}
			def.CreatedAt = s.stamp()
		}
		s.achievements[def.Code] = def
	}
	return nil
}

func (s *Store) ListAchievements(_ context.Context) ([]models.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Achievement, 0, len(s.achievements))
	for _, a := range s.achievements {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (s *Store) ListUserAchievements(_ context.Context, userID string) ([]models.UserAchievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.UserAchievement
	for key, g := range s.grants {
		if key.a == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnlockedAt.Before(out[j].UnlockedAt) })
	return out, nil
}

func (s *Store) GrantAchievement(_ context.Context, userID string, a models.Achievement, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{userID, a.ID}
	if _, ok := s.grants[key]; ok {
		return false, nil
	}
	s.grants[key] = models.UserAchievement{UserID: userID, AchievementID: a.ID, UnlockedAt: at}
	if a.Points != 0 {
		s.addScore(userID, a.Points, at)
	}
	return true, nil
}

var _ store.Store = (*Store)(nil)
