package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/events"
	"github.com/jason-s-yu/scrimlobby/internal/models"
	"github.com/jason-s-yu/scrimlobby/internal/rating"
)

// memState is the committed data of memStore. It is deep-copied into every
// transaction through JSON, so all fields are exported.
type memState struct {
	Lobbies      map[int64]*models.Lobby
	Players      map[int64]*models.Player
	Teams        map[int64]*models.Team
	TeamMembers  map[int64][]int64
	Matches      map[int64]*models.Match // keyed by lobby id
	Participants map[int64][]*models.MatchParticipant
	History      []models.RatingChange
	NextID       int64
}

func (s *memState) clone() *memState {
	data, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	out := &memState{}
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}

func (s *memState) id() int64 {
	s.NextID++
	return s.NextID
}

// memStore is an in-memory UnitOfWorkFactory. A transaction works on a copy
// taken at Begin and Commit replaces the whole state, so it has no row locks:
// concurrent transactions on one lobby are kept apart only by the service's
// LockStore.
type memStore struct {
	mu    sync.Mutex
	state *memState
	bus   *events.Bus
	now   func() time.Time

	// failCommits makes the next n commits fail after rolling back.
	failCommits int
}

func newMemStore(bus *events.Bus, now func() time.Time) *memStore {
	return &memStore{
		state: &memState{
			Lobbies:      map[int64]*models.Lobby{},
			Players:      map[int64]*models.Player{},
			Teams:        map[int64]*models.Team{},
			TeamMembers:  map[int64][]int64{},
			Matches:      map[int64]*models.Match{},
			Participants: map[int64][]*models.MatchParticipant{},
		},
		bus: bus,
		now: now,
	}
}

func (m *memStore) Create() UnitOfWork {
	return &memUoW{store: m, bus: events.NewTransactionalBus(m.bus)}
}

// snapshot returns a copy of the committed state for assertions.
func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) mutate(fn func(s *memState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
}

type memUoW struct {
	store *memStore
	tx    *memState
	bus   *events.TransactionalBus
}

func (u *memUoW) Begin(ctx context.Context) error {
	if u.tx != nil {
		return errors.New("transaction already started")
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	u.tx = u.store.state.clone()
	return nil
}

func (u *memUoW) Commit() error {
	if u.tx == nil {
		return errors.New("no transaction to commit")
	}
	u.store.mu.Lock()
	if u.store.failCommits > 0 {
		u.store.failCommits--
		u.store.mu.Unlock()
		u.tx = nil
		u.bus.Discard()
		return errors.New("commit failed")
	}
	u.store.state = u.tx
	u.store.mu.Unlock()
	u.tx = nil
	u.bus.Flush()
	return nil
}

func (u *memUoW) Rollback() error {
	if u.tx == nil {
		return nil
	}
	u.tx = nil
	u.bus.Discard()
	return nil
}

func (u *memUoW) mustBegin() {
	if u.tx == nil {
		panic("unit of work not started")
	}
}

func (u *memUoW) Lobbies() LobbyRepository { u.mustBegin(); return memLobbies{u} }
func (u *memUoW) Matches() MatchRepository { u.mustBegin(); return memMatches{u} }
func (u *memUoW) Teams() TeamRepository { u.mustBegin(); return memTeams{u} }
func (u *memUoW) Players() PlayerRepository { u.mustBegin(); return memPlayers{u} }
func (u *memUoW) Ratings() rating.Repository { u.mustBegin(); return memRatings{u} }
func (u *memUoW) Events() EventPublisher { return u.bus }

type memLobbies struct{ u *memUoW }

func (r memLobbies) Create(ctx context.Context, l *models.Lobby) error {
	s := r.u.tx
	now := r.u.store.now()
	l.ID = s.id()
	l.CreatedAt, l.UpdatedAt, l.StatusChangedAt = now, now, now
	if l.Status == "" {
		l.Status = models.LobbyStatusScheduled
	}
	for _, p := range l.Players {
		p.ID = s.id()
		p.LobbyID = l.ID
		p.JoinedAt = now
	}
	stored := *l
	stored.Owner = nil
	stored.Players = nil
	for _, p := range l.Players {
		row := *p
		row.Player = nil
		stored.Players = append(stored.Players, &row)
	}
	s.Lobbies[l.ID] = &stored
	return nil
}

func (r memLobbies) project(l *models.Lobby) *models.Lobby {
	s := r.u.tx
	out := *l
	out.Players = nil
	if o, ok := s.Players[l.OwnerID]; ok {
		owner := *o
		out.Owner = &owner
	}
	for _, p := range l.Players {
		row := *p
		if p.PlayerID != nil {
			if pl, ok := s.Players[*p.PlayerID]; ok {
				cp := *pl
				row.Player = &cp
			}
		}
		out.Players = append(out.Players, &row)
	}
	return &out
}

func (r memLobbies) GetByID(ctx context.Context, id int64) (*models.Lobby, error) {
	l, ok := r.u.tx.Lobbies[id]
	if !ok {
		return nil, nil
	}
	return r.project(l), nil
}

func (r memLobbies) GetByIDForUpdate(ctx context.Context, id int64) (*models.Lobby, error) {
	return r.GetByID(ctx, id)
}

func (r memLobbies) List(ctx context.Context, f models.LobbyFilter) ([]*models.Lobby, error) {
	var out []*models.Lobby
	for _, l := range r.u.tx.Lobbies {
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.OwnerID != 0 && l.OwnerID != f.OwnerID {
			continue
		}
		out = append(out, r.project(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r memLobbies) Update(ctx context.Context, l *models.Lobby) error {
	stored, ok := r.u.tx.Lobbies[l.ID]
	if !ok {
		return errors.New("lobby not found")
	}
	stored.Title, stored.Description, stored.Ranked, stored.Date = l.Title, l.Description, l.Ranked, l.Date
	stored.UpdatedAt = r.u.store.now()
	return nil
}

func (r memLobbies) UpdateStatus(ctx context.Context, id int64, status models.LobbyStatus) error {
	stored, ok := r.u.tx.Lobbies[id]
	if !ok {
		return errors.New("lobby not found")
	}
	stored.Status = status
	stored.StatusChangedAt = r.u.store.now()
	return nil
}

func (r memLobbies) SetPlayerReady(ctx context.Context, lobbyPlayerID int64, ready bool) error {
	for _, l := range r.u.tx.Lobbies {
		for _, p := range l.Players {
			if p.ID == lobbyPlayerID {
				p.Ready = ready
				return nil
			}
		}
	}
	return errors.New("lobby player not found")
}

func (r memLobbies) Delete(ctx context.Context, id int64) error {
	delete(r.u.tx.Lobbies, id)
	return nil
}

func (r memLobbies) ListStaleStarting(ctx context.Context, cutoff time.Time) ([]int64, error) {
	var ids []int64
	for id, l := range r.u.tx.Lobbies {
		if l.Status == models.LobbyStatusStarting && l.StatusChangedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type memMatches struct{ u *memUoW }

func (r memMatches) GetByLobbyID(ctx context.Context, lobbyID int64) (*models.Match, error) {
	m, ok := r.u.tx.Matches[lobbyID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r memMatches) Create(ctx context.Context, m *models.Match) error {
	if _, ok := r.u.tx.Matches[m.LobbyID]; ok {
		return errors.New("duplicate match")
	}
	m.ID = r.u.tx.id()
	cp := *m
	r.u.tx.Matches[m.LobbyID] = &cp
	return nil
}

func (r memMatches) Complete(ctx context.Context, m *models.Match) error {
	stored, ok := r.u.tx.Matches[m.LobbyID]
	if !ok {
		return errors.New("match not found")
	}
	stored.Duration, stored.WinningTeam, stored.GameMode = m.Duration, m.WinningTeam, m.GameMode
	return nil
}

func (r memMatches) AddParticipants(ctx context.Context, matchID int64, ps []*models.MatchParticipant) error {
	for _, p := range ps {
		p.ID = r.u.tx.id()
		p.MatchID = matchID
		cp := *p
		r.u.tx.Participants[matchID] = append(r.u.tx.Participants[matchID], &cp)
	}
	return nil
}

type memTeams struct{ u *memUoW }

func (r memTeams) GetByID(ctx context.Context, id int64) (*models.Team, error) {
	t, ok := r.u.tx.Teams[id]
	if !ok {
		return nil, nil
	}
	out := *t
	out.Members = nil
	for _, pid := range r.u.tx.TeamMembers[id] {
		cp := *r.u.tx.Players[pid]
		out.Members = append(out.Members, &cp)
	}
	return &out, nil
}

type memPlayers struct{ u *memUoW }

func (r memPlayers) IDsByPUUID(ctx context.Context, puuids []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, p := range r.u.tx.Players {
		if p.PUUID == nil {
			continue
		}
		for _, want := range puuids {
			if *p.PUUID == want {
				out[want] = p.ID
			}
		}
	}
	return out, nil
}

type memRatings struct{ u *memUoW }

func (r memRatings) LockPlayerRatings(ctx context.Context, ids []int64) (map[int64]int, error) {
	out := map[int64]int{}
	for _, id := range ids {
		if p, ok := r.u.tx.Players[id]; ok {
			out[id] = p.Rating
		}
	}
	return out, nil
}

func (r memRatings) SetPlayerRating(ctx context.Context, id int64, v int) error {
	r.u.tx.Players[id].Rating = v
	return nil
}

func (r memRatings) LockTeamRatings(ctx context.Context, ids []int64) (map[int64]int, error) {
	out := map[int64]int{}
	for _, id := range ids {
		if t, ok := r.u.tx.Teams[id]; ok {
			out[id] = t.Rating
		}
	}
	return out, nil
}

func (r memRatings) SetTeamRating(ctx context.Context, id int64, v int) error {
	r.u.tx.Teams[id].Rating = v
	return nil
}

func (r memRatings) TeamMemberRatings(ctx context.Context, teamID int64) ([]int, error) {
	var out []int
	for _, pid := range r.u.tx.TeamMembers[teamID] {
		out = append(out, r.u.tx.Players[pid].Rating)
	}
	return out, nil
}

func (r memRatings) RecordChange(ctx context.Context, c *models.RatingChange) error {
	r.u.tx.History = append(r.u.tx.History, *c)
	return nil
}
