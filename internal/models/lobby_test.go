package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLobbyStatus_CanTransitionTo(t *testing.T) {
	all := []LobbyStatus{
		LobbyStatusScheduled, LobbyStatusStarting, LobbyStatusOngoing,
		LobbyStatusCompleted, LobbyStatusCancelled,
	}
	allowed := map[LobbyStatus][]LobbyStatus{
		LobbyStatusScheduled: {LobbyStatusStarting, LobbyStatusCancelled},
		LobbyStatusStarting:  {LobbyStatusOngoing, LobbyStatusCompleted, LobbyStatusCancelled},
		LobbyStatusOngoing:   {LobbyStatusCompleted},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestLobbyStatus_Predicates(t *testing.T) {
	assert.True(t, LobbyStatusScheduled.PreStart())
	assert.True(t, LobbyStatusStarting.PreStart())
	assert.False(t, LobbyStatusOngoing.PreStart())
	assert.True(t, LobbyStatusCompleted.Terminal())
	assert.True(t, LobbyStatusCancelled.Terminal())
	assert.False(t, LobbyStatus("DELETED").Valid())
}

func TestLobby_MemberAndReadiness(t *testing.T) {
	p1, p2 := int64(1), int64(2)
	l := &Lobby{Players: []*LobbyPlayer{
		{PlayerID: &p1, Team: 1, Ready: true},
		{PlayerID: &p2, Team: 1, Ready: false},
		{PlayerID: nil, Team: 2},
	}}

	assert.NotNil(t, l.Member(2))
	assert.Nil(t, l.Member(3))
	assert.Equal(t, 2, l.OccupiedSlots())
	assert.False(t, l.AllReady())

	l.Players[1].Ready = true
	assert.True(t, l.AllReady())
	assert.False(t, (&Lobby{}).AllReady())
}
