package database

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/scrimlobby/internal/events"
	log "github.com/sirupsen/logrus"
)

// EventRepository is the historian's sink for lobby events.
type EventRepository struct {
	q Querier
}

func NewEventRepository(q Querier) *EventRepository {
	return &EventRepository{q: q}
}

// InsertBatch stores the records and returns how many were new. A record
// whose id is already stored is skipped, so redelivery is harmless.
func (r *EventRepository) InsertBatch(ctx context.Context, records []events.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	q := `
	INSERT INTO lobby_events (event_id, lobby_id, event, payload, occurred_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (event_id) DO NOTHING
	`
	batch := &pgx.Batch{}
	for _, rec := range records {
		payload, err := json.Marshal(rec.Data)
		if err != nil {
			log.WithFields(log.Fields{
				"eventId": rec.ID,
				"error":   err,
			}).Warn("Storing null payload for unencodable event")
			payload = []byte("null")
		}
		batch.Queue(q, rec.ID, rec.LobbyID, string(rec.Event), payload, rec.OccurredAt)
	}

	br := r.q.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for range records {
		tag, err := br.Exec()
		if err != nil {
			return inserted, translate(err, "insert lobby event")
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// CountByLobby returns how many events are stored for a lobby.
func (r *EventRepository) CountByLobby(ctx context.Context, lobbyID int64) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM lobby_events WHERE lobby_id = $1`, lobbyID).Scan(&n)
	return n, translate(err, "count lobby events")
}
