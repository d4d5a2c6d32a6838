package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/scrimlobby/internal/events"
	"github.com/jason-s-yu/scrimlobby/internal/lobby"
	"github.com/jason-s-yu/scrimlobby/internal/rating"
)

// unitOfWork implements lobby.UnitOfWork on a single pgx transaction.
type unitOfWork struct {
	db  *DB
	tx  pgx.Tx
	ctx context.Context
	bus *events.TransactionalBus

	lobbyRepo  *LobbyRepository
	matchRepo  *MatchRepository
	teamRepo   *TeamRepository
	playerRepo *PlayerRepository
	ratingRepo *RatingRepository
}

type unitOfWorkFactory struct {
	db  *DB
	bus *events.Bus
}

// NewUnitOfWorkFactory creates units of work whose staged events are
// flushed to bus after a successful commit.
func NewUnitOfWorkFactory(db *DB, bus *events.Bus) lobby.UnitOfWorkFactory {
	return &unitOfWorkFactory{db: db, bus: bus}
}

// Create returns a unit of work that has not begun yet.
func (f *unitOfWorkFactory) Create() lobby.UnitOfWork {
	return &unitOfWork{
		db:  f.db,
		bus: events.NewTransactionalBus(f.bus),
	}
}

// Begin starts a new transaction
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.Begin(ctx)
	if err != nil {
		return translate(err, "begin transaction")
	}

	u.tx = tx
	u.ctx = ctx

	u.lobbyRepo = NewLobbyRepository(tx)
	u.matchRepo = NewMatchRepository(tx)
	u.teamRepo = NewTeamRepository(tx)
	u.playerRepo = NewPlayerRepository(tx)
	u.ratingRepo = NewRatingRepository(tx)

	return nil
}

// Commit commits the transaction and then flushes staged events.
func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	if err := u.tx.Commit(u.ctx); err != nil {
		u.tx = nil
		u.bus.Discard()
		return translate(err, "commit transaction")
	}

	u.tx = nil
	u.bus.Flush()
	return nil
}

// Rollback rolls back the transaction and drops staged events.
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}

	err := u.tx.Rollback(u.ctx)
	u.tx = nil
	u.bus.Discard()
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func (u *unitOfWork) mustBegin() {
	if u.lobbyRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
}

func (u *unitOfWork) Lobbies() lobby.LobbyRepository {
	u.mustBegin()
	return u.lobbyRepo
}

func (u *unitOfWork) Matches() lobby.MatchRepository {
	u.mustBegin()
	return u.matchRepo
}

func (u *unitOfWork) Teams() lobby.TeamRepository {
	u.mustBegin()
	return u.teamRepo
}

func (u *unitOfWork) Players() lobby.PlayerRepository {
	u.mustBegin()
	return u.playerRepo
}

func (u *unitOfWork) Ratings() rating.Repository {
	u.mustBegin()
	return u.ratingRepo
}

func (u *unitOfWork) Events() lobby.EventPublisher {
	return u.bus
}
