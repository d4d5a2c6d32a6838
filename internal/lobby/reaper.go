package lobby

import (
	"context"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/models"
	log "github.com/sirupsen/logrus"
)

// CancelStaleStarting cancels lobbies that have waited in STARTING longer
// than maxAge without a match-started callback. It returns how many were
// cancelled. Each lobby is re-checked under its locks before it is cancelled.
func (s *Service) CancelStaleStarting(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)

	uow, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	ids, err := uow.Lobbies().ListStaleStarting(ctx, cutoff)
	_ = uow.Rollback()
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, id := range ids {
		ok, err := s.cancelIfStale(ctx, id, cutoff)
		if err != nil {
			log.WithError(err).WithField("lobbyId", id).Warn("Failed to cancel stale lobby")
			continue
		}
		if ok {
			cancelled++
		}
	}
	return cancelled, nil
}

func (s *Service) cancelIfStale(ctx context.Context, lobbyID int64, cutoff time.Time) (bool, error) {
	unlock := s.locks.Lock(lobbyID)
	defer unlock()

	uow, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	defer uow.Rollback()

	l, err := uow.Lobbies().GetByIDForUpdate(ctx, lobbyID)
	if err != nil {
		return false, err
	}
	if l == nil || l.Status != models.LobbyStatusStarting || l.StatusChangedAt.After(cutoff) {
		return false, nil
	}
	if err := s.setStatus(ctx, uow, l, models.LobbyStatusCancelled); err != nil {
		return false, err
	}
	if err := uow.Commit(); err != nil {
		return false, err
	}

	log.WithField("lobbyId", lobbyID).Warn("Cancelled lobby stuck in STARTING")
	return true, nil
}

// RunReaper calls CancelStaleStarting every interval until ctx is done.
func (s *Service) RunReaper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithFields(log.Fields{"interval": interval, "maxAge": maxAge}).Info("Stale lobby reaper started")
	for {
		select {
		case <-ctx.Done():
			log.Info("Stale lobby reaper stopped")
			return
		case <-ticker.C:
			n, err := s.CancelStaleStarting(ctx, maxAge)
			if err != nil {
				log.WithError(err).Error("Stale lobby sweep failed")
				continue
			}
			if n > 0 {
				log.WithField("cancelled", n).Info("Stale lobby sweep finished")
			}
		}
	}
}
