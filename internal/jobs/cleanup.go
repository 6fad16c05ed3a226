package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/repository"
)

// IdleReaper closes rooms that have seen no activity for ttl.
type IdleReaper interface {
	ReapIdle(ttl time.Duration) int
}

type CleanupJob struct {
	events    repository.RoomEventRepository
	rooms     IdleReaper
	retention time.Duration
	idleTTL   time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
}

func NewCleanupJob(
	events repository.RoomEventRepository,
	rooms IdleReaper,
	retention time.Duration,
	idleTTL time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		events:    events,
		rooms:     rooms,
		retention: retention,
		idleTTL:   idleTTL,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if j.events != nil && j.retention > 0 {
		cutoff := j.now().Add(-j.retention)
		j.runCleanup(ctx, "room events", func(ctx context.Context) (int64, error) {
			return j.events.DeleteOlderThan(ctx, cutoff)
		})
	}
	if j.rooms != nil && j.idleTTL > 0 {
		j.runCleanup(ctx, "idle rooms", func(context.Context) (int64, error) {
			return int64(j.rooms.ReapIdle(j.idleTTL)), nil
		})
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
