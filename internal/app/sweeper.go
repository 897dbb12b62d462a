package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teleconsulta/coordinator/internal/domain"
)

// RunSweeper is the single periodic timeout mechanism: it evicts silent
// participants and auto-finalizes rooms abandoned past the grace window.
// One ticker serves every room, so idle rooms cost nothing extra.
func (c *Coordinator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(c.Tunables.SweepInterval)
	defer ticker.Stop()

	log.Info().Str("module", "app.sweeper").
		Dur("interval", c.Tunables.SweepInterval).
		Dur("timeout", c.Tunables.HeartbeatTimeout).
		Dur("grace", c.Tunables.AbandonGrace).
		Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.sweeper").Msg("sweeper stopped")
			return
		case now := <-ticker.C:
			c.sweepOnce(ctx, now)
		}
	}
}

func (c *Coordinator) sweepOnce(ctx context.Context, now time.Time) {
	for _, ev := range c.Presence.Sweep(now, c.Tunables.HeartbeatTimeout) {
		if ev.Remaining == 0 {
			c.markEmpty(ev.RoomCode, now)
		}
	}

	if ttl := c.Tunables.CreatedTTL; ttl > 0 {
		for _, room := range c.Registry.Snapshot() {
			if room.Status != domain.StatusCreated || room.CreatedAt.After(now.Add(-ttl)) {
				continue
			}
			log.Warn().Str("module", "app.sweeper").Str("code", string(room.Code)).Msg("room never joined, expiring")
			if err := c.Registry.Expire(ctx, room.Code); err != nil {
				log.Error().Err(err).Str("module", "app.sweeper").Str("code", string(room.Code)).Msg("expire unused room")
			}
		}
	}

	for _, code := range c.abandoned(now) {
		if c.Presence.Occupancy(code) > 0 {
			// Someone rejoined between marking and this tick.
			c.clearEmpty(code)
			continue
		}
		log.Warn().Str("module", "app.sweeper").Str("code", string(code)).Msg("room abandoned, auto-finalizing")
		if _, err := c.Finalize(ctx, code, domain.Identity{}, domain.ReasonAbandonment); err != nil {
			log.Error().Err(err).Str("module", "app.sweeper").Str("code", string(code)).Msg("abandonment finalize")
		}
		c.clearEmpty(code)
	}
}

// abandoned lists rooms whose empty mark is older than the grace window.
func (c *Coordinator) abandoned(now time.Time) []domain.RoomCode {
	cutoff := now.Add(-c.Tunables.AbandonGrace)
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.RoomCode
	for code, since := range c.emptySince {
		if !since.After(cutoff) {
			out = append(out, code)
		}
	}
	return out
}

func (c *Coordinator) clearEmpty(code domain.RoomCode) {
	c.mu.Lock()
	delete(c.emptySince, code)
	c.mu.Unlock()
}
