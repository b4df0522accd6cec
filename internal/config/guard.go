package config

import "time"

// GuardConfig tunes the in-memory per-event submission guard: the
// rolling budget window and how often idle counters are pruned.
type GuardConfig struct {
	Window     time.Duration
	PruneEvery time.Duration
}

func LoadGuardConfig() GuardConfig {
	g := GuardConfig{
		Window:     envDur("GUARD_WINDOW", time.Hour),
		PruneEvery: envDur("GUARD_PRUNE_EVERY", 10*time.Minute),
	}
	if g.Window <= 0 {
		g.Window = time.Hour
	}
	if g.PruneEvery <= 0 {
		g.PruneEvery = 10 * time.Minute
	}
	return g
}
