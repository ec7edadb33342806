package waveplate

import "time"

// Rules are the regeneration parameters. They are fixed for the lifetime of
// the process; changing them requires a restart so that armed timers and
// stored snapshots stay mutually consistent.
type Rules struct {
	// Cap is the maximum level. Regeneration stops here.
	Cap int
	// RegenPeriod is how long one unit takes to regenerate.
	RegenPeriod time.Duration
}

func DefaultRules() Rules {
	return Rules{Cap: 240, RegenPeriod: 6 * time.Minute}
}

// CurrentLevel derives the level at "now" from a stored baseline. Regeneration
// is whole units only: a partially elapsed period contributes nothing. A "now"
// before the baseline (clock skew) counts as zero elapsed time.
func (r Rules) CurrentLevel(level int, asOf, now time.Time) int {
	if level >= r.Cap {
		return r.Cap
	}
	elapsed := now.Sub(asOf)
	if elapsed < 0 {
		elapsed = 0
	}
	regen := int(elapsed / r.RegenPeriod)
	if level > r.Cap-regen {
		return r.Cap
	}
	return level + regen
}

// TimeToCap is how long a user at exactly `level` waits until full.
// Zero or negative means already full.
func (r Rules) TimeToCap(level int) time.Duration {
	if level >= r.Cap {
		return 0
	}
	return time.Duration(r.Cap-level) * r.RegenPeriod
}

// ValidLevel reports whether a requested level is inside [0, Cap].
func (r Rules) ValidLevel(level int) bool {
	return level >= 0 && level <= r.Cap
}
