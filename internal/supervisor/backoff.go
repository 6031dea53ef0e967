package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig shapes the delay between attempts of a failing command.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration // 0 = uncapped
	Multiplier float64       // values below 1 are treated as 1

	// Spread randomizes each delay by up to ±Spread/2 of its value.
	Spread float64
}

// DefaultBackoffConfig returns the delays used when none are configured.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    250 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 1.7,
		Spread:     0.4,
	}
}

// Backoff hands out retry delays for one run. It is not safe for
// concurrent use.
type Backoff struct {
	cfg     BackoffConfig
	rng     *rand.Rand
	retries int
}

// NewBackoff creates a Backoff drawing its spread from rng. A nil rng is
// seeded from the clock.
func NewBackoff(rng *rand.Rand, cfg BackoffConfig) *Backoff {
	if rng == nil {
		rng = NewJitterSourceFromTime().ForRun(0)
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &Backoff{cfg: cfg, rng: rng}
}

// Base returns the unrandomized delay before retry n, counting from 0.
func (b *Backoff) Base(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	d := float64(b.cfg.Initial) * math.Pow(b.cfg.Multiplier, float64(retry))
	if b.cfg.Max > 0 && d > float64(b.cfg.Max) {
		return b.cfg.Max
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Next returns the delay before the next retry and counts the retry.
func (b *Backoff) Next() time.Duration {
	base := b.Base(b.retries)
	b.retries++
	if b.cfg.Spread <= 0 || base <= 0 {
		return base
	}
	d := float64(base) * (1 + b.cfg.Spread*(b.rng.Float64()-0.5))
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// Retries returns how many delays Next has handed out.
func (b *Backoff) Retries() int {
	return b.retries
}

// Reset starts the delays over from Initial.
func (b *Backoff) Reset() {
	b.retries = 0
}

// JitterSource derives a reproducible random stream for each run of a
// repeated command, so runs do not retry in lockstep.
type JitterSource struct {
	seed int64
}

// NewJitterSource creates a jitter source from seed.
func NewJitterSource(seed int64) *JitterSource {
	return &JitterSource{seed: seed}
}

// NewJitterSourceFromTime creates a jitter source seeded from the clock.
func NewJitterSourceFromTime() *JitterSource {
	return NewJitterSource(time.Now().UnixNano())
}

// Seed returns the seed the source was created with.
func (j *JitterSource) Seed() int64 {
	return j.seed
}

// ForRun returns the random stream for run index. The same seed and index
// always give the same stream.
func (j *JitterSource) ForRun(index int) *rand.Rand {
	// Golden-ratio step keeps neighbouring indexes far apart.
	mixed := uint64(j.seed) + uint64(index)*0x9e3779b97f4a7c15
	return rand.New(rand.NewSource(int64(mixed)))
}
