package apkes

import "time"

// Config holds the handful of options spec.md section 6 says are "all
// adjustable at compile time". A hosted Go rendition makes them constructor
// parameters instead of build tags, which is strictly more flexible for
// testing while preserving identical defaults.
type Config struct {
	Rounds                int
	RoundDuration         time.Duration
	MaxTentativeNeighbors int
	MaxWaitingPeriod      time.Duration
	AckDelay              time.Duration
	EBEAPWithEncryption   bool
}

// DefaultConfig returns the configuration spec.md documents as the default.
func DefaultConfig() Config {
	return Config{
		Rounds:                DefaultRounds,
		RoundDuration:         DefaultRoundDuration,
		MaxTentativeNeighbors: DefaultMaxTentativeNeighbors,
		MaxWaitingPeriod:      defaultMaxWaitingPeriod(DefaultRoundDuration),
		AckDelay:              DefaultAckDelay,
		EBEAPWithEncryption:   false,
	}
}

func (c Config) withDefaults() Config {
	if c.Rounds == 0 {
		c.Rounds = DefaultRounds
	}
	if c.RoundDuration == 0 {
		c.RoundDuration = DefaultRoundDuration
	}
	if c.MaxTentativeNeighbors == 0 {
		c.MaxTentativeNeighbors = DefaultMaxTentativeNeighbors
	}
	if c.MaxWaitingPeriod == 0 {
		c.MaxWaitingPeriod = defaultMaxWaitingPeriod(c.RoundDuration)
	}
	if c.AckDelay == 0 {
		c.AckDelay = DefaultAckDelay
	}
	return c
}
