package streaming

import (
	"context"
	"math/rand"
	"time"
)

// revealSettings bound the per-tick rate of the simulated producer.
type revealSettings struct {
	minInterval time.Duration
	maxInterval time.Duration
	minRunes    int
	maxRunes    int
	rand        *rand.Rand
}

type RevealOption func(*revealSettings)

func WithTickInterval(min, max time.Duration) RevealOption {
	return func(s *revealSettings) {
		s.minInterval = min
		s.maxInterval = max
	}
}

func WithRunesPerTick(min, max int) RevealOption {
	return func(s *revealSettings) {
		s.minRunes = min
		s.maxRunes = max
	}
}

func WithRand(r *rand.Rand) RevealOption {
	return func(s *revealSettings) {
		s.rand = r
	}
}

// Reveal exposes a known final string through the same incremental-update
// contract as ReadStream, releasing a few runes per randomized tick. It is
// the producer used when no live backend is attached.
func Reveal(ctx context.Context, final string, onUpdate UpdateFunc, options ...RevealOption) (string, error) {
	settings := &revealSettings{
		minInterval: 20 * time.Millisecond,
		maxInterval: 80 * time.Millisecond,
		minRunes:    1,
		maxRunes:    4,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, option := range options {
		option(settings)
	}

	runes := []rune(final)
	completion := ""

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for len(runes) > 0 {
		timer.Reset(settings.interval())
		select {
		case <-ctx.Done():
			return completion, &AbortedError{Partial: completion, Err: ctx.Err()}
		case <-timer.C:
		}

		n := settings.runesPerTick()
		if n > len(runes) {
			n = len(runes)
		}
		delta := string(runes[:n])
		runes = runes[n:]
		completion += delta

		if err := onUpdate(delta, completion); err != nil {
			return completion, err
		}
	}

	return completion, nil
}

func (s *revealSettings) interval() time.Duration {
	if s.maxInterval <= s.minInterval {
		return s.minInterval
	}
	return s.minInterval + time.Duration(s.rand.Int63n(int64(s.maxInterval-s.minInterval)))
}

func (s *revealSettings) runesPerTick() int {
	if s.maxRunes <= s.minRunes {
		return s.minRunes
	}
	return s.minRunes + s.rand.Intn(s.maxRunes-s.minRunes+1)
}
