package clock

import (
	"sync"
	"time"

	"watchroom-server/domain"
)

// Extrapolate returns the playback position of the anchor at now, in seconds.
// All "where are we right now" questions go through here.
func Extrapolate(a domain.Anchor, now time.Time) float64 {
	pos := a.Position
	if a.IsPlaying {
		if elapsed := now.Sub(a.LastUpdate); elapsed > 0 {
			pos += elapsed.Seconds()
		}
	}
	if pos < 0 {
		return 0
	}
	return pos
}

// Millis converts t to Unix milliseconds, the unit used for serverTime on the wire.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Clock lets tests replace the wall clock.
type Clock interface {
	Now() time.Time
}

type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Manual is a Clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}
