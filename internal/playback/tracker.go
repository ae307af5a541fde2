package playback

import (
	"sync"
	"time"
)

// Chunk is one synthesized audio segment on the playback timeline.
type Chunk struct {
	ScheduledAt time.Time
	Duration    time.Duration
	TextChars   int
	Ended       bool
}

// Stats reports how much of the scheduled timeline has actually been
// rendered to the listener at the moment of the call.
type Stats struct {
	PlayedSeconds     float64
	TotalSeconds      float64
	PlaybackPercent   float64
	PlayedTextPercent float64
}

// Tracker schedules synthesized chunks for gapless ordered playback and
// reconstructs playback progress from the timeline and the clock. It is
// the source of truth for "how much did the listener hear" when a turn is
// interrupted; the synthesis engine never reports position itself.
type Tracker struct {
	mu sync.Mutex

	// bufferLatency is the look-ahead applied to the first chunk after an
	// idle period. Without it back-to-back chunks race the audio clock and
	// produce audible gaps; it must stay small so interruption latency does.
	bufferLatency time.Duration
	timeline      []Chunk
	stopped       bool

	now func() time.Time
}

// NewTracker builds a tracker with the given look-ahead buffer.
func NewTracker(bufferLatency time.Duration) *Tracker {
	return &Tracker{bufferLatency: bufferLatency, now: time.Now}
}

// Schedule appends a chunk to the timeline. The chunk starts at
// max(now+bufferLatency, end of previous chunk) so playback is gapless
// and strictly ordered. Returns the scheduled start.
func (t *Tracker) Schedule(duration time.Duration, textChars int) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.now().Add(t.bufferLatency)
	if n := len(t.timeline); n > 0 {
		prevEnd := t.timeline[n-1].ScheduledAt.Add(t.timeline[n-1].Duration)
		if prevEnd.After(start) {
			start = prevEnd
		}
	}
	t.timeline = append(t.timeline, Chunk{ScheduledAt: start, Duration: duration, TextChars: textChars})
	t.stopped = false
	return start
}

// MarkEnded flips the ended flag for the chunk at index. Stray completion
// callbacks for chunks that were already force-stopped are ignored.
func (t *Tracker) MarkEnded(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.timeline) {
		return
	}
	t.timeline[index].Ended = true
}

// IsSpeaking reports whether any scheduled audio is still rendering.
func (t *Tracker) IsSpeaking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	now := t.now()
	for _, c := range t.timeline {
		if !c.Ended && now.Before(c.ScheduledAt.Add(c.Duration)) {
			return true
		}
	}
	return false
}

// Stats reconstructs elapsed audio time and text characters from the
// timeline. Partially played chunks contribute a prorated fraction.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var played, total float64
	var playedChars, totalChars float64
	for _, c := range t.timeline {
		dur := c.Duration.Seconds()
		total += dur
		totalChars += float64(c.TextChars)

		frac := chunkFraction(c, now)
		played += dur * frac
		playedChars += float64(c.TextChars) * frac
	}

	s := Stats{PlayedSeconds: played, TotalSeconds: total}
	if total > 0 {
		s.PlaybackPercent = played / total
	}
	if totalChars > 0 {
		s.PlayedTextPercent = playedChars / totalChars
	}
	return s
}

func chunkFraction(c Chunk, now time.Time) float64 {
	if c.Ended {
		return 1
	}
	if !now.After(c.ScheduledAt) {
		return 0
	}
	if c.Duration <= 0 {
		return 1
	}
	elapsed := now.Sub(c.ScheduledAt)
	if elapsed >= c.Duration {
		return 1
	}
	return float64(elapsed) / float64(c.Duration)
}

// Stop halts all scheduled chunks immediately and clears the timeline.
// Used by barge-in handling and session teardown. Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeline = nil
	t.stopped = true
}

// Reset is an alias for Stop kept for callers that restart a session.
func (t *Tracker) Reset() { t.Stop() }

// Len returns the number of chunks currently on the timeline.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timeline)
}
