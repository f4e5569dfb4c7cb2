package danmaku

import (
	"cmp"
	"slices"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// SchedulerConfig holds the knobs of one playback session.
type SchedulerConfig struct {
	Tracks          int
	DisplayDuration time.Duration
	// TieBucket groups near-simultaneous items; inside one bucket tracks are handed out
	// in input order.
	TieBucket time.Duration
	// SeekThreshold is the largest forward jump Advance treats as normal playback.
	SeekThreshold time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Tracks:          8,
		DisplayDuration: 12 * time.Second,
		TieBucket:       100 * time.Millisecond,
		SeekThreshold:   2 * time.Second,
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	def := DefaultSchedulerConfig()
	if c.Tracks <= 0 {
		c.Tracks = def.Tracks
	}
	if c.DisplayDuration <= 0 {
		c.DisplayDuration = def.DisplayDuration
	}
	if c.TieBucket <= 0 {
		c.TieBucket = def.TieBucket
	}
	if c.SeekThreshold <= 0 {
		c.SeekThreshold = def.SeekThreshold
	}
	return c
}

type entry struct {
	item Item
	seq  int // input order
}

type track struct {
	busy     bool
	occupant string
	until    int64
}

// slot is one displayed item waiting for retirement.
type slot struct {
	id    string
	track int
	until int64
}

// Scheduler decides which items appear at each playback position and on which track.
// It is driven by a single playback loop: Advance, Seek and Insert must not be called
// concurrently. Retirement is a sweep inside Advance, not a timer.
type Scheduler struct {
	cfg      SchedulerConfig
	duration int64
	bucket   int64
	gap      int64

	items  []entry // ascending by (TimeMs, seq)
	ids    map[string]struct{}
	cursor int // items[:cursor] have TimeMs <= last
	late   []entry
	shown  map[string]struct{}

	tracks []track
	slots  []slot

	last    int64
	started bool
	seq     int

	log zerolog.Logger
}

// NewScheduler loads items once. Items with an empty id, a negative offset or a
// repeated id are logged and skipped.
func NewScheduler(items []Item, cfg SchedulerConfig, logger zerolog.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:      cfg,
		duration: cfg.DisplayDuration.Milliseconds(),
		bucket:   cfg.TieBucket.Milliseconds(),
		gap:      cfg.SeekThreshold.Milliseconds(),
		items:    make([]entry, 0, len(items)),
		ids:      make(map[string]struct{}, len(items)),
		shown:    make(map[string]struct{}),
		tracks:   make([]track, cfg.Tracks),
		log:      logger,
	}
	for _, it := range items {
		if err := s.validate(it); err != nil {
			s.log.Warn().Err(err).Str("danmaku_id", it.ID).Int64("time_ms", it.TimeMs).Msg("[danmaku] skipping item")
			continue
		}
		s.ids[it.ID] = struct{}{}
		s.items = append(s.items, entry{item: it, seq: s.seq})
		s.seq++
	}
	slices.SortStableFunc(s.items, func(a, b entry) int { return cmp.Compare(a.item.TimeMs, b.item.TimeMs) })
	return s
}

func (s *Scheduler) validate(it Item) error {
	switch {
	case it.ID == "":
		return ErrInvalidItem
	case it.TimeMs < 0:
		return ErrInvalidItem
	}
	if _, dup := s.ids[it.ID]; dup {
		return ErrDuplicateItem
	}
	return nil
}

// Advance moves the playhead to now and returns what changed: retire events for items
// whose display window ended, then show events for items that became due.
// A backward move or a forward jump larger than SeekThreshold is handled as a seek.
func (s *Scheduler) Advance(now int64) []Event {
	now = max(now, 0)
	var events []Event
	if s.started {
		switch {
		case now < s.last:
			events = s.rewind(now, events)
		case now-s.last > s.gap:
			s.skipTo(now)
		}
	}
	return s.step(now, events)
}

// Seek moves the playhead explicitly, whatever the distance.
func (s *Scheduler) Seek(now int64) []Event {
	now = max(now, 0)
	var events []Event
	if s.started && now < s.last {
		events = s.rewind(now, events)
	} else {
		s.skipTo(now)
	}
	return s.step(now, events)
}

func (s *Scheduler) step(now int64, events []Event) []Event {
	s.started = true
	s.last = now
	events = s.sweep(now, events)
	return s.release(now, events)
}

// rewind clears every track and re-arms the items after now so they can play again.
func (s *Scheduler) rewind(now int64, events []Event) []Event {
	for _, sl := range s.slots {
		events = append(events, Event{DanmakuID: sl.id, TrackIndex: sl.track, Action: ActionRetire})
	}
	s.slots = s.slots[:0]
	clear(s.tracks)
	s.late = s.late[:0]

	s.cursor = s.upperBound(now)
	for _, e := range s.items[s.cursor:] {
		delete(s.shown, e.item.ID)
	}
	s.log.Debug().Int64("from_ms", s.last).Int64("to_ms", now).Msg("[danmaku] rewind")
	return events
}

// skipTo marks everything before the landing bucket as shown without displaying it,
// so a jump ahead does not replay the whole skipped interval at once.
func (s *Scheduler) skipTo(now int64) {
	landing := now - s.bucket
	skipped := 0
	for s.cursor < len(s.items) && s.items[s.cursor].item.TimeMs <= landing {
		id := s.items[s.cursor].item.ID
		if _, ok := s.shown[id]; !ok {
			s.shown[id] = struct{}{}
			skipped++
		}
		s.cursor++
	}
	if skipped > 0 {
		s.log.Debug().Int64("to_ms", now).Int("skipped", skipped).Msg("[danmaku] skip ahead")
	}
}

// sweep retires displays whose window has ended. A track is only freed when the slot
// being retired is still its current occupant with the same deadline.
func (s *Scheduler) sweep(now int64, events []Event) []Event {
	kept := s.slots[:0]
	for _, sl := range s.slots {
		if sl.until > now {
			kept = append(kept, sl)
			continue
		}
		events = append(events, Event{DanmakuID: sl.id, TrackIndex: sl.track, Action: ActionRetire})
		if t := &s.tracks[sl.track]; t.busy && t.occupant == sl.id && t.until == sl.until {
			*t = track{}
		}
	}
	s.slots = kept
	return events
}

func (s *Scheduler) release(now int64, events []Event) []Event {
	batch := s.late
	s.late = nil
	for s.cursor < len(s.items) && s.items[s.cursor].item.TimeMs <= now {
		batch = append(batch, s.items[s.cursor])
		s.cursor++
	}
	if len(batch) == 0 {
		return events
	}

	slices.SortStableFunc(batch, func(a, b entry) int {
		if c := cmp.Compare(a.item.TimeMs/s.bucket, b.item.TimeMs/s.bucket); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	for _, e := range batch {
		if _, done := s.shown[e.item.ID]; done {
			continue
		}
		idx := s.allocate(now, e.item.ID)
		s.shown[e.item.ID] = struct{}{}
		events = append(events, Event{
			DanmakuID:  e.item.ID,
			TrackIndex: idx,
			Action:     ActionShow,
			Content:    e.item.Content,
			Color:      e.item.Color,
			Type:       e.item.Type,
		})
	}
	return events
}

// allocate takes the first free track. With every track busy the item goes to track 0
// and overlaps: a comment is never dropped for lack of space.
func (s *Scheduler) allocate(now int64, id string) int {
	idx := 0
	for i, t := range s.tracks {
		if !t.busy || t.until <= now {
			idx = i
			break
		}
	}
	until := now + s.duration
	s.tracks[idx] = track{busy: true, occupant: id, until: until}
	s.slots = append(s.slots, slot{id: id, track: idx, until: until})
	return idx
}

// Insert adds a live item to the session. An item whose offset is already behind the
// playhead is shown on the next Advance.
func (s *Scheduler) Insert(it Item) error {
	if err := s.validate(it); err != nil {
		return err
	}
	s.ids[it.ID] = struct{}{}
	e := entry{item: it, seq: s.seq}
	s.seq++

	pos := s.upperBound(it.TimeMs)
	s.items = slices.Insert(s.items, pos, e)
	if s.started && it.TimeMs <= s.last {
		s.cursor++
		s.late = append(s.late, e)
	}
	return nil
}

// upperBound is the index of the first item strictly after ms.
func (s *Scheduler) upperBound(ms int64) int {
	return sort.Search(len(s.items), func(i int) bool { return s.items[i].item.TimeMs > ms })
}

// Tracks returns a snapshot of every lane.
func (s *Scheduler) Tracks() []TrackState {
	out := make([]TrackState, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = TrackState{Index: i, Free: !t.busy, OccupantID: t.occupant, OccupiedUntil: t.until}
	}
	return out
}

// Len is the number of items loaded into the session.
func (s *Scheduler) Len() int { return len(s.items) }

// Position is the last playhead handed to Advance or Seek.
func (s *Scheduler) Position() int64 { return s.last }
