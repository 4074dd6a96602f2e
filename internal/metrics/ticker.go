package metrics

import (
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the broadcast period while any session subscribes.
const DefaultInterval = 2 * time.Second

// Snapshot is one performance_metrics payload. Memory, activeUsers,
// serverLoad and errorRate come from live counters; the rest are
// synthetic but plausible.
type Snapshot struct {
	CPU          float64   `json:"cpu"`
	Memory       float64   `json:"memory"`
	Network      float64   `json:"network"`
	BuildTime    float64   `json:"buildTime"`
	ActiveUsers  int       `json:"activeUsers"`
	ServerLoad   float64   `json:"serverLoad"`
	ErrorRate    float64   `json:"errorRate"`
	ResponseTime float64   `json:"responseTime"`
	Timestamp    time.Time `json:"timestamp"`
}

// Source supplies the live user count folded into each snapshot.
type Source interface {
	TotalMembers() int
}

// Broadcaster delivers a snapshot to every member of one session.
type Broadcaster func(sessionID string, snap Snapshot)

// Ticker computes load metrics on a fixed interval and fans them out to
// subscribed sessions. The goroutine runs only while at least one
// session is subscribed.
type Ticker struct {
	interval time.Duration
	source   Source
	emit     Broadcaster
	log      *zerolog.Logger

	events atomic.Int64
	errors atomic.Int64

	mu   sync.Mutex
	subs map[string]int
	stop chan struct{}
}

// NewTicker creates a stopped ticker. interval zero means the 2s default.
func NewTicker(interval time.Duration, source Source, emit Broadcaster, logger *zerolog.Logger) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{
		interval: interval,
		source:   source,
		emit:     emit,
		log:      logger,
		subs:     make(map[string]int),
	}
}

// Subscribe adds one subscriber to a session, starting the ticker if it
// was idle.
func (t *Ticker) Subscribe(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[sessionID]++
	if t.stop == nil {
		t.stop = make(chan struct{})
		go t.run(t.stop)
		t.log.Debug().Msg("metrics ticker started")
	}
}

// Unsubscribe releases one subscriber of a session. The session stops
// receiving ticks when its last subscriber goes; the ticker stops when
// the last session goes.
func (t *Ticker) Unsubscribe(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.subs[sessionID]
	if !ok {
		return
	}
	if n--; n <= 0 {
		delete(t.subs, sessionID)
	} else {
		t.subs[sessionID] = n
	}
	if len(t.subs) == 0 && t.stop != nil {
		close(t.stop)
		t.stop = nil
		t.log.Debug().Msg("metrics ticker stopped")
	}
}

// DropSession removes every subscriber of a session, for session
// deletion and purge.
func (t *Ticker) DropSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[sessionID]; !ok {
		return
	}
	delete(t.subs, sessionID)
	if len(t.subs) == 0 && t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// CountEvent records one handled inbound event.
func (t *Ticker) CountEvent() {
	t.events.Add(1)
}

// CountError records one rejected inbound event.
func (t *Ticker) CountError() {
	t.errors.Add(1)
}

func (t *Ticker) run(stop chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Ticker) tick() {
	t.mu.Lock()
	sessions := make([]string, 0, len(t.subs))
	for id := range t.subs {
		sessions = append(sessions, id)
	}
	t.mu.Unlock()
	if len(sessions) == 0 {
		return
	}

	snap := t.snapshot()
	for _, id := range sessions {
		t.emit(id, snap)
	}
}

func (t *Ticker) snapshot() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	memory := 0.0
	if ms.Sys > 0 {
		memory = float64(ms.HeapAlloc) / float64(ms.Sys) * 100
	}

	events := t.events.Load()
	errorRate := 0.0
	if events > 0 {
		errorRate = float64(t.errors.Load()) / float64(events) * 100
	}

	return Snapshot{
		CPU:          10 + rand.Float64()*40,
		Memory:       memory,
		Network:      50 + rand.Float64()*450,
		BuildTime:    300 + rand.Float64()*1200,
		ActiveUsers:  t.source.TotalMembers(),
		ServerLoad:   float64(runtime.NumGoroutine()),
		ErrorRate:    errorRate,
		ResponseTime: 5 + rand.Float64()*75,
		Timestamp:    time.Now(),
	}
}
