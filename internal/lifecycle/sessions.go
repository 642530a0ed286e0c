package lifecycle

import (
	"sort"
	"sync"
	"time"
)

// Sessions runs one promotion timer per clinic while at least one calendar
// session for that clinic is open.
type Sessions struct {
	mu       sync.Mutex
	promoter *Promoter
	source   AppointmentSource
	interval time.Duration
	onUpdate func(clinicID string, ids []string)
	active   map[string]*clinicTimer
}

type clinicTimer struct {
	refs int
	stop func()
}

func NewSessions(promoter *Promoter, source AppointmentSource, interval time.Duration, onUpdate func(clinicID string, ids []string)) *Sessions {
	return &Sessions{
		promoter: promoter,
		source:   source,
		interval: interval,
		onUpdate: onUpdate,
		active:   make(map[string]*clinicTimer),
	}
}

// Acquire registers a calendar session and returns its release function.
func (s *Sessions) Acquire(clinicID string) (release func()) {
	s.mu.Lock()
	timer, ok := s.active[clinicID]
	if !ok {
		notify := func(ids []string) {
			if s.onUpdate != nil {
				s.onUpdate(clinicID, ids)
			}
		}
		timer = &clinicTimer{stop: s.promoter.StartAutoStatusUpdateTimer(s.source, clinicID, notify, s.interval)}
		s.active[clinicID] = timer
	}
	timer.refs++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.release(clinicID, timer) })
	}
}

// release only counts against the timer the session acquired, so a session
// that outlived StopAll cannot stop a newer timer for the same clinic.
func (s *Sessions) release(clinicID string, acquired *clinicTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.active[clinicID]
	if !ok || timer != acquired {
		return
	}
	timer.refs--
	if timer.refs > 0 {
		return
	}
	timer.stop()
	delete(s.active, clinicID)
}

func (s *Sessions) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	clinics := make([]string, 0, len(s.active))
	for clinicID := range s.active {
		clinics = append(clinics, clinicID)
	}
	sort.Strings(clinics)
	return clinics
}

func (s *Sessions) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for clinicID, timer := range s.active {
		timer.stop()
		delete(s.active, clinicID)
	}
}
