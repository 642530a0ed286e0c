package settings

import (
	"sync"
	"time"

	"dentaldesk/schedule-service/internal/models"
	"dentaldesk/schedule-service/internal/schedule"

	lru "github.com/hashicorp/golang-lru/v2"
)

type hoursEntry struct {
	clinic    models.Clinic
	weekly    schedule.WeeklySchedule
	expiresAt time.Time
}

// HoursCache keeps recently used clinic settings for a bounded time.
type HoursCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *hoursEntry]
	ttl   time.Duration
	now   func() time.Time
}

func NewHoursCache(size int, ttl time.Duration, now func() time.Time) (*HoursCache, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, *hoursEntry](size)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &HoursCache{cache: cache, ttl: ttl, now: now}, nil
}

func (c *HoursCache) Get(clinicID string) (models.Clinic, schedule.WeeklySchedule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.Get(clinicID)
	if !ok {
		return models.Clinic{}, schedule.WeeklySchedule{}, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.cache.Remove(clinicID)
		return models.Clinic{}, schedule.WeeklySchedule{}, false
	}
	return entry.clinic, entry.weekly, true
}

func (c *HoursCache) Add(clinic models.Clinic, weekly schedule.WeeklySchedule) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(clinic.ClinicID, &hoursEntry{
		clinic:    clinic,
		weekly:    weekly,
		expiresAt: c.now().Add(c.ttl),
	})
}

func (c *HoursCache) Invalidate(clinicID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(clinicID)
}

func (c *HoursCache) Len() int {
	return c.cache.Len()
}
