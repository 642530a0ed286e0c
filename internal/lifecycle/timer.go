package lifecycle

import (
	"context"
	"sync"
	"time"
)

const DefaultInterval = 30 * time.Second

// StartAutoStatusUpdateTimer rescans the clinic's appointments on every tick
// and calls onUpdate when at least one appointment was promoted. The returned
// stop function ends the ticker; a scan already running is left to finish.
func (p *Promoter) StartAutoStatusUpdateTimer(source AppointmentSource, clinicID string, onUpdate func(ids []string), interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				p.scan(source, clinicID, onUpdate)
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}

func (p *Promoter) scan(source AppointmentSource, clinicID string, onUpdate func(ids []string)) {
	ctx, cancel := context.WithTimeout(context.Background(), p.tickTimeout)
	defer cancel()

	appointments, err := source.Appointments(ctx, clinicID)
	if err != nil {
		p.logger.Error().Err(err).Str("clinic_id", clinicID).Msg("load appointments for late scan")
		return
	}
	promoted := p.AutoUpdateLateStatus(ctx, appointments, clinicID)
	if len(promoted) > 0 && onUpdate != nil {
		onUpdate(promoted)
	}
}

// RunOnce performs a single scan outside any timer.
func (p *Promoter) RunOnce(ctx context.Context, source AppointmentSource, clinicID string) ([]string, error) {
	appointments, err := source.Appointments(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	return p.AutoUpdateLateStatus(ctx, appointments, clinicID), nil
}
