package notify

import (
	"context"
	"fmt"
	"time"

	"dentaldesk/schedule-service/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultReminderSpec = "0 18 * * *"

type ReminderStore interface {
	EnqueueReminders(ctx context.Context, date string, now time.Time) (int, error)
}

// ReminderJob queues next-day reminders on a cron schedule evaluated in loc.
type ReminderJob struct {
	store  ReminderStore
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
	cron   *cron.Cron
}

func NewReminderJob(reminderStore ReminderStore, spec string, loc *time.Location, logger zerolog.Logger) (*ReminderJob, error) {
	if loc == nil {
		loc = time.UTC
	}
	if spec == "" {
		spec = DefaultReminderSpec
	}
	job := &ReminderJob{
		store:  reminderStore,
		loc:    loc,
		now:    time.Now,
		logger: logger.With().Str("component", "reminders").Logger(),
		cron:   cron.New(cron.WithLocation(loc)),
	}
	if _, err := job.cron.AddFunc(spec, job.tick); err != nil {
		return nil, fmt.Errorf("reminder schedule %q: %w", spec, err)
	}
	return job, nil
}

func (j *ReminderJob) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running tick.
func (j *ReminderJob) Stop() {
	<-j.cron.Stop().Done()
}

func (j *ReminderJob) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := j.RunFor(ctx, j.now()); err != nil {
		j.logger.Error().Err(err).Msg("enqueue reminders")
	}
}

// RunFor queues reminders for the day after now in the job's location.
func (j *ReminderJob) RunFor(ctx context.Context, now time.Time) (int, error) {
	tomorrow := now.In(j.loc).AddDate(0, 0, 1).Format(models.DateLayout)
	count, err := j.store.EnqueueReminders(ctx, tomorrow, now)
	if err != nil {
		return 0, err
	}
	j.logger.Info().Str("date", tomorrow).Int("count", count).Msg("reminders queued")
	return count, nil
}
