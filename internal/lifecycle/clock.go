package lifecycle

import (
	"context"
	"errors"
	"time"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

var ErrNoLocation = errors.New("clinic time zone not resolved")

// ZoneResolver maps a clinic to the IANA zone its calendar is kept in.
type ZoneResolver interface {
	ClinicLocation(ctx context.Context, clinicID string) (*time.Location, error)
}

type fixedZone struct {
	loc *time.Location
}

// FixedZone resolves every clinic to the same location.
func FixedZone(loc *time.Location) ZoneResolver {
	return fixedZone{loc: loc}
}

func (z fixedZone) ClinicLocation(ctx context.Context, clinicID string) (*time.Location, error) {
	if z.loc == nil {
		return nil, ErrNoLocation
	}
	return z.loc, nil
}
