package usecase

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"booking-inbox/internal/domain"
)

const (
	defaultAppointmentTTL = 5 * time.Minute
	missingAppointmentTTL = time.Minute
)

type cachedAppointment struct {
	appt  domain.Appointment
	found bool
}

// CachedAppointments memoizes FindAppointmentByPhone. Misses are cached for a
// shorter time so a new booking is picked up quickly.
type CachedAppointments struct {
	next  AppointmentFinder
	cache *gocache.Cache
	ttl   time.Duration
}

func NewCachedAppointments(next AppointmentFinder, ttl time.Duration) (*CachedAppointments, error) {
	if next == nil {
		return nil, errors.New("usecase: appointment finder must not be nil")
	}
	if ttl <= 0 {
		ttl = defaultAppointmentTTL
	}
	return &CachedAppointments{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}, nil
}

func (c *CachedAppointments) FindAppointmentByPhone(ctx context.Context, phone string) (domain.Appointment, bool, error) {
	if v, ok := c.cache.Get(phone); ok {
		hit := v.(cachedAppointment)
		return hit.appt, hit.found, nil
	}
	appt, found, err := c.next.FindAppointmentByPhone(ctx, phone)
	if err != nil {
		return domain.Appointment{}, false, err
	}
	ttl := c.ttl
	if !found {
		ttl = min(ttl, missingAppointmentTTL)
	}
	c.cache.Set(phone, cachedAppointment{appt: appt, found: found}, ttl)
	return appt, found, nil
}
