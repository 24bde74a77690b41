package resolver

import (
	"context"
	"errors"
	"sync"

	"github.com/pmkol/locres/pkg/location"
)

// ErrSuperseded is returned by a Session lookup that was replaced by a
// newer lookup in the same slot before it finished.
var ErrSuperseded = errors.New("lookup superseded by a newer one")

type slot int

const (
	slotCountries slot = iota
	slotStates
	slotCities
	numSlots
)

type ticket struct {
	seq    uint64
	cancel context.CancelFunc
}

// Session serializes the cascading lookups of one client (one form). In
// each slot only the latest lookup may deliver a result. Selecting a
// country also invalidates a pending city lookup, since the state it
// was made for no longer applies.
type Session struct {
	r *Resolver

	mu    sync.Mutex
	slots [numSlots]ticket
}

func (r *Resolver) NewSession() *Session {
	return &Session{r: r}
}

// begin takes a new ticket in s and cancels the pending lookups of s and
// of every slot in also.
func (sess *Session) begin(ctx context.Context, s slot, also ...slot) (context.Context, func(error) error) {
	ctx, cancel := context.WithCancel(ctx)

	sess.mu.Lock()
	for _, o := range also {
		sess.supersedeLocked(o)
	}
	sess.supersedeLocked(s)
	sess.slots[s].cancel = cancel
	seq := sess.slots[s].seq
	sess.mu.Unlock()

	finish := func(err error) error {
		sess.mu.Lock()
		current := sess.slots[s].seq == seq
		if current {
			sess.slots[s].cancel = nil
		}
		sess.mu.Unlock()
		cancel()
		if !current {
			return ErrSuperseded
		}
		return err
	}
	return ctx, finish
}

func (sess *Session) supersedeLocked(s slot) {
	t := &sess.slots[s]
	t.seq++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// LoadCountries loads the country list.
func (sess *Session) LoadCountries(ctx context.Context) ([]location.Country, error) {
	ctx, finish := sess.begin(ctx, slotCountries)
	v, err := sess.r.Countries(ctx)
	if err = finish(err); err != nil {
		return nil, err
	}
	return v, nil
}

// SelectCountry loads the states of country.
func (sess *Session) SelectCountry(ctx context.Context, country string) ([]location.State, error) {
	ctx, finish := sess.begin(ctx, slotStates, slotCities)
	v, err := sess.r.States(ctx, country)
	if err = finish(err); err != nil {
		return nil, err
	}
	return v, nil
}

// SelectState loads the cities of state.
func (sess *Session) SelectState(ctx context.Context, country, state string) (location.CityList, error) {
	ctx, finish := sess.begin(ctx, slotCities)
	v, err := sess.r.Cities(ctx, country, state)
	if err = finish(err); err != nil {
		return location.CityList{}, err
	}
	return v, nil
}

// Close cancels every pending lookup. They return ErrSuperseded.
func (sess *Session) Close() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for s := slot(0); s < numSlots; s++ {
		sess.supersedeLocked(s)
	}
}
