// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package vehicle

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/visslink/visrpc"
)

// A Simulator publishes random values for a set of signals at random
// intervals.
type Simulator struct {
	pub  Publisher
	sigs []Signal
	min  time.Duration
	max  time.Duration
	rng  *rand.Rand
	now  func() int64
	log  visrpc.Logger
}

// Options control the behavior of a Simulator. A nil *Options is valid and
// provides default values as described.
type Options struct {
	// The signals to simulate. If empty, the built-in Catalog is used.
	Signals []Signal

	// Bounds on the random pause between publications. Zero values default
	// to 100 milliseconds and 5 seconds respectively.
	MinWait, MaxWait time.Duration

	// The source of randomness. If nil, a time-seeded source is used.
	Rand *rand.Rand

	// Reports the current time as milliseconds since the Unix epoch.
	// If nil, the system clock is used.
	TimeNow func() int64

	// If non-nil, the simulator logs each publication here.
	Logger visrpc.Logger
}

func (o *Options) signals() []Signal {
	if o == nil || len(o.Signals) == 0 {
		return Catalog()
	}
	return o.Signals
}

func (o *Options) waitBounds() (min, max time.Duration) {
	min, max = 100*time.Millisecond, 5*time.Second
	if o != nil && o.MinWait > 0 {
		min = o.MinWait
	}
	if o != nil && o.MaxWait > 0 {
		max = o.MaxWait
	}
	return
}

func (o *Options) rand() *rand.Rand {
	if o == nil || o.Rand == nil {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o.Rand
}

func (o *Options) timeNow() func() int64 {
	if o == nil || o.TimeNow == nil {
		return func() int64 { return time.Now().UnixMilli() }
	}
	return o.TimeNow
}

func (o *Options) logger() visrpc.Logger {
	if o == nil || o.Logger == nil {
		return func(string) {}
	}
	return o.Logger
}

// NewSimulator constructs a simulator that delivers values to pub. It
// reports an error if pub == nil, if the options include an invalid signal,
// or if the wait bounds are out of order.
func NewSimulator(pub Publisher, opts *Options) (*Simulator, error) {
	if pub == nil {
		return nil, errors.New("nil publisher")
	}
	min, max := opts.waitBounds()
	if max < min {
		return nil, errors.Errorf("minimum wait %v exceeds maximum %v", min, max)
	}
	sigs := opts.signals()
	for _, sig := range sigs {
		if err := sig.validate(); err != nil {
			return nil, errors.Wrapf(err, "signal %q", sig.Path)
		}
	}
	return &Simulator{
		pub:  pub,
		sigs: sigs,
		min:  min,
		max:  max,
		rng:  opts.rand(),
		now:  opts.timeNow(),
		log:  opts.logger(),
	}, nil
}

// Run publishes random signal values until ctx ends, then reports the error
// that ended it.
func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTimer(s.wait())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.step()
			t.Reset(s.wait())
		}
	}
}

// wait returns a uniform random duration in [s.min, s.max].
func (s *Simulator) wait() time.Duration {
	return s.min + time.Duration(s.rng.Int63n(int64(s.max-s.min)+1))
}

// step publishes one value for one randomly chosen signal.
func (s *Simulator) step() {
	sig := s.sigs[s.rng.Intn(len(s.sigs))]
	n := sig.Min + s.rng.Int63n(sig.Max-sig.Min+1)
	value, err := sig.native(n)
	if err != nil {
		s.log.Printf("Skipped %s: %v", sig.Path, err)
		return
	}
	subs := s.pub.Publish(sig.Path, value, s.now())
	s.log.Printf("Published %s = %d to %d subscribers", sig.Path, n, subs)
}
