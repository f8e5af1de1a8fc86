// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package vehicle

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/visslink/visrpc"
)

type pubRecord struct {
	path  string
	value any
	ts    int64
}

// A fakePublisher records the publications delivered to it.
type fakePublisher struct {
	recs []pubRecord
}

func (f *fakePublisher) Publish(path string, value any, ts int64) int {
	f.recs = append(f.recs, pubRecord{path, value, ts})
	return 1
}

func TestNewSimulatorErrors(t *testing.T) {
	t.Run("NilPublisher", func(t *testing.T) {
		sim, err := NewSimulator(nil, nil)
		require.Error(t, err)
		assert.Nil(t, sim)
		assert.Contains(t, err.Error(), "nil publisher")
	})

	t.Run("InvertedWaitBounds", func(t *testing.T) {
		_, err := NewSimulator(new(fakePublisher), &Options{
			MinWait: 5 * time.Second,
			MaxWait: time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds maximum")
	})

	t.Run("InvalidSignal", func(t *testing.T) {
		_, err := NewSimulator(new(fakePublisher), &Options{
			Signals: []Signal{{Path: "Vehicle.Bad", Kind: visrpc.String}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `signal "Vehicle.Bad"`)
	})
}

func TestSimulatorDefaults(t *testing.T) {
	sim, err := NewSimulator(new(fakePublisher), nil)
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, sim.min)
	assert.Equal(t, 5*time.Second, sim.max)
	assert.Len(t, sim.sigs, len(Catalog()))
}

func TestSimulatorWait(t *testing.T) {
	sim, err := NewSimulator(new(fakePublisher), &Options{
		MinWait: 10 * time.Millisecond,
		MaxWait: 20 * time.Millisecond,
		Rand:    rand.New(rand.NewSource(7)),
	})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		d := sim.wait()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
}

func TestSimulatorRun(t *testing.T) {
	pub := new(fakePublisher)
	var now int64 = 1700000000000
	sim, err := NewSimulator(pub, &Options{
		Signals: []Signal{{Path: "Vehicle.Test.Value", Kind: visrpc.Uint8, Min: 3, Max: 3}},
		MinWait: time.Millisecond,
		MaxWait: time.Millisecond,
		Rand:    rand.New(rand.NewSource(1)),
		TimeNow: func() int64 { now++; return now },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	// Let the simulator publish for a while, then stop it and verify that
	// it reports the cancellation.
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	require.NotEmpty(t, pub.recs)
	for _, rec := range pub.recs {
		assert.Equal(t, "Vehicle.Test.Value", rec.path)
		assert.Equal(t, uint8(3), rec.value)
		assert.Greater(t, rec.ts, int64(1700000000000))
	}
}

// A simulator constructed by hand can carry a signal the constructor would
// reject; step must skip it rather than publish garbage.
func TestSimulatorStepSkipsBadSignal(t *testing.T) {
	pub := new(fakePublisher)
	sim := &Simulator{
		pub:  pub,
		sigs: []Signal{{Path: "Vehicle.Bad", Kind: visrpc.String, Min: 0, Max: 1}},
		rng:  rand.New(rand.NewSource(3)),
		now:  func() int64 { return 1 },
		log:  func(string) {},
	}
	sim.step()
	assert.Empty(t, pub.recs)
}
