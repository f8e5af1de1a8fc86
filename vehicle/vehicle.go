// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package vehicle provides a catalog of simulated vehicle signals and a
// randomized publisher that stands in for a live vehicle data source.
package vehicle

import (
	"github.com/pkg/errors"
	"github.com/visslink/visrpc"
)

// A Signal describes one vehicle signal: its path, the wire type of its
// values, and the inclusive range of values the simulator draws from.
type Signal struct {
	Path string      // the signal path, e.g. "Vehicle.DriveTrain.FuelSystem.Level"
	Kind visrpc.Kind // the wire type of published values (an integer kind)
	Min  int64       // the smallest value published
	Max  int64       // the largest value published
}

// Catalog returns the built-in signal catalog.
func Catalog() []Signal {
	return []Signal{
		{Path: "Vehicle.Drivetrain.InternalCombustionEngine.Engine.Speed", Kind: visrpc.Uint16, Min: 0, Max: 20000},
		{Path: "Vehicle.DriveTrain.FuelSystem.Level", Kind: visrpc.Uint8, Min: 0, Max: 100},
		{Path: "Vehicle.DriveTrain.FuelSystem.Range", Kind: visrpc.Uint32, Min: 0, Max: 300000000},
		{Path: "Vehicle.DriveTrain.Transmission.Gear", Kind: visrpc.Int8, Min: -1, Max: 8},
	}
}

// A Publisher accepts published signal values for distribution to
// subscribers. It is satisfied by *visrpc.Registry.
type Publisher interface {
	// Publish reports value as the current value of the signal at path, and
	// returns the number of subscribers it was delivered to.
	Publish(path string, value any, ts int64) int
}

// native converts n into the native Go type of s.Kind.
func (s Signal) native(n int64) (any, error) {
	switch s.Kind {
	case visrpc.Int8:
		return int8(n), nil
	case visrpc.Uint8:
		return uint8(n), nil
	case visrpc.Int16:
		return int16(n), nil
	case visrpc.Uint16:
		return uint16(n), nil
	case visrpc.Int32:
		return int32(n), nil
	case visrpc.Uint32:
		return uint32(n), nil
	}
	return nil, errors.Errorf("kind %q is not an integer type", s.Kind)
}

// validate checks that s names a path and a usable value range.
func (s Signal) validate() error {
	if s.Path == "" {
		return errors.New("empty signal path")
	} else if _, err := s.native(0); err != nil {
		return err
	} else if s.Max < s.Min {
		return errors.Errorf("min %d exceeds max %d", s.Min, s.Max)
	}
	return nil
}
