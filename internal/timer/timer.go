// Package timer measures steady-state per-call latency of a callable.
package timer

import (
	"errors"
	"time"
)

// growth is the factor applied to the inner iteration count when a batch
// finishes under the minimum window.
const growth = 1.618

// Options controls a measurement. Non-positive Repeat and Number fall back
// to DefaultOptions; a zero Dryrun or MinRepeat means none.
type Options struct {
	Repeat    int
	Number    int
	Dryrun    int
	MinRepeat time.Duration
}

// DefaultOptions returns repeat=1, number=10, dryrun=3, min window 1s.
func DefaultOptions() Options {
	return Options{
		Repeat:    1,
		Number:    10,
		Dryrun:    3,
		MinRepeat: time.Second,
	}
}

var now = time.Now

// Measure runs thunk Dryrun times without recording, then once per
// repetition runs it in a tight loop, growing the inner count until a batch
// lasts at least MinRepeat. It returns one per-call latency in milliseconds
// per repetition. The inner count carries over between repetitions. The
// first error returned by thunk aborts the measurement.
func Measure(thunk func() error, opts Options) ([]float64, error) {
	if thunk == nil {
		return nil, errors.New("timer: nil thunk")
	}
	opts = withDefaults(opts)

	for i := 0; i < opts.Dryrun; i++ {
		if err := thunk(); err != nil {
			return nil, err
		}
	}

	minMs := float64(opts.MinRepeat) / float64(time.Millisecond)
	number := opts.Number
	results := make([]float64, 0, opts.Repeat)

	for r := 0; r < opts.Repeat; r++ {
		var lat float64
		for {
			beg := now()
			for i := 0; i < number; i++ {
				if err := thunk(); err != nil {
					return nil, err
				}
			}
			lat = float64(now().Sub(beg)) / float64(time.Millisecond)
			if lat >= minMs {
				break
			}
			number = nextNumber(minMs, lat, number)
		}
		results = append(results, lat/float64(number))
	}
	return results, nil
}

func nextNumber(minMs, lat float64, number int) int {
	grown := int(float64(number) * growth)
	if grown <= number {
		grown = number + 1
	}
	if lat <= 0 {
		return grown
	}
	estimate := int(minMs/(lat/float64(number)) + 1)
	if estimate > grown {
		return estimate
	}
	return grown
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.Repeat <= 0 {
		opts.Repeat = def.Repeat
	}
	if opts.Number <= 0 {
		opts.Number = def.Number
	}
	if opts.Dryrun < 0 {
		opts.Dryrun = 0
	}
	if opts.MinRepeat < 0 {
		opts.MinRepeat = 0
	}
	return opts
}
