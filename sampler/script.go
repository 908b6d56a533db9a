package sampler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/attendify/faceenroll/pose"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScript is returned for scripts that can't be expanded.
var ErrInvalidScript = errors.New("invalid sample script")

// maxScriptSamples bounds how far a script may expand.
const maxScriptSamples = 1_000_000

// ScriptEntry is one line of a sample script. Face defaults to true; an
// entry with face: false produces empty ticks. Repeat defaults to 1.
//
//	- {yaw: 0, roll: 2, repeat: 25}
//	- {face: false, repeat: 3}
//	- {yaw: 30, repeat: 25}
type ScriptEntry struct {
	Yaw    float64 `yaml:"yaw"`
	Roll   float64 `yaml:"roll"`
	Face   *bool   `yaml:"face,omitempty"`
	Repeat int     `yaml:"repeat,omitempty"`
}

// Script is a recorded or hand-written sequence of samples, used to drive a
// session without a camera.
type Script []ScriptEntry

// ParseScript decodes a YAML sample script.
func ParseScript(data []byte) (Script, error) {
	var script Script

	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}

	if _, err := script.Samples(); err != nil {
		return nil, err
	}

	return script, nil
}

// LoadScript reads and decodes a YAML sample script file.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied script
	if err != nil {
		return nil, err
	}

	return ParseScript(data)
}

// Samples expands the script into one entry per tick.
func (s Script) Samples() ([]*pose.Sample, error) {
	var out []*pose.Sample

	for i, entry := range s {
		repeat := entry.Repeat
		if repeat == 0 {
			repeat = 1
		}

		if repeat < 0 {
			return nil, fmt.Errorf("%w: entry %d has negative repeat", ErrInvalidScript, i)
		}

		if len(out)+repeat > maxScriptSamples {
			return nil, fmt.Errorf("%w: more than %d samples", ErrInvalidScript, maxScriptSamples)
		}

		for range repeat {
			if entry.Face != nil && !*entry.Face {
				out = append(out, nil)

				continue
			}

			out = append(out, &pose.Sample{Yaw: entry.Yaw, Roll: entry.Roll})
		}
	}

	return out, nil
}

// Play delivers the script to sink, one sample per interval, and returns
// the number of samples the sink accepted. A zero interval plays as fast as
// the sink takes them.
func (s Script) Play(ctx context.Context, interval time.Duration, sink Sink) (int, error) {
	samples, err := s.Samples()
	if err != nil {
		return 0, err
	}

	var tick <-chan time.Time

	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		tick = ticker.C
	}

	accepted := 0

	for _, sample := range samples {
		if tick != nil {
			select {
			case <-ctx.Done():
				return accepted, ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return accepted, err
		}

		if sink(sample) {
			accepted++
		}
	}

	return accepted, nil
}
