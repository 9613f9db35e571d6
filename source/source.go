/*Package source describes the capabilities of controllable light sources.

Sources are composed from small interfaces rather than a type hierarchy.  The
calibration loop only needs a CurrentController; servers and the CLI use the
full Capability.
*/
package source

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownChannel is generated when a channel has no configured limit
	ErrUnknownChannel = errors.New("channel is not configured on this source")

	// ErrNegativeCurrent is generated when a negative current is requested
	ErrNegativeCurrent = errors.New("current must be >= 0")
)

// CurrentController can drive the output current of one or more channels
type CurrentController interface {
	// SetCurrent sets the output current of a channel.  Implementations must
	// refuse values above MaxCurrent with a *CurrentLimitError without
	// touching the hardware.
	SetCurrent(value float64, channel int) error

	// MaxCurrent returns the largest current a channel may be driven at
	MaxCurrent(channel int) (float64, error)
}

// Capability is the full set of functionality expected of a source device
type Capability interface {
	CurrentController

	// GetCurrent returns the last current set on a channel
	GetCurrent(channel int) (float64, error)

	// Enable turns the source on
	Enable() error

	// Disable turns the source off
	Disable() error

	// Status returns a device-specific status word
	Status() (string, error)
}

// CurrentLimitError is generated when a requested current exceeds the
// channel maximum
type CurrentLimitError struct {
	Channel   int
	Requested float64
	Max       float64
}

func (e *CurrentLimitError) Error() string {
	return fmt.Sprintf("source: %.3f requested on channel %d exceeds maximum of %.3f", e.Requested, e.Channel, e.Max)
}

// Limits maps channel numbers to their maximum current
type Limits map[int]float64

// Max returns the maximum current for a channel
func (l Limits) Max(channel int) (float64, error) {
	m, ok := l[channel]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownChannel, "channel %d", channel)
	}
	return m, nil
}

// Check validates a request against the limits.  It returns a
// *CurrentLimitError if value exceeds the channel maximum.
func (l Limits) Check(value float64, channel int) error {
	m, err := l.Max(channel)
	if err != nil {
		return err
	}
	if value < 0 {
		return errors.Wrapf(ErrNegativeCurrent, "%.3f requested on channel %d", value, channel)
	}
	if value > m {
		return &CurrentLimitError{Channel: channel, Requested: value, Max: m}
	}
	return nil
}

// Channels returns the configured channels in ascending order
func (l Limits) Channels() []int {
	out := make([]int, 0, len(l))
	for k := range l {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Merge returns a copy of l with the entries of o replacing its own
func (l Limits) Merge(o Limits) Limits {
	out := make(Limits, len(l)+len(o))
	for k, v := range l {
		out[k] = v
	}
	for k, v := range o {
		out[k] = v
	}
	return out
}
