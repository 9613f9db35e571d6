package thorlabs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nasa-jpl/hcifs/comm"
	"github.com/nasa-jpl/hcifs/mathx"
	"github.com/nasa-jpl/hcifs/source"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

const (
	// MCLS1Baud is the baud rate of the MCLS1 serial port
	MCLS1Baud = 115200

	// DefaultPacing is the minimum time between commands sent to an MCLS1
	DefaultPacing = 50 * time.Millisecond

	currentResolution = 0.01

	prompt = ">"
)

var (
	// MCLS1Limits are the factory current limits (mA) of each MCLS1 channel
	MCLS1Limits = source.Limits{1: 68.09, 2: 63.89, 3: 41.59, 4: 67.39}

	// MCLS1Wavelengths are the center wavelengths (nm) of each MCLS1 channel
	MCLS1Wavelengths = map[int]float64{1: 635, 2: 658, 3: 670, 4: 705}
)

// MCLS1SerialConf returns the serial settings of an MCLS1, 115200 8N1
func MCLS1SerialConf() *serial.Config {
	return &serial.Config{
		Baud:        MCLS1Baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: time.Second}
}

// MCLS1 is a Thorlabs four channel fiber-coupled laser source.
//
// Commands are ASCII "attr=value" and queries "attr?", each carriage return
// terminated.  If Echo is true the device is assumed to echo each command
// line back before any reply, which is then discarded.
type MCLS1 struct {
	sync.Mutex
	comm.RemoteDevice

	// Limits are the per-channel current ceilings in mA
	Limits source.Limits

	// Echo indicates the device echoes commands
	Echo bool

	pace    *rate.Limiter
	current map[int]float64
}

// NewMCLS1 creates a new MCLS1 at addr, a serial port name if serial is true
// else a host:port of a terminal server.  If limits is nil the factory
// limits are used.
func NewMCLS1(addr string, serial bool, limits source.Limits) *MCLS1 {
	if limits == nil {
		limits = MCLS1Limits
	}
	m := &MCLS1{
		RemoteDevice: comm.NewRemoteDevice(addr, serial, MCLS1SerialConf()),
		Limits:       limits,
		current:      make(map[int]float64)}
	m.SetPacing(DefaultPacing)
	return m
}

// SetPacing sets the minimum interval between commands.  Zero disables pacing.
func (m *MCLS1) SetPacing(d time.Duration) {
	m.Lock()
	defer m.Unlock()
	if d <= 0 {
		m.pace = rate.NewLimiter(rate.Inf, 1)
		return
	}
	m.pace = rate.NewLimiter(rate.Every(d), 1)
}

// transact opens the connection, sends each line and collects the replies of
// queries (lines ending with '?'), then closes.  The caller must hold the lock.
func (m *MCLS1) transact(op string, lines ...string) ([]string, error) {
	err := m.Open()
	if err != nil {
		return nil, &comm.DeviceError{Op: op, Err: err}
	}
	defer m.Close()
	var replies []string
	for _, line := range lines {
		if err = m.pace.Wait(context.Background()); err != nil {
			return replies, &comm.DeviceError{Op: op, Err: err}
		}
		if err = m.Send([]byte(line)); err != nil {
			return replies, &comm.DeviceError{Op: op, Err: err}
		}
		if m.Echo {
			if _, err = m.Recv(); err != nil {
				return replies, &comm.DeviceError{Op: op, Err: err}
			}
		}
		if strings.HasSuffix(line, "?") {
			resp, err := m.Recv()
			if err != nil {
				return replies, &comm.DeviceError{Op: op, Err: err}
			}
			replies = append(replies, cleanReply(resp))
		}
	}
	return replies, nil
}

func cleanReply(b []byte) string {
	s := strings.TrimSpace(string(b))
	s = strings.TrimPrefix(s, prompt)
	return strings.TrimSpace(s)
}

// MaxCurrent returns the current ceiling of a channel
func (m *MCLS1) MaxCurrent(channel int) (float64, error) {
	return m.Limits.Max(channel)
}

// SetCurrent sets the current of a channel in mA.  A current of zero disables
// the channel; otherwise the channel is enabled and driven.  Requests above
// the channel ceiling are refused without any I/O.
func (m *MCLS1) SetCurrent(value float64, channel int) error {
	if err := m.Limits.Check(value, channel); err != nil {
		return err
	}
	value = mathx.Floor(value, currentResolution)
	m.Lock()
	defer m.Unlock()
	sel := "channel=" + strconv.Itoa(channel)
	var err error
	if value == 0 {
		_, err = m.transact("set current", sel, "enable=0")
	} else {
		_, err = m.transact("set current", sel, "enable=1", fmt.Sprintf("current=%.2f", value))
	}
	if err != nil {
		return err
	}
	m.current[channel] = value
	return nil
}

// GetCurrent queries the current of a channel in mA
func (m *MCLS1) GetCurrent(channel int) (float64, error) {
	if _, err := m.Limits.Max(channel); err != nil {
		return 0, err
	}
	m.Lock()
	defer m.Unlock()
	replies, err := m.transact("get current", "channel="+strconv.Itoa(channel), "current?")
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(replies[0], 64)
	if err != nil {
		return 0, &comm.DeviceError{Op: "get current", Err: err}
	}
	return f, nil
}

// LastCurrent returns the last current successfully set on a channel
// without talking to the device
func (m *MCLS1) LastCurrent(channel int) float64 {
	m.Lock()
	defer m.Unlock()
	return m.current[channel]
}

// Enable turns the system on
func (m *MCLS1) Enable() error {
	m.Lock()
	defer m.Unlock()
	_, err := m.transact("enable", "system=1")
	return err
}

// Disable turns off all channels and the system
func (m *MCLS1) Disable() error {
	m.Lock()
	defer m.Unlock()
	_, err := m.transact("disable", "enable=0", "system=0")
	if err == nil {
		m.current = make(map[int]float64)
	}
	return err
}

// Status returns the status word of the device
func (m *MCLS1) Status() (string, error) {
	m.Lock()
	defer m.Unlock()
	replies, err := m.transact("status", "statword?")
	if err != nil {
		return "", err
	}
	return replies[0], nil
}

// Wavelength returns the center wavelength of a channel in nm
func (m *MCLS1) Wavelength(channel int) (float64, error) {
	if _, err := m.Limits.Max(channel); err != nil {
		return 0, err
	}
	wvl, ok := MCLS1Wavelengths[channel]
	if !ok {
		return 0, fmt.Errorf("no wavelength known for channel %d", channel)
	}
	return wvl, nil
}

// Raw sends a command and returns the reply if it is a query
func (m *MCLS1) Raw(cmd string) (string, error) {
	m.Lock()
	defer m.Unlock()
	replies, err := m.transact("raw", cmd)
	if err != nil || len(replies) == 0 {
		return "", err
	}
	return replies[0], nil
}
