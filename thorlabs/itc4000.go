package thorlabs

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nasa-jpl/hcifs/comm"
	"github.com/nasa-jpl/hcifs/source"
	"github.com/nasa-jpl/hcifs/usbtmc"
)

/* unlike the remotedevice classes, the ITC4000 connection is always open
 */
const (
	// TLVID is the Thorlabs vendor ID
	TLVID = 0x1313

	// LDC4001PID is the LDC4001 / ITC4001 product ID
	LDC4001PID = 0x804a

	// ITC4000Channel is the only channel of an ITC4000
	ITC4000Channel = 1
)

// LDCError is a formattable error code from the controller
type LDCError struct {
	Code int
	Msg  string
}

// Error satisfies stdlib error interface
func (e LDCError) Error() string {
	if s, ok := ITC4000Errors[e.Code]; ok {
		return fmt.Sprintf("%d - %s", e.Code, s)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%d - %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("%d - UNKNOWN ERROR CODE", e.Code)
}

var (
	// ITC4000Errors maps ITC4000 error codes to strings
	ITC4000Errors = map[int]string{
		-100: "COMMAND ERROR",
		-101: "INVALID CHARACTER",
		-102: "SYNTAX ERROR",
		-103: "INVALID SEPARATOR",
		-104: "DATA TYPE ERROR",
		-108: "PARAMETER NOT ALLOWED",
		-109: "MISSING PARAMETER",
		-113: "UNDEFINED HEADER (UNKNOWN COMMAND)",
		-115: "UNEXPECTED NUMBER OF PARAMETERS",
		-120: "NUMERIC DATA ERROR",
		-131: "INVALID SUFFIX",

		-220: "PARAMETER ERROR",
		-221: "SETTINGS CONFLICT",
		-222: "DATA OUT OF RANGE",
		-240: "HARDWARE ERROR",
		-241: "HARDWARE MISSING",

		-310: "SYSTEM ERROR",
		-330: "SELF-TEST FAILED",
		-350: "QUEUE OVERFLOW",
		-363: "INPUT BUFFER OVERRUN",

		-400: "QUERY ERROR",

		3:  "INSTRUMENT IS OVERHEATED",
		20: "NOT PERMITTED WITH LD OUTPUT ON",
		22: "INTERLOCK CIRCUIT IS OPEN",
		23: "KEY SWITCH IN LOCKED POSITION",
		24: "LD OPEN CIRCUIT DETECTED",
		25: "LD-ENABLE INPUT IS DE-ASSERTED",
		26: "LD TEMPERATURE PROTECTION IS ACTIVE",
		30: "NOT PERMITTED WITH TEC OUTPUT ON",
		34: "TEC OPEN CIRCUIT DETECTED",
		35: "TEMPERATURE SENSOR FAILURE",
	}
)

// ITC4000 is a single-channel laser diode controller driven in constant
// current mode.  It satisfies source.Capability on channel 1.
type ITC4000 struct {
	sync.Mutex

	bus    usbtmc.ReadWriter
	limits source.Limits
}

// NewITC4000 opens the first controller with the given product ID seen on
// the USB and limits it to maxCurrent mA
func NewITC4000(pid uint16, maxCurrent float64) (*ITC4000, error) {
	d, err := usbtmc.NewUSBDevice(TLVID, pid)
	if err != nil {
		return nil, &comm.DeviceError{Op: "open ITC4000", Err: err}
	}
	return NewITC4000Bus(d, maxCurrent), nil
}

// NewITC4000Bus wraps an already-open bus
func NewITC4000Bus(bus usbtmc.ReadWriter, maxCurrent float64) *ITC4000 {
	return &ITC4000{bus: bus, limits: source.Limits{ITC4000Channel: maxCurrent}}
}

func (ldc *ITC4000) writeReadBus(cmd string) (string, error) {
	err := ldc.bus.Write(append([]byte(cmd), '\n'))
	if err != nil {
		return "", err
	}
	resp, err := ldc.bus.Read()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(resp.Data), "\r\n\x10"), nil
}

func (ldc *ITC4000) writeOnlyBus(cmd string) error {
	return ldc.bus.Write(append([]byte(cmd), '\n'))
}

// checkError pops the head of the error queue, formatted as
// +0,"No error" or -222,"Data out of range"
func (ldc *ITC4000) checkError() error {
	resp, err := ldc.writeReadBus("SYSTEM:ERROR?")
	if err != nil {
		return err
	}
	parts := strings.SplitN(resp, ",", 2)
	code, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return fmt.Errorf("unparseable error queue entry %q", resp)
	}
	if code == 0 {
		return nil
	}
	e := LDCError{Code: code}
	if len(parts) == 2 {
		e.Msg = strings.Trim(parts[1], `" `)
	}
	return e
}

func (ldc *ITC4000) command(op string, cmds ...string) error {
	ldc.Lock()
	defer ldc.Unlock()
	for _, cmd := range cmds {
		if err := ldc.writeOnlyBus(cmd); err != nil {
			return &comm.DeviceError{Op: op, Err: err}
		}
	}
	if err := ldc.checkError(); err != nil {
		return &comm.DeviceError{Op: op, Err: err}
	}
	return nil
}

// MaxCurrent returns the configured current ceiling in mA
func (ldc *ITC4000) MaxCurrent(channel int) (float64, error) {
	return ldc.limits.Max(channel)
}

// SetCurrent sets the output current in mA and turns the output on, or off
// if value is zero.  Requests above the ceiling are refused without any I/O.
func (ldc *ITC4000) SetCurrent(value float64, channel int) error {
	if err := ldc.limits.Check(value, channel); err != nil {
		return err
	}
	if value == 0 {
		return ldc.command("set current", "OUTPUT OFF")
	}
	return ldc.command("set current",
		"SOURCE:FUNCTION:MODE CURRENT",
		fmt.Sprintf("SOURCE:CURRENT %.9f", value/1e3),
		"OUTPUT ON")
}

// GetCurrent gets the output current in mA
func (ldc *ITC4000) GetCurrent(channel int) (float64, error) {
	if _, err := ldc.limits.Max(channel); err != nil {
		return 0, err
	}
	ldc.Lock()
	defer ldc.Unlock()
	resp, err := ldc.writeReadBus("SOURCE:CURRENT?")
	if err != nil {
		return 0, &comm.DeviceError{Op: "get current", Err: err}
	}
	f, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, &comm.DeviceError{Op: "get current", Err: err}
	}
	return f * 1e3, nil
}

// Enable turns the LD on
func (ldc *ITC4000) Enable() error {
	return ldc.command("enable", "OUTPUT ON")
}

// Disable turns the LD off
func (ldc *ITC4000) Disable() error {
	return ldc.command("disable", "OUTPUT OFF")
}

// Status reports the output state and operating mode, e.g. "output=1 mode=CURR"
func (ldc *ITC4000) Status() (string, error) {
	ldc.Lock()
	defer ldc.Unlock()
	out, err := ldc.writeReadBus("OUTPUT?")
	if err != nil {
		return "", &comm.DeviceError{Op: "status", Err: err}
	}
	mode, err := ldc.writeReadBus("SOURCE:FUNCTION:MODE?")
	if err != nil {
		return "", &comm.DeviceError{Op: "status", Err: err}
	}
	return fmt.Sprintf("output=%s mode=%s", out, mode), nil
}

// Raw sends a command and retrieves the reply if there is a question mark in the command, else returns "", err
func (ldc *ITC4000) Raw(cmd string) (string, error) {
	ldc.Lock()
	defer ldc.Unlock()
	if !strings.Contains(cmd, "?") {
		return "", ldc.writeOnlyBus(cmd)
	}
	return ldc.writeReadBus(cmd)
}
