package thorlabs

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/hcifs/comm"
	"github.com/nasa-jpl/hcifs/source"
	"github.com/nasa-jpl/hcifs/usbtmc"
	"github.com/pkg/errors"
)

// fakeMCLS1 accepts any number of connections and records every command line
type fakeMCLS1 struct {
	sync.Mutex
	ln      net.Listener
	echo    bool
	replies map[string]string
	lines   []string
}

func newFakeMCLS1(t *testing.T, echo bool, replies map[string]string) *fakeMCLS1 {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeMCLS1{ln: ln, echo: echo, replies: replies}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeMCLS1) serve(conn net.Conn) {
	defer conn.Close()
	rd := bufio.NewReader(conn)
	for {
		line, err := rd.ReadString('\r')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(line, "\r")
		f.Lock()
		f.lines = append(f.lines, line)
		reply, isQuery := f.replies[line]
		f.Unlock()
		if f.echo {
			conn.Write([]byte(line + "\r"))
		}
		if strings.HasSuffix(line, "?") {
			if !isQuery {
				reply = "CMD NOT DEFINED"
			}
			conn.Write([]byte("> " + reply + "\r"))
		}
	}
}

func (f *fakeMCLS1) recorded() []string {
	f.Lock()
	defer f.Unlock()
	return append([]string(nil), f.lines...)
}

func newTestMCLS1(t *testing.T, echo bool, replies map[string]string) (*MCLS1, *fakeMCLS1) {
	f := newFakeMCLS1(t, echo, replies)
	m := NewMCLS1(f.ln.Addr().String(), false, nil)
	m.Echo = echo
	m.SetPacing(0)
	return m, f
}

func TestMCLS1SetCurrentSequence(t *testing.T) {
	m, f := newTestMCLS1(t, false, nil)
	if err := m.SetCurrent(45.004, 2); err != nil {
		t.Fatal(err)
	}
	expected := []string{"channel=2", "enable=1", "current=45.00"}
	if diff := cmp.Diff(expected, f.recorded()); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
	if c := m.LastCurrent(2); c != 45 {
		t.Errorf("expected last current 45, got %f", c)
	}
}

func TestMCLS1ZeroCurrentDisablesChannel(t *testing.T) {
	m, f := newTestMCLS1(t, false, nil)
	if err := m.SetCurrent(0, 3); err != nil {
		t.Fatal(err)
	}
	expected := []string{"channel=3", "enable=0"}
	if diff := cmp.Diff(expected, f.recorded()); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
}

func TestMCLS1OverLimitDoesNoIO(t *testing.T) {
	m, f := newTestMCLS1(t, false, nil)
	err := m.SetCurrent(41.6, 3)
	var cle *source.CurrentLimitError
	if !errors.As(err, &cle) {
		t.Fatalf("expected CurrentLimitError, got %v", err)
	}
	if n := len(f.recorded()); n != 0 {
		t.Errorf("expected no commands sent, got %d", n)
	}
}

func TestMCLS1UnknownChannel(t *testing.T) {
	m, _ := newTestMCLS1(t, false, nil)
	if err := m.SetCurrent(10, 5); errors.Cause(err) != source.ErrUnknownChannel {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestMCLS1QueriesWithEcho(t *testing.T) {
	m, f := newTestMCLS1(t, true, map[string]string{"statword?": "00000101", "current?": "45.00"})
	status, err := m.Status()
	if err != nil {
		t.Fatal(err)
	}
	if status != "00000101" {
		t.Errorf("expected status 00000101, got %q", status)
	}
	c, err := m.GetCurrent(1)
	if err != nil {
		t.Fatal(err)
	}
	if c != 45 {
		t.Errorf("expected current 45, got %f", c)
	}
	expected := []string{"statword?", "channel=1", "current?"}
	if diff := cmp.Diff(expected, f.recorded()); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
}

func TestMCLS1EnableDisable(t *testing.T) {
	m, f := newTestMCLS1(t, false, nil)
	if err := m.Enable(); err != nil {
		t.Fatal(err)
	}
	if err := m.Disable(); err != nil {
		t.Fatal(err)
	}
	expected := []string{"system=1", "enable=0", "system=0"}
	if diff := cmp.Diff(expected, f.recorded()); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
}

func TestMCLS1ConnectionRefusedIsDeviceError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	m := NewMCLS1(addr, false, nil)
	m.SetPacing(0)
	err = m.SetCurrent(10, 1)
	var de *comm.DeviceError
	if !errors.As(err, &de) {
		t.Errorf("expected DeviceError, got %v", err)
	}
}

func TestMCLS1Wavelength(t *testing.T) {
	m := NewMCLS1("/dev/null", true, nil)
	wvl, err := m.Wavelength(4)
	if err != nil {
		t.Fatal(err)
	}
	if wvl != 705 {
		t.Errorf("expected 705 nm, got %f", wvl)
	}
}

// fakeBus is a usbtmc.ReadWriter answering queries from a table
type fakeBus struct {
	writes  []string
	replies map[string]string
	next    string
}

func (b *fakeBus) Write(p []byte) error {
	cmd := strings.TrimSuffix(string(p), "\n")
	b.writes = append(b.writes, cmd)
	b.next = b.replies[cmd]
	return nil
}

func (b *fakeBus) Read() (usbtmc.BulkInResponse, error) {
	return usbtmc.BulkInResponse{Data: []byte(b.next + "\n")}, nil
}

func TestITC4000SetCurrent(t *testing.T) {
	bus := &fakeBus{replies: map[string]string{"SYSTEM:ERROR?": `+0,"No error"`}}
	ldc := NewITC4000Bus(bus, 100)
	if err := ldc.SetCurrent(50, 1); err != nil {
		t.Fatal(err)
	}
	expected := []string{"SOURCE:FUNCTION:MODE CURRENT", "SOURCE:CURRENT 0.050000000", "OUTPUT ON", "SYSTEM:ERROR?"}
	if diff := cmp.Diff(expected, bus.writes); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
}

func TestITC4000ReportsDeviceErrors(t *testing.T) {
	bus := &fakeBus{replies: map[string]string{"SYSTEM:ERROR?": `22,"Interlock circuit is open"`}}
	ldc := NewITC4000Bus(bus, 100)
	err := ldc.Enable()
	var ldcErr LDCError
	if !errors.As(err, &ldcErr) {
		t.Fatalf("expected LDCError, got %v", err)
	}
	if ldcErr.Code != 22 {
		t.Errorf("expected code 22, got %d", ldcErr.Code)
	}
}

func TestITC4000OnlyChannelOne(t *testing.T) {
	bus := &fakeBus{}
	ldc := NewITC4000Bus(bus, 100)
	if err := ldc.SetCurrent(10, 2); errors.Cause(err) != source.ErrUnknownChannel {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
	var cle *source.CurrentLimitError
	if err := ldc.SetCurrent(101, 1); !errors.As(err, &cle) {
		t.Errorf("expected CurrentLimitError, got %v", err)
	}
	if len(bus.writes) != 0 {
		t.Errorf("expected no bus traffic, got %v", bus.writes)
	}
}

func TestITC4000GetCurrent(t *testing.T) {
	bus := &fakeBus{replies: map[string]string{"SOURCE:CURRENT?": "4.500000E-02"}}
	ldc := NewITC4000Bus(bus, 100)
	c, err := ldc.GetCurrent(1)
	if err != nil {
		t.Fatal(err)
	}
	if c < 44.999 || c > 45.001 {
		t.Errorf("expected 45 mA, got %f", c)
	}
}

var _ source.Capability = (*MCLS1)(nil)
var _ source.Capability = (*ITC4000)(nil)
