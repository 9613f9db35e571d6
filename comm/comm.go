/*Package comm provides interfaces and embeddable types for communication with lab hardware.

Most usages of this package will boil down to:
	1.  embed RemoteDevice in a type that represents your hardware.
	2.  set Terminators if the device does not use carriage returns
		(the default provided by Package comm)
	3.  if the link is a serial port, set SerialConf
	4.  Write any methods you see fit based on this low-level communication implementation,
		wrapping link failures in a *DeviceError

A minimal example for a source that responds to "statword?" with its status
word, assuming the default termination values are OK

	type MySource struct {
		comm.RemoteDevice
	}

	func (ms *MySource) Status() (string, error) {
		err := ms.Open()
		if err != nil {
			return "", &comm.DeviceError{Op: "status", Err: err}
		}
		defer ms.Close()
		resp, err := ms.SendRecv([]byte("statword?"))
		if err != nil {
			return "", &comm.DeviceError{Op: "status", Err: err}
		}
		return string(resp), nil
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

const (
	// DefaultTimeout is used for TCP connect, read, and write when a
	// RemoteDevice has no Timeout set
	DefaultTimeout = 3 * time.Second
)

var (
	terminator = byte('\r')

	// ErrNoSerialConf is generated when IsSerial=true and SerialConf is nil
	ErrNoSerialConf = errors.New("device is serial but has no SerialConf")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// DeviceError is a failure of the underlying hardware or its connection.
// It is never retried by the callers in this module.
type DeviceError struct {
	// Op is a short description of what was being done
	Op string

	// Err is the underlying failure
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Cause satisfies pkg/errors' causer
func (e *DeviceError) Cause() error {
	return e.Err
}

// Sender has a Send method that passes along a byte slice
type Sender interface {
	Send([]byte) error
}

// Recver has a Recv method that gets a byte slice
type Recver interface {
	Recv() ([]byte, error)
}

// SendRecver can send and recieve, and provides a method that sends then recieves
type SendRecver interface {
	Sender
	Recver

	SendRecv([]byte) ([]byte, error)
}

// Opener can open ("establish a connection" but in io language)
type Opener interface {
	Open() error
}

// A Communicator can Open, Send, Recv and Close
type Communicator interface {
	io.Closer
	Opener
	SendRecver
}

// Terminators holds the bytes that end a transmission in each direction
type Terminators struct {
	Tx byte
	Rx byte
}

/*RemoteDevice has an address and implements Communicator

If IsSerial is true, SerialConf must be populated.  Addr is then the name of
the serial port and is copied into SerialConf.Name on Open.

RemoteDevice is not concurrent safe; embedding types should hold a lock
around each transaction.
*/
type RemoteDevice struct {
	Addr       string
	IsSerial   bool
	SerialConf *serial.Config
	Timeout    time.Duration
	Term       Terminators
	Conn       io.ReadWriteCloser

	rd *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice instance with carriage return terminators
func NewRemoteDevice(addr string, serial bool, conf *serial.Config) RemoteDevice {
	return RemoteDevice{
		Addr:       addr,
		IsSerial:   serial,
		SerialConf: conf,
		Term:       Terminators{Tx: terminator, Rx: terminator}}
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	// we use an exponential backoff, terminal servers
	// do not like being connection thrashed
	wasTimeout := false
	var refused error
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") || err == ErrNoSerialConf {
				refused = err
				return nil
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if refused != nil {
		return refused
	}
	if err != nil && wasTimeout {
		return errors.Wrapf(err, "connection timeout to %s", rd.Addr)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var err error
	var conn io.ReadWriteCloser
	if rd.IsSerial {
		if rd.SerialConf == nil {
			return ErrNoSerialConf
		}
		conf := *rd.SerialConf
		conf.Name = rd.Addr
		conn, err = serial.OpenPort(&conf)
	} else {
		conn, err = TCPSetup(rd.Addr, rd.timeout())
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rd = bufio.NewReader(conn)
	return nil
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout <= 0 {
		return DefaultTimeout
	}
	return rd.Timeout
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
		rd.rd = nil
	}
	return err
}

// Send writes data to the remote after appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, rd.Term.Tx)
	_, err := rd.Conn.Write(buf)
	return err
}

// Recv recieves data from the remote and strips the Rx terminator.
// Bytes past the terminator stay buffered for the next call.
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if rd.rd == nil {
		rd.rd = bufio.NewReader(rd.Conn)
	}
	term := rd.Term.Rx
	buf, err := rd.rd.ReadBytes(term)
	if err != nil {
		return []byte{}, err
	}
	if bytes.HasSuffix(buf, []byte{term}) {
		return buf[:len(buf)-1], nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	if rd.Conn == nil {
		return []byte{}, ErrNotConnected
	}
	err := rd.Send(b)
	if err != nil {
		return []byte{}, err
	}
	return rd.Recv()
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
