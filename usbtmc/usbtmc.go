/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices.  This is a 'minimum viable product' for the bulk
transfer mode on Thorlabs laser diode controllers.

It does not, for example, include features to support multi-packet
messaging, and thus assumes your data fits in the remote's buffer.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Allocate a receipt buffer
2.  Create a read header and send it on the Out endpoint
3.  Read from the In endpoint

These macros are implemented as Write() and Read() on the concrete USB type defined in this package.
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/gousb"
	"github.com/pkg/errors"
)

const (
	// reserved is the byte to insert in reserved header fields
	reserved = 0x00

	headerLen = 12

	alignment = 4

	msgDevDepOut    = 0x01
	msgRequestIn    = 0x02
	bulkInBufSize   = 1500
	newline         = '\n'
	eomBit          = 0x01
	termCharBit     = 0x02
	defaultEndpoint = 2
)

// ErrShortHeader is generated when a bulk-in transfer is too short to hold a header
var ErrShortHeader = errors.New("bulk-in transfer shorter than the 12 byte header")

// ReadWriter is the bus a USBTMC instrument driver talks over
type ReadWriter interface {
	Write([]byte) error
	Read() (BulkInResponse, error)
}

// BTagger can generate atomic bTags
type BTagger interface {
	nextbTag() byte
}

// bTagGen is a concurrent-safe bTag generator
type bTagGen struct {
	// embedded mutex for concurrent safety
	sync.Mutex

	value byte
	min   byte
}

func newBTagGen() *bTagGen {
	return &bTagGen{value: 0, min: 1}
}

// nextbTag returns 1..255, wrapping past 0
func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value < b.min {
		b.value = b.min
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// BulkInResponse is the response from a bulk input read, split into header and payload
type BulkInResponse struct {
	// Header is the header bytes that are prepended to the data
	Header []byte

	// Data is the actual datagram body
	Data []byte
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(btag BTagger, datalen int) [headerLen]byte {
	out := [headerLen]byte{}
	/* data map by offset:
	0 MsgID, DEV_DEP_MSG_OUT
	1 bTag, unique and incrementing with each message
	2 bTagInverse
	3 Reserved (0x00)
	4-7 transferSize, LSB first, exclusive of header and alignment
	8 bitmap, bit 0 is EOM
	9-11 reserved
	*/
	tag := btag.nextbTag()
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = eomBit
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, puts 0x00 in the header and sets the bit to use it to false
func encBulkInHeader(btag BTagger, bufsize int, terminator *byte) [headerLen]byte {
	out := [headerLen]byte{}
	/* this differs from BulkOut by bytes 8~11
	8 bitmap, bit 1 is TermCharEnabled
	9 terminator byte
	10~11 reserved
	*/
	tag := btag.nextbTag()
	out[0] = msgRequestIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = termCharBit
		out[9] = *terminator
	}
	return out
}

// frameOut prepends the bulk-out header and pads to a 4-byte boundary
func frameOut(btag BTagger, b []byte) []byte {
	hdr := encBulkOutHeader(btag, len(b))
	n := headerLen + len(b)
	if residual := n % alignment; residual > 0 {
		n += alignment - residual
	}
	out := make([]byte, n)
	copy(out, hdr[:])
	copy(out[headerLen:], b)
	return out
}

// decodeBulkIn splits a bulk-in transfer into header and payload,
// trimming the payload to the transfer size in the header
func decodeBulkIn(buf []byte) (BulkInResponse, error) {
	if len(buf) < headerLen {
		return BulkInResponse{}, errors.Wrapf(ErrShortHeader, "got %d bytes", len(buf))
	}
	out := BulkInResponse{Header: buf[:headerLen], Data: buf[headerLen:]}
	size := int(binary.LittleEndian.Uint32(buf[4:8]))
	if size < len(out.Data) {
		out.Data = out.Data[:size]
	}
	return out, nil
}

// USBDevice is a struct hiding the details of USB and exposing a ReadWriter
type USBDevice struct {
	tagger BTagger
	ctx    *gousb.Context
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	device *gousb.Device
	iface  *gousb.Interface
	closer func()
}

// NewUSBDevice opens the first USB device with a given vendor and product ID
func NewUSBDevice(vid, pid uint16) (*USBDevice, error) {
	out := &USBDevice{tagger: newBTagGen(), ctx: gousb.NewContext()}
	var err error
	out.device, err = out.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		out.ctx.Close()
		return nil, err
	}
	if out.device == nil {
		out.ctx.Close()
		return nil, fmt.Errorf("no USB device with VID:PID %04x:%04x", vid, pid)
	}
	err = out.device.SetAutoDetach(true)
	if err != nil {
		out.Close()
		return nil, err
	}
	out.iface, out.closer, err = out.device.DefaultInterface()
	if err != nil {
		out.Close()
		return nil, err
	}
	out.in, err = out.iface.InEndpoint(defaultEndpoint)
	if err != nil {
		out.Close()
		return nil, err
	}
	out.out, err = out.iface.OutEndpoint(defaultEndpoint)
	if err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

// Read requests a newline-terminated message and reads it
func (d *USBDevice) Read() (BulkInResponse, error) {
	term := byte(newline)
	hdr := encBulkInHeader(d.tagger, bulkInBufSize, &term)
	n, err := d.out.Write(hdr[:])
	if err != nil {
		return BulkInResponse{}, err
	}
	if n < headerLen {
		// attempt a second write
		m, err := d.out.Write(hdr[n:])
		if err != nil {
			return BulkInResponse{}, err
		}
		if total := n + m; total != headerLen {
			return BulkInResponse{}, fmt.Errorf("wrote %d bytes, not full 12 required to transmit read request", total)
		}
	}
	buf := make([]byte, bulkInBufSize)
	n, err = d.in.Read(buf)
	if err != nil {
		return BulkInResponse{}, err
	}
	return decodeBulkIn(buf[:n])
}

// Write sends b as a single end-of-message transfer
func (d *USBDevice) Write(b []byte) error {
	_, err := d.out.Write(frameOut(d.tagger, b))
	return err
}

// Close releases the interface, device, and context
func (d *USBDevice) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return err
}
