package usbtmc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

type fixedTag byte

func (f fixedTag) nextbTag() byte { return byte(f) }

func TestBTagWrapsPastZero(t *testing.T) {
	g := newBTagGen()
	if tag := g.nextbTag(); tag != 1 {
		t.Errorf("expected first tag 1, got %d", tag)
	}
	g.value = 255
	if tag := g.nextbTag(); tag != 1 {
		t.Errorf("expected tag to wrap to 1, got %d", tag)
	}
}

func TestInvbTag(t *testing.T) {
	if inv := invbTag(0x05); inv != 0xfa {
		t.Errorf("expected 0xfa, got %#x", inv)
	}
}

func TestEncBulkOutHeader(t *testing.T) {
	hdr := encBulkOutHeader(fixedTag(3), 13)
	expected := [12]byte{0x01, 3, 0xfc, 0, 13, 0, 0, 0, 0x01, 0, 0, 0}
	if hdr != expected {
		t.Errorf("expected %v, got %v", expected, hdr)
	}
}

func TestEncBulkInHeaderTerminator(t *testing.T) {
	term := byte('\n')
	hdr := encBulkInHeader(fixedTag(7), 1500, &term)
	expected := [12]byte{0x02, 7, 0xf8, 0, 0xdc, 0x05, 0, 0, 0x02, '\n', 0, 0}
	if hdr != expected {
		t.Errorf("expected %v, got %v", expected, hdr)
	}
	hdr = encBulkInHeader(fixedTag(7), 1500, nil)
	if hdr[8] != 0 || hdr[9] != 0 {
		t.Errorf("expected no terminator bits without a terminator, got %v", hdr[8:10])
	}
}

func TestFrameOutPadsToFourBytes(t *testing.T) {
	msg := []byte("OUTPUT ON\n") // 10 bytes
	out := frameOut(fixedTag(1), msg)
	if len(out) != 24 {
		t.Fatalf("expected 24 byte transfer, got %d", len(out))
	}
	if diff := cmp.Diff(msg, out[12:22]); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	if out[22] != 0 || out[23] != 0 {
		t.Error("padding is not zero")
	}
}

func TestDecodeBulkInTrimsToTransferSize(t *testing.T) {
	buf := []byte{0x02, 1, 0xfe, 0, 3, 0, 0, 0, 0x01, 0, 0, 0, '1', '.', '5', 0, 0}
	resp, err := decodeBulkIn(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Data) != "1.5" {
		t.Errorf("expected payload 1.5, got %q", resp.Data)
	}
}

func TestDecodeBulkInShort(t *testing.T) {
	_, err := decodeBulkIn([]byte{1, 2, 3})
	if errors.Cause(err) != ErrShortHeader {
		t.Errorf("expected ErrShortHeader, got %v", err)
	}
}
