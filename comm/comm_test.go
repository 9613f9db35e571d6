package comm_test

import (
	"io"
	"log"
	"net"
	"testing"

	"github.com/nasa-jpl/hcifs/comm"
	"github.com/pkg/errors"
)

func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen, test aborted")
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }() // use goroutines to handle multiple connections
		}
	}()
	return ln.Addr().String()
}

func tcpBurstServer(t *testing.T, reply string) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen, test aborted")
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		if _, err := conn.Read(buf); err != nil {
			log.Println("burst server read:", err)
			return
		}
		conn.Write([]byte(reply))
		conn.Read(buf) // hold the connection open until the client leaves
	}()
	return ln.Addr().String()
}

func TestSendRecvEcho(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false, nil)
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("current?"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "current?" {
		t.Errorf("expected echo of current?, got %q", resp)
	}
}

func TestRecvKeepsBufferedLines(t *testing.T) {
	addr := tcpBurstServer(t, "statword?\r00000101\r")
	rd := comm.NewRemoteDevice(addr, false, nil)
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	echo, err := rd.SendRecv([]byte("statword?"))
	if err != nil {
		t.Fatal(err)
	}
	if string(echo) != "statword?" {
		t.Errorf("expected echo line first, got %q", echo)
	}
	word, err := rd.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if string(word) != "00000101" {
		t.Errorf("expected the second line to survive buffering, got %q", word)
	}
}

func TestSerialWithoutConf(t *testing.T) {
	rd := comm.NewRemoteDevice("/dev/ttyUSB9", true, nil)
	if err := rd.Open(); err != comm.ErrNoSerialConf {
		t.Errorf("expected ErrNoSerialConf, got %v", err)
	}
}

func TestSendWhenClosed(t *testing.T) {
	rd := comm.NewRemoteDevice("127.0.0.1:1", false, nil)
	if err := rd.Send([]byte("x")); err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestDeviceErrorUnwraps(t *testing.T) {
	inner := errors.New("port vanished")
	err := errors.Wrap(&comm.DeviceError{Op: "set current", Err: inner}, "calibrate")
	var de *comm.DeviceError
	if !errors.As(err, &de) {
		t.Fatal("expected DeviceError to be reachable through wrapping")
	}
	if !errors.Is(err, inner) {
		t.Error("expected the underlying error to be reachable")
	}
}
