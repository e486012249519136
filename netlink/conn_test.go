package netlink

import (
	"errors"
	"io"
	"slices"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/josharian/native"
)

// fakeSock scripts the datagrams handed back by consecutive receives.
type fakeSock struct {
	sent   [][]byte
	frames [][]byte
	err    error
	closed bool
}

func (f *fakeSock) send(b []byte) error {
	f.sent = append(f.sent, slices.Clone(b))
	return nil
}

func (f *fakeSock) recv(b []byte) (int, error) {
	if len(f.frames) == 0 {
		if f.err != nil {
			return 0, f.err
		}
		return 0, io.ErrUnexpectedEOF
	}
	n := copy(b, f.frames[0])
	f.frames = f.frames[1:]
	return n, nil
}

func (f *fakeSock) close() error {
	f.closed = true
	return nil
}

func testConn(frames ...[]byte) (*Conn, *fakeSock) {
	s := &fakeSock{frames: frames}
	return &Conn{s: s, bufSize: 4096}, s
}

func testDialer(frames ...[]byte) Dialer {
	c, _ := testConn(frames...)
	return func(protocol int) (*Conn, error) { return c, nil }
}

// frame builds one netlink message with header and payload.
func frame(typ uint16, data []byte) []byte {
	b := make([]byte, nlmsgHdrLen+len(data))
	native.Endian.PutUint32(b[0:4], uint32(len(b)))
	native.Endian.PutUint16(b[4:6], typ)
	copy(b[nlmsgHdrLen:], data)
	return b
}

func doneFrame() []byte {
	return frame(nlmsgDone, make([]byte, 4))
}

func errFrame(errno int) []byte {
	data := make([]byte, 4+nlmsgHdrLen)
	native.Endian.PutUint32(data[0:4], uint32(int32(-errno)))
	return frame(nlmsgError, data)
}

func datagram(frames ...[]byte) []byte {
	var b []byte
	for _, f := range frames {
		b = append(b, f...)
	}
	return b
}

func TestExecuteRequestFraming(t *testing.T) {
	c, s := testConn(doneFrame())
	payload := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	if _, err := c.Execute(rtmGetLink, nlmDump, payload); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(s.sent) != 1 {
		t.Fatalf("sent %d requests; want 1", len(s.sent))
	}
	req := s.sent[0]
	if got := native.Endian.Uint32(req[0:4]); got != uint32(len(req)) {
		t.Errorf("request length field = %d; want %d", got, len(req))
	}
	if got := native.Endian.Uint16(req[4:6]); got != rtmGetLink {
		t.Errorf("request type = %d; want %d", got, rtmGetLink)
	}
	if got := native.Endian.Uint16(req[6:8]); got != nlmDump|nlmRequest {
		t.Errorf("request flags = %#x; want %#x", got, nlmDump|nlmRequest)
	}
	if !slices.Equal(req[nlmsgHdrLen:], payload) {
		t.Errorf("request payload = %x; want %x", req[nlmsgHdrLen:], payload)
	}
}

func TestExecuteYieldsInnerMessages(t *testing.T) {
	c, _ := testConn(
		datagram(frame(rtmNewLink, []byte{1, 2, 3, 4}), frame(rtmNewLink, []byte{5, 6, 7, 8})),
		doneFrame(),
	)
	got, err := c.Execute(rtmGetLink, nlmDump, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []Message{
		{Type: rtmNewLink, Data: []byte{1, 2, 3, 4}},
		{Type: rtmNewLink, Data: []byte{5, 6, 7, 8}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteReassemblesSplitFrame(t *testing.T) {
	// The same inner message delivered whole and split mid-frame across two
	// receives must decode identically.
	inner := frame(rtmNewLink, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE, 0xBA, 0xBE})

	whole, _ := testConn(datagram(inner, doneFrame()))
	want, err := whole.Execute(rtmGetLink, nlmDump, nil)
	if err != nil {
		t.Fatalf("whole Execute: %v", err)
	}

	cut := nlmsgHdrLen + 3 // split inside the payload
	split, _ := testConn(inner[:cut], datagram(inner[cut:], doneFrame()))
	got, err := split.Execute(rtmGetLink, nlmDump, nil)
	if err != nil {
		t.Fatalf("split Execute: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("split delivery diverged (-whole +split):\n%s", diff)
	}
}

func TestExecuteTermination(t *testing.T) {
	t.Run("done", func(t *testing.T) {
		c, _ := testConn(doneFrame())
		if _, err := c.Execute(rtmGetLink, nlmDump, nil); err != nil {
			t.Errorf("DONE should terminate cleanly, got %v", err)
		}
	})

	t.Run("ack", func(t *testing.T) {
		// An error frame with a zero code is an ack: a soft done.
		c, _ := testConn(datagram(frame(rtmNewLink, []byte{1, 2, 3, 4}), errFrame(0)))
		msgs, err := c.Execute(rtmGetLink, nlmAck, nil)
		if err != nil {
			t.Errorf("zero-code error should terminate cleanly, got %v", err)
		}
		if len(msgs) != 1 {
			t.Errorf("got %d messages; want 1", len(msgs))
		}
	})

	t.Run("error", func(t *testing.T) {
		c, _ := testConn(errFrame(int(syscall.EPERM)))
		_, err := c.Execute(rtmGetLink, nlmDump, nil)
		if !errors.Is(err, syscall.EPERM) {
			t.Errorf("got %v; want EPERM", err)
		}
	})
}

func TestExecuteSkipsNoop(t *testing.T) {
	c, _ := testConn(datagram(frame(nlmsgNoop, []byte{0, 0, 0, 0}), frame(rtmNewLink, []byte{1, 2, 3, 4}), doneFrame()))
	msgs, err := c.Execute(rtmGetLink, nlmDump, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != rtmNewLink {
		t.Errorf("got %v; want a single new-link message", msgs)
	}
}

func TestExecuteUnexpectedType(t *testing.T) {
	c, _ := testConn(frame(nlmsgOverrun, []byte{0, 0, 0, 0}))
	if _, err := c.Execute(rtmGetLink, nlmDump, nil); err == nil {
		t.Error("overrun must abort the dump")
	}

	c, _ = testConn(frame(0x5, []byte{0, 0, 0, 0}))
	if _, err := c.Execute(rtmGetLink, nlmDump, nil); err == nil {
		t.Error("reserved control type must abort the dump")
	}
}

func TestExecuteZeroLengthFrameResets(t *testing.T) {
	// A zero declared length cannot advance; the buffer is dropped and the
	// next datagram picks up from a clean offset.
	zero := make([]byte, nlmsgHdrLen)
	c, _ := testConn(zero, doneFrame())
	if _, err := c.Execute(rtmGetLink, nlmDump, nil); err != nil {
		t.Errorf("zero-length frame should be survivable, got %v", err)
	}
}

func TestExecuteRecvError(t *testing.T) {
	s := &fakeSock{err: syscall.ETIMEDOUT}
	c := &Conn{s: s, bufSize: 4096}
	_, err := c.Execute(rtmGetLink, nlmDump, nil)
	if !errors.Is(err, syscall.ETIMEDOUT) {
		t.Errorf("got %v; want ETIMEDOUT", err)
	}
}

func TestExecuteSequenceNumbers(t *testing.T) {
	c, s := testConn(doneFrame(), doneFrame())
	c.Execute(rtmGetLink, nlmDump, nil)
	c.Execute(rtmGetRoute, nlmDump, nil)
	if len(s.sent) != 2 {
		t.Fatalf("sent %d requests; want 2", len(s.sent))
	}
	s1 := native.Endian.Uint32(s.sent[0][8:12])
	s2 := native.Endian.Uint32(s.sent[1][8:12])
	if s2 != s1+1 {
		t.Errorf("sequence numbers %d, %d; want them consecutive", s1, s2)
	}
}
