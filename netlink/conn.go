package netlink

import (
	"fmt"
	"syscall"
	"time"

	"github.com/josharian/native"
)

// Message is one inner message yielded by a dump: the netlink type plus the
// payload bytes following the 16-byte header.
type Message struct {
	Type uint16
	Data []byte
}

// Config tunes the transport. The receive timeout bounds every read on the
// netlink socket; without it an unresponsive kernel would hang the run.
type Config struct {
	ReceiveTimeout time.Duration
	ReceiveBuffer  int
}

var DefaultConfig = Config{
	ReceiveTimeout: 5 * time.Second,
	ReceiveBuffer:  32 * 1024,
}

// sock is the syscall surface the receive loop drives. The real one lives
// in sys_linux.go; tests script their own.
type sock interface {
	send([]byte) error
	recv([]byte) (int, error)
	close() error
}

// Conn is a synchronous netlink connection: one socket, one outstanding
// request at a time.
type Conn struct {
	s       sock
	seq     uint32
	bufSize int
}

// Dialer opens a Conn for a netlink protocol family. Queries take a Dialer
// instead of a Conn so each one owns its socket's full lifecycle.
type Dialer func(protocol int) (*Conn, error)

// Dial opens a netlink socket for the given protocol family with the
// default configuration.
func Dial(protocol int) (*Conn, error) {
	return DialConfig(protocol, nil)
}

// DialConfig opens a netlink socket for the given protocol family.
func DialConfig(protocol int, conf *Config) (*Conn, error) {
	if conf == nil {
		conf = &DefaultConfig
	}
	s, err := dialSys(protocol, conf.ReceiveTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not open netlink socket (protocol %d): %w", protocol, err)
	}
	return &Conn{s: s, bufSize: conf.ReceiveBuffer}, nil
}

func (c *Conn) Close() error {
	return c.s.close()
}

// Execute serializes one request carrying the given payload, writes it and
// drives the receive loop until the kernel signals completion. The returned
// slice holds every inner message of the dump in arrival order.
//
// Termination: NLMSG_DONE ends the dump, as does an NLMSG_ERROR whose code
// is zero (plain acks arrive this way, and some requests terminate with one
// instead of a DONE). An NLMSG_ERROR with a non-zero code surfaces as the
// kernel's errno. Anything else below the inner-message range is a protocol
// violation and aborts the call.
func (c *Conn) Execute(typ uint16, flags uint16, payload []byte) ([]Message, error) {
	c.seq++

	req := make([]byte, nlmsgHdrLen+len(payload))
	native.Endian.PutUint32(req[0:4], uint32(len(req)))
	native.Endian.PutUint16(req[4:6], typ)
	native.Endian.PutUint16(req[6:8], flags|nlmRequest)
	native.Endian.PutUint32(req[8:12], c.seq)
	// Bytes 12:16 are the port id; zero lets the kernel fill it in.
	copy(req[nlmsgHdrLen:], payload)

	if err := c.s.send(req); err != nil {
		return nil, fmt.Errorf("netlink send: %w", err)
	}

	bufSize := c.bufSize
	if bufSize <= 0 {
		bufSize = DefaultConfig.ReceiveBuffer
	}
	buf := make([]byte, bufSize)

	var msgs []Message
	// pending accumulates received bytes so a frame whose declared length
	// spans two datagrams resumes at the exact byte offset where it left off.
	var pending []byte
	for {
		n, err := c.s.recv(buf)
		if err != nil {
			return nil, fmt.Errorf("netlink recv: %w", err)
		}
		pending = append(pending, buf[:n]...)

		for len(pending) >= nlmsgHdrLen {
			length := int(native.Endian.Uint32(pending[0:4]))
			if length == 0 {
				// An empty frame would make no progress; drop the buffer.
				pending = pending[:0]
				break
			}
			if length < nlmsgHdrLen {
				return nil, fmt.Errorf("netlink frame length %d below header size", length)
			}
			if length > len(pending) {
				// Rest of this frame is in a later datagram.
				break
			}

			typ := native.Endian.Uint16(pending[4:6])
			data := pending[nlmsgHdrLen:length]

			switch typ {
			case nlmsgNoop:
				// Ignored.
			case nlmsgDone:
				return msgs, nil
			case nlmsgError:
				code, err := errnoCode(data)
				if err != nil {
					return nil, err
				}
				if code == 0 {
					// Ack: some requests terminate with this instead of DONE.
					return msgs, nil
				}
				return nil, fmt.Errorf("netlink error reply: %w", syscall.Errno(code))
			case nlmsgOverrun:
				return nil, fmt.Errorf("netlink overrun")
			default:
				if typ < nlmsgMinType {
					return nil, fmt.Errorf("unexpected netlink message type %#x", typ)
				}
				d := make([]byte, len(data))
				copy(d, data)
				msgs = append(msgs, Message{Type: typ, Data: d})
			}

			adv := align(length)
			if adv > len(pending) {
				adv = len(pending)
			}
			pending = pending[adv:]
		}
	}
}

// errnoCode extracts the negated errno from an NLMSG_ERROR payload.
func errnoCode(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("netlink error reply too short (%d bytes)", len(data))
	}
	return -int(int32(native.Endian.Uint32(data[0:4]))), nil
}

func align(n int) int {
	return (n + nlmsgAlign - 1) &^ (nlmsgAlign - 1)
}
