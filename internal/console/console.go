// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// package console drives a device CLI over an out-of-band connection,
// either a telnet console server or a local serial line. It exists to
// bootstrap devices that are not yet reachable over the management
// protocol: the whole load/commit sequence is pushed through the CLI in
// one shot.
package console

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultTimeout bounds each prompt exchange when the spec leaves the
// timeout at 0. Console lines are slow; this is deliberately generous.
const DefaultTimeout = 60 * time.Second

const defaultBaudRate = 9600

// telnet protocol bytes for the minimal IAC negotiation below.
const (
	telnetIAC  = 0xFF
	telnetDONT = 0xFE
	telnetDO   = 0xFD
	telnetWONT = 0xFC
	telnetWILL = 0xFB
	telnetSB   = 0xFA
	telnetSE   = 0xF0
)

// DialOptions configure an out-of-band console connection.
type DialOptions struct {
	// Telnet selects a TCP console server connection; otherwise Device
	// names a local serial port.
	Telnet  bool
	Host    string
	Port    int
	Device  string
	Baud    int
	Timeout time.Duration
}

// Session is one interactive console connection. All exchanges are
// prompt-driven; a single reader goroutine feeds the expect loop so both
// telnet and serial lines share the same timeout handling.
type Session struct {
	conn    io.ReadWriteCloser
	telnet  bool
	timeout time.Duration
	data    chan byte
	readErr error

	// quit releases the reader when the session closes while nothing is
	// draining the data channel.
	quit      chan struct{}
	closeOnce sync.Once
}

// Dial opens the console connection and starts the reader.
func Dial(opts DialOptions) (*Session, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var conn io.ReadWriteCloser
	if opts.Telnet {
		port := opts.Port
		if port == 0 {
			port = 23
		}
		addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", port))
		c, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to console server %s: %w", addr, err)
		}
		conn = c
	} else {
		baud := opts.Baud
		if baud == 0 {
			baud = defaultBaudRate
		}
		p, err := serial.Open(opts.Device, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", opts.Device, err)
		}
		conn = p
	}

	s := &Session{
		conn:    conn,
		telnet:  opts.Telnet,
		timeout: timeout,
		data:    make(chan byte, 4096),
		quit:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// readLoop pumps bytes from the connection into the expect channel,
// filtering telnet option negotiation as it goes. It terminates when the
// connection closes.
func (s *Session) readLoop() {
	defer close(s.data)
	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(s.conn, buf); err != nil {
			s.readErr = err
			return
		}
		b := buf[0]
		if s.telnet && b == telnetIAC {
			if err := s.negotiate(); err != nil {
				s.readErr = err
				return
			}
			continue
		}
		select {
		case s.data <- b:
		case <-s.quit:
			return
		}
	}
}

// negotiate refuses every telnet option the peer offers. Console servers
// accept a dumb client just fine.
func (s *Session) negotiate() error {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		return err
	}
	cmd := buf[0]
	switch cmd {
	case telnetDO, telnetWILL:
		if _, err := io.ReadFull(s.conn, buf); err != nil {
			return err
		}
		reply := byte(telnetWONT)
		if cmd == telnetWILL {
			reply = telnetDONT
		}
		_, err := s.conn.Write([]byte{telnetIAC, reply, buf[0]})
		return err
	case telnetDONT, telnetWONT:
		_, err := io.ReadFull(s.conn, buf)
		return err
	case telnetSB:
		// Skip the subnegotiation up to IAC SE.
		var prev byte
		for {
			if _, err := io.ReadFull(s.conn, buf); err != nil {
				return err
			}
			if prev == telnetIAC && buf[0] == telnetSE {
				return nil
			}
			prev = buf[0]
		}
	default:
		return nil
	}
}

// Send writes a line to the console.
func (s *Session) Send(line string) error {
	if _, err := io.WriteString(s.conn, line+"\n"); err != nil {
		return fmt.Errorf("failed to write to console: %w", err)
	}
	return nil
}

// SendRaw writes bytes without a trailing newline.
func (s *Session) SendRaw(data string) error {
	if _, err := io.WriteString(s.conn, data); err != nil {
		return fmt.Errorf("failed to write to console: %w", err)
	}
	return nil
}

// Expect reads until one of the given patterns appears in the output or
// the session timeout expires. It returns everything read, including the
// matched pattern.
func (s *Session) Expect(patterns ...string) (string, error) {
	var b strings.Builder
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case c, ok := <-s.data:
			if !ok {
				if s.readErr != nil {
					return b.String(), fmt.Errorf("console closed: %w", s.readErr)
				}
				return b.String(), fmt.Errorf("console closed while waiting for %q", patterns)
			}
			b.WriteByte(c)
			for _, p := range patterns {
				if strings.Contains(b.String(), p) {
					return b.String(), nil
				}
			}
		case <-timer.C:
			return b.String(), fmt.Errorf("timed out after %s waiting for %q, got %q", s.timeout, patterns, tail(b.String(), 120))
		}
	}
}

// Close tears down the console connection and releases the reader even when
// undelivered output is still queued.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	return s.conn.Close()
}

// tail returns at most the last n bytes of s, for error context.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
