// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/emiago/playrtp/audio"
)

// ControlServer accepts short textual commands over a local stream socket.
// One exchange per connection, no multiplexing: both sides of the protocol
// are assumed to cooperate. The socket path's filesystem permissions are the
// only access control.
//
// Commands:
//
//	stop        terminate the process immediately, no reply
//	query       reply "running"
//	getvol      reply "L R\n"
//	setvol L R  set volume, reply with the readback
//
// Anything else is ignored and the connection closed.
type ControlServer struct {
	Path    string
	Backend audio.Backend
	Log     zerolog.Logger

	// Exit is called on "stop". Defaults to os.Exit.
	Exit func(code int)

	ln net.Listener
}

// Listen unlinks any stale socket and binds a fresh one.
func (c *ControlServer) Listen() error {
	os.Remove(c.Path)
	ln, err := net.Listen("unix", c.Path)
	if err != nil {
		return fmt.Errorf("binding control socket %s: %w", c.Path, err)
	}
	c.ln = ln
	c.Log.Info().Str("path", c.Path).Msg("control socket listening")
	return nil
}

// Addr returns the bound listener address. Valid after Listen.
func (c *ControlServer) Addr() net.Addr {
	return c.ln.Addr()
}

// Serve accepts connections until the listener closes. Connections are
// handled inline; the protocol is one short exchange so per-connection
// goroutines would buy nothing.
func (c *ControlServer) Serve() error {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept on %s: %w", c.Path, err)
		}
		c.handle(conn)
	}
}

func (c *ControlServer) Close() error {
	if c.ln == nil {
		return nil
	}
	return c.ln.Close()
}

func (c *ControlServer) handle(conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	line = strings.TrimRight(line, "\r\n")

	mixer, hasMixer := c.Backend.(audio.Mixer)

	switch {
	case line == "stop":
		c.Log.Info().Str("path", c.Path).Msg("stopped via control socket")
		exit := c.Exit
		if exit == nil {
			exit = os.Exit
		}
		exit(0)
	case line == "query":
		fmt.Fprint(conn, "running")
	case line == "getvol":
		var l, r int
		if hasMixer {
			l, r = mixer.Volume()
		}
		fmt.Fprintf(conn, "%d %d\n", l, r)
	case strings.HasPrefix(line, "setvol "):
		var l, r int
		switch {
		case !hasMixer:
			// leave 0 0
		default:
			if _, err := fmt.Sscanf(line[7:], "%d %d", &l, &r); err == nil {
				l, r = mixer.SetVolume(l, r)
			} else {
				l, r = mixer.Volume()
			}
		}
		fmt.Fprintf(conn, "%d %d\n", l, r)
	}
}
