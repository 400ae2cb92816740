// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package playrtp

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// ListenRTP binds the stream socket. For a multicast address it binds the
// group address with SO_REUSEADDR so several listeners can share it, then
// joins the group on the default interface. For unicast or broadcast it
// binds the wildcard address on the given port. rcvbuf, when positive, is the
// target SO_RCVBUF; failure to grow it is logged and ignored.
func ListenRTP(addr *net.UDPAddr, rcvbuf int, log zerolog.Logger) (*net.UDPConn, error) {
	multicast := addr.IP != nil && addr.IP.IsMulticast()

	network := "udp4"
	if addr.IP != nil && addr.IP.To4() == nil {
		network = "udp6"
	}

	var conn *net.UDPConn
	if multicast {
		lc := net.ListenConfig{Control: reuseAddr}
		pc, err := lc.ListenPacket(context.Background(), network, addr.String())
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", addr, err)
		}
		conn = pc.(*net.UDPConn)
		if err := joinGroup(conn, addr, network); err != nil {
			conn.Close()
			return nil, err
		}
		log.Info().Str("group", addr.String()).Msg("listening on multicast group")
	} else {
		bind := &net.UDPAddr{Port: addr.Port}
		c, err := net.ListenUDP(network, bind)
		if err != nil {
			return nil, fmt.Errorf("binding port %d: %w", addr.Port, err)
		}
		conn = c
		log.Info().Str("addr", conn.LocalAddr().String()).Msg("listening")
	}

	if rcvbuf > 0 {
		if err := conn.SetReadBuffer(rcvbuf); err != nil {
			log.Error().Err(err).Int("bytes", rcvbuf).Msg("failed to grow socket receive buffer")
		} else {
			log.Info().Int("bytes", rcvbuf).Msg("socket receive buffer set")
		}
	}
	return conn, nil
}

func reuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func joinGroup(conn *net.UDPConn, addr *net.UDPAddr, network string) error {
	group := &net.UDPAddr{IP: addr.IP}
	if network == "udp6" {
		if err := ipv6.NewPacketConn(conn).JoinGroup(nil, group); err != nil {
			return fmt.Errorf("joining %s: %w", addr.IP, err)
		}
		return nil
	}
	if err := ipv4.NewPacketConn(conn).JoinGroup(nil, group); err != nil {
		return fmt.Errorf("joining %s: %w", addr.IP, err)
	}
	return nil
}
