// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/emiago/playrtp"
	"github.com/emiago/playrtp/audio"
)

const version = "0.1.0"

var (
	flagDevice    = pflag.StringP("device", "D", "", "Output device")
	flagMin       = pflag.Uint32P("min", "m", 0, "Buffer low water mark in frames")
	flagMax       = pflag.Uint32P("max", "x", 0, "Buffer maximum size in frames")
	flagRcvbuf    = pflag.IntP("rcvbuf", "R", 0, "Socket receive buffer size in bytes")
	flagAPI       = pflag.StringP("api", "A", "", "Audio API to play through")
	flagCommand   = pflag.StringP("command", "e", "", "Pipe audio to command")
	flagPauseMode = pflag.StringP("pause-mode", "P", "silence", "For --command: silence|suspend while paused")
	flagDump      = pflag.StringP("dump", "r", "", "Record last 20s of audio to file")
	flagSocket    = pflag.StringP("socket", "s", "", "Control socket path")
	flagConfig    = pflag.StringP("config", "C", "", "Configuration file")
	flagTrace     = pflag.StringP("trace", "L", "", "Log accepted packets to file")
	flagMonitor   = pflag.BoolP("monitor", "M", false, "Log buffer occupancy once a minute")
	flagStats     = pflag.String("stats-addr", "", "Serve Prometheus metrics on this address")
	flagDebug     = pflag.BoolP("debug", "d", false, "Enable debug logging")
	flagVersion   = pflag.BoolP("version", "V", false, "Print version and exit")
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  playrtp [OPTIONS] [[ADDRESS] PORT]\nOptions:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "Audio APIs: %v\n", audio.Names())
	}
	pflag.Parse()

	if *flagVersion {
		fmt.Println("playrtp", version)
		return
	}

	lev := zerolog.InfoLevel
	if *flagDebug {
		lev = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(lev)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("playrtp finished with error")
	}
}

func run(ctx context.Context) error {
	conf := &playrtp.FileConfig{}
	if *flagConfig != "" {
		var err error
		conf, err = playrtp.LoadConfig(*flagConfig)
		if err != nil {
			return err
		}
	}

	// Water marks: flags are frames, doubled on ingest to samples. Config
	// values are already samples.
	minbuffer := uint32(conf.RTPMinBuffer)
	maxbuffer := uint32(conf.RTPMaxBuffer)
	if *flagMin > 0 {
		minbuffer = 2 * *flagMin
	}
	if *flagMax > 0 {
		maxbuffer = 2 * *flagMax
	}
	rcvbuf := conf.RTPRcvBuf
	if *flagRcvbuf > 0 {
		rcvbuf = *flagRcvbuf
	}

	addr, err := listenAddr(pflag.Args())
	if err != nil {
		return err
	}
	conn, err := playrtp.ListenRTP(addr, rcvbuf, log.Logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	backend, err := selectBackend(conf)
	if err != nil {
		return err
	}

	playConf := playrtp.Config{
		MinBuffer: minbuffer,
		MaxBuffer: maxbuffer,
		Monitor:   *flagMonitor,
	}
	if *flagDump != "" {
		dump, err := playrtp.OpenDump(*flagDump, playrtp.DefaultDumpSeconds)
		if err != nil {
			return err
		}
		defer dump.Close()
		playConf.Dump = dump
		log.Info().Str("path", *flagDump).Msg("dumping produced audio")
	}
	if *flagTrace != "" {
		f, err := os.Create(*flagTrace)
		if err != nil {
			return fmt.Errorf("opening trace log: %w", err)
		}
		defer f.Close()
		playConf.Trace = playrtp.NewTraceLog(f)
		log.Warn().Msg("packet trace log can impact performance")
	}

	socket := conf.ControlSocket
	if *flagSocket != "" {
		socket = *flagSocket
	}
	if socket != "" {
		ctl := &playrtp.ControlServer{
			Path:    socket,
			Backend: backend,
			Log:     log.Logger,
		}
		if err := ctl.Listen(); err != nil {
			return err
		}
		defer ctl.Close()
		go func() {
			if err := ctl.Serve(); err != nil {
				log.Fatal().Err(err).Msg("control server failed")
			}
		}()
	}

	if *flagStats != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*flagStats, mux); err != nil {
				log.Error().Err(err).Msg("stats server failed")
			}
		}()
	}

	player := playrtp.New(conn, backend, playConf)
	return player.Run(ctx)
}

// listenAddr resolves the positional [[ADDRESS] PORT] pair. The historical
// "-" placeholders asked the server to start a stream toward us; that needs
// the companion control client, which this player does not carry.
func listenAddr(args []string) (*net.UDPAddr, error) {
	var host, svc string
	switch len(args) {
	case 1:
		svc = args[0]
	case 2:
		host, svc = args[0], args[1]
	default:
		return nil, fmt.Errorf("usage: playrtp [OPTIONS] [[ADDRESS] PORT]")
	}
	if host == "-" || svc == "-" || svc == "" {
		return nil, fmt.Errorf("stream auto-request is not supported; give an explicit address and port")
	}

	port, err := strconv.Atoi(svc)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %q", svc)
	}
	addr := &net.UDPAddr{Port: port}
	if host != "" {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, fmt.Errorf("cannot resolve %q: %w", host, err)
		}
		addr.IP = ips[0]
	}
	return addr, nil
}

func selectBackend(conf *playrtp.FileConfig) (audio.Backend, error) {
	opts := audio.Options{
		Device:    conf.Device,
		Command:   *flagCommand,
		PauseMode: *flagPauseMode,
	}
	if *flagDevice != "" {
		opts.Device = *flagDevice
	}

	name := conf.API
	if *flagAPI != "" {
		name = *flagAPI
	}
	if *flagCommand != "" && name == "" {
		name = "command"
	}
	if name == "" {
		name = audio.DefaultName()
		log.Info().Str("api", name).Msg("default audio API")
	}
	return audio.New(name, opts)
}
