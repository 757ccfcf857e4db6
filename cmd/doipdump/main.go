package main

import (
	"crypto/tls"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/eshenhu/doipdump/analyzer"
	"github.com/eshenhu/doipdump/capture"
	"github.com/eshenhu/doipdump/config"
	"github.com/eshenhu/doipdump/doip"
)

const (
	commandRead   = "read"
	commandListen = "listen"
	commandSend   = "send"
	commandFields = "fields"
	commandHelp   = "help"
)

var (
	cfg  *config.Config
	zlog zerolog.Logger
	dlog doip.Logger
)

type commandData struct {
	configPath string
	file       string
	verbose    bool
	addr       string
	source     string
	target     string
	payload    string
	activate   bool
	tls        bool
	insecure   bool
}

func main() {
	if len(os.Args) < 2 {
		printHelp(os.Stderr)
		os.Exit(1)
	}
	parseCommandLine(os.Args[1], os.Args[2:])
}

func parseCommandLine(command string, args []string) {
	var (
		fs   *flag.FlagSet
		data = &commandData{}
	)

	commandHandlers := map[string]func(*commandData){
		commandRead:   handlerRead,
		commandListen: handlerListen,
		commandSend:   handlerSend,
		commandFields: handlerFields,
	}

	switch command {
	case commandRead:
		fs = flag.NewFlagSet(commandRead, flag.ExitOnError)
		fs.StringVar(&data.file, "r", "", "pcap or pcapng file to read")
		fs.BoolVar(&data.verbose, "V", false, "print the field tree of every message")
	case commandListen:
		fs = flag.NewFlagSet(commandListen, flag.ExitOnError)
		fs.StringVar(&data.addr, "addr", "", "address to listen on (default from config)")
		fs.BoolVar(&data.verbose, "V", false, "print the field tree of every message")
	case commandSend:
		fs = flag.NewFlagSet(commandSend, flag.ExitOnError)
		fs.StringVar(&data.addr, "addr", fmt.Sprintf("127.0.0.1:%d", doip.Port), "DoIP entity address")
		fs.StringVar(&data.source, "sa", "0x0e80", "source logical address")
		fs.StringVar(&data.target, "ta", "", "target logical address")
		fs.StringVar(&data.payload, "data", "", "user data as hex, e.g. 22f190")
		fs.BoolVar(&data.activate, "activate", false, "perform routing activation first")
		fs.BoolVar(&data.tls, "tls", false, "connect over TLS")
		fs.BoolVar(&data.insecure, "insecure", false, "skip TLS certificate verification")
	case commandFields:
		fs = flag.NewFlagSet(commandFields, flag.ExitOnError)
	case commandHelp:
		printHelp(os.Stdout)
		os.Exit(0)
	default:
		fmt.Printf("Unknown command %s\n", command)
		printHelp(os.Stderr)
		os.Exit(1)
	}
	fs.StringVar(&data.configPath, "c", "", "path to configuration file (or $"+config.EnvPath+")")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	setup(data.configPath)
	commandHandlers[command](data)
}

func setup(configPath string) {
	var err error
	if cfg, err = config.Load(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var w io.Writer = os.Stderr
	if cfg.Log.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zlog = zerolog.New(w).Level(level).With().Timestamp().Logger()
	dlog = doip.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Pretty)

	a := analyzer.Default()
	a.SetLogger(dlog)
	a.SetMaxPayloadLength(cfg.Capture.MaxPayloadLength)
}

func handlerRead(data *commandData) {
	if data.file == "" {
		zlog.Fatal().Msg("no capture file, use -r")
	}
	r, err := capture.Open(data.file, cfg.Capture.Ports)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to open capture")
	}
	defer r.Close()

	p := newPrinter(os.Stdout, data.verbose || cfg.Output.Verbose)
	a := analyzer.Default()
	for {
		pkt, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			zlog.Error().Err(err).Msg("failed to read capture")
			break
		}
		p.printPacket(pkt, a.Analyze(pkt.Payload, p.verbose))
	}

	st := r.Stats()
	zlog.Debug().
		Int("frames", st.Frames).
		Int("matched", st.Matched).
		Int("undecodable", st.Undecodable).
		Msg("capture done")
}

func handlerListen(data *commandData) {
	addr := cfg.Listen.Addr
	if data.addr != "" {
		addr = data.addr
	}

	p := newPrinter(os.Stdout, data.verbose || cfg.Output.Verbose)
	a := analyzer.Default()
	handler := doip.HandlerFunc(func(w doip.ResponseWriter, r *doip.Request) {
		logRequest(zlog, w.RemoteAddr().String(), r.Msg)
		p.printMessage(time.Now(), w.RemoteAddr().String(), w.LocalAddr().String(), a.Analyze(r.Raw, p.verbose))
	})

	srv := doip.NewServer(addr, cfg.Listen.Net, handler, dlog)
	srv.MaxPayloadLength = cfg.Listen.MaxPayloadLength
	idle := cfg.Listen.IdleTimeout
	srv.IdleTimeout = func() time.Duration { return idle }
	if cfg.Listen.TLS() {
		cert, err := tls.LoadX509KeyPair(cfg.Listen.CertFile, cfg.Listen.KeyFile)
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to load certificate")
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		zlog.Info().Msg("shutting down")
		srv.Shutdown()
	}()

	if err := srv.ListenAndServe(); err != nil {
		zlog.Fatal().Err(err).Msg("server failed")
	}
}

func handlerSend(data *commandData) {
	sa, err := parseAddress(data.source)
	if err != nil {
		zlog.Fatal().Err(err).Msg("bad -sa")
	}
	ta, err := parseAddress(data.target)
	if err != nil {
		zlog.Fatal().Err(err).Msg("bad -ta")
	}
	payload, err := hex.DecodeString(strings.ReplaceAll(data.payload, " ", ""))
	if err != nil {
		zlog.Fatal().Err(err).Msg("bad -data")
	}

	c := doip.NewDoIP(dlog, sa, data.addr)
	if tc := clientTLSConfig(data); tc != nil {
		c.SetTLSConfig(tc)
	}
	if err := c.Connect(); err != nil {
		zlog.Fatal().Err(err).Msg("connect failed")
	}
	defer c.Disconnect()

	if data.activate {
		if err := c.Activate(0x00); err != nil {
			zlog.Fatal().Err(err).Msg("routing activation failed")
		}
	}
	if err := c.Send(ta, payload); err != nil {
		zlog.Fatal().Err(err).Msg("send failed")
	}
	zlog.Info().
		Str("addr", data.addr).
		Str("sa", fmt.Sprintf("0x%04X", sa)).
		Str("ta", fmt.Sprintf("0x%04X", ta)).
		Int("bytes", len(payload)).
		Msg("diagnostic message sent")
}

// logRequest logs the requests a tester sends to open or keep a session.
func logRequest(l zerolog.Logger, remote string, m doip.Msg) {
	switch m := m.(type) {
	case *doip.MsgActivationReq:
		l.Info().
			Str("remote", remote).
			Str("sa", fmt.Sprintf("0x%04X", m.SrcAddress)).
			Uint8("activation_type", m.ActivationType).
			Msg("routing activation request")
	case *doip.MsgAliveChkReq:
		l.Debug().Str("remote", remote).Msg("alive check request")
	}
}

func clientTLSConfig(data *commandData) *tls.Config {
	if !data.tls {
		return nil
	}
	host, _, err := net.SplitHostPort(data.addr)
	if err != nil {
		host = data.addr
	}
	return &tls.Config{ServerName: host, InsecureSkipVerify: data.insecure}
}

func handlerFields(_ *commandData) {
	printFields(os.Stdout, analyzer.Default().Registry())
}

func parseAddress(s string) (uint16, error) {
	if s == "" {
		return 0, errors.New("empty logical address")
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "logical address %q", s)
	}
	return uint16(v), nil
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, `Usage: doipdump <command> [options]

Commands:
  %-8s decode the DoIP messages of a capture file (-r file [-V])
  %-8s run a tap server and decode what it receives ([-addr host:port] [-V])
  %-8s send one diagnostic message (-addr host:port -sa 0x0e80 -ta 0x1d01 -data 22f190 [-activate] [-tls [-insecure]])
  %-8s list the registered fields
  %-8s show this help

Every command accepts -c <config.yaml>.
`, commandRead, commandListen, commandSend, commandFields, commandHelp)
}
