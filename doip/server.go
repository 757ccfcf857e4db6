package doip

import (
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/eshenhu/doipdump/dissect"
)

const (
	tcpIdleTimeout = 15 * time.Second
)

var (
	errBadNetwork = errors.New("bad network")
)

// Handler is implemented by any value that implements ServeDoIP.
type Handler interface {
	ServeDoIP(w ResponseWriter, r *Request)
}

// The HandlerFunc type is an adapter to allow the use of
// ordinary functions as DoIP handlers.
type HandlerFunc func(ResponseWriter, *Request)

// ServeDoIP calls f(w, r).
func (f HandlerFunc) ServeDoIP(w ResponseWriter, r *Request) {
	f(w, r)
}

// Request is one DoIP message read from a connection.
type Request struct {
	Header Header
	// Raw holds the generic header followed by the payload.
	Raw []byte
	// Msg is the typed payload, nil when the payload type has no decoder
	// or the payload does not match its expected layout.
	Msg Msg
}

// Payload returns the payload bytes of r.
func (r *Request) Payload() []byte {
	return r.Raw[HeaderLength:]
}

// A ResponseWriter interface is used by an DoIP handler to
// construct an DoIP response.
type ResponseWriter interface {
	// LocalAddr returns the net.Addr of the server
	LocalAddr() net.Addr
	// RemoteAddr returns the net.Addr of the client that sent the current request.
	RemoteAddr() net.Addr
	// WriteMsg writes a reply back to the client.
	WriteMsg(Msg) error
	// Write writes a raw buffer back to the client.
	Write([]byte) (int, error)
	// Close closes the connection.
	Close() error
}

type response struct {
	tcp        net.Conn // i/o connection if TCP was used
	remoteAddr net.Addr // address of the client
}

// A Server accepts DoIP connections and hands every message it reads to
// its Handler. It keeps no per-connection protocol state.
type Server struct {
	// Address to listen on, ":13400" if empty.
	Addr string
	// if "tcp" or "tcp-tls" (DoIP over TLS) it will invoke a TCP listener
	Net string
	// TCP Listener to use, this is to aid in systemd's socket activation.
	Listener net.Listener
	// TLS connection configuration
	TLSConfig *tls.Config
	// Handler to invoke for every message.
	Handler Handler
	// TCP idle timeout, defaults to 15 * time.Second.
	IdleTimeout func() time.Duration
	// Largest payload accepted; larger messages are NACKed and the connection closed.
	// Zero means DefaultMaxPayloadLength.
	MaxPayloadLength uint32
	// If NotifyStartedFunc is set it is called once the server has started listening.
	NotifyStartedFunc func()
	// Shutdown handling
	lock sync.RWMutex
	// Tracking on the living connections
	activeConn map[net.Conn]struct{}
	// Logging
	log Logger
}

// NewServer returns a Server for addr on network ("tcp" or "tcp-tls").
func NewServer(addr, network string, handler Handler, logger Logger) *Server {
	if logger == nil {
		logger = NopLogger()
	}
	return &Server{
		Addr:             addr,
		Net:              network,
		Handler:          handler,
		MaxPayloadLength: DefaultMaxPayloadLength,
		log:              logger,
	}
}

// ListenAndServe starts a DoIP listener on the configured address in *Server.
func (srv *Server) ListenAndServe() error {
	srv.lock.Lock()
	if srv.log == nil {
		srv.log = NopLogger()
	}
	addr := srv.Addr
	if addr == "" {
		addr = ":13400"
	}

	var (
		l   net.Listener
		err error
	)
	switch srv.Net {
	case "tcp", "tcp4", "tcp6":
		l, err = net.Listen(srv.Net, addr)
	case "tcp-tls", "tcp4-tls", "tcp6-tls":
		network := "tcp"
		if srv.Net == "tcp4-tls" {
			network = "tcp4"
		} else if srv.Net == "tcp6-tls" {
			network = "tcp6"
		}
		l, err = tls.Listen(network, addr, srv.TLSConfig)
	default:
		err = errBadNetwork
	}
	if err != nil {
		srv.lock.Unlock()
		return errors.Wrapf(err, "listen %s %s", srv.Net, addr)
	}
	srv.Listener = l
	srv.lock.Unlock()

	srv.log.Infof("Started server at %s", l.Addr())
	return srv.serveTCP(l)
}

// Shutdown shuts down a server. After a call to Shutdown, ListenAndServe
// will return.
func (srv *Server) Shutdown() error {
	srv.lock.RLock()
	l := srv.Listener
	srv.lock.RUnlock()

	if l != nil {
		return l.Close()
	}
	return nil
}

// ListenAddr returns the address the server listens on, once started.
func (srv *Server) ListenAddr() net.Addr {
	srv.lock.RLock()
	defer srv.lock.RUnlock()
	if srv.Listener == nil {
		return nil
	}
	return srv.Listener.Addr()
}

// serveTCP starts a TCP listener for the server.
// Each connection is handled in a separate goroutine.
func (srv *Server) serveTCP(l net.Listener) error {
	defer l.Close()

	if srv.NotifyStartedFunc != nil {
		srv.NotifyStartedFunc()
	}

	handler := srv.Handler
	if handler == nil {
		panic("handler is nil")
	}

	var err error
	var wg sync.WaitGroup
	for {
		rw, e := l.Accept()
		if e != nil {
			if neterr, ok := e.(net.Error); ok && neterr.Timeout() {
				continue
			}
			err = e
			break
		}
		srv.log.Debugf("New connection on %s", rw.RemoteAddr().String())
		wg.Add(1)
		go srv.serve(&wg, handler, rw)
	}
	srv.closeConnects()
	wg.Wait()

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (srv *Server) serve(wg *sync.WaitGroup, h Handler, t net.Conn) {
	defer wg.Done()

	srv.trackConn(t, true)
	defer srv.trackConn(t, false)

	w := &response{tcp: t, remoteAddr: t.RemoteAddr()}
	defer w.Close()

	idleTimeout := tcpIdleTimeout
	if srv.IdleTimeout != nil {
		idleTimeout = srv.IdleTimeout()
	}
	maxPayload := srv.MaxPayloadLength
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayloadLength
	}

	for {
		t.SetReadDeadline(time.Now().Add(idleTimeout))
		hdr, raw, err := readMessage(t, maxPayload)
		if err != nil {
			if he, ok := IsHeaderError(err); ok {
				failedHandler(w, he.Code())
			}
			if errors.Cause(err) != io.EOF {
				srv.log.Debugf("rcv error on %s: %v", w.RemoteAddr(), err)
			}
			break
		}

		r := &Request{Header: hdr, Raw: raw}
		if m, e := Unpack(r.Payload(), hdr.PayloadType); e == nil {
			r.Msg = m
		} else if e != ErrUnpackNoExist {
			srv.log.Debugf("rcv %v with bad layout from %s: %v", hdr.PayloadType, w.RemoteAddr(), e)
		}
		h.ServeDoIP(w, r)
	}
	srv.log.Debugf("Exit server with %s", w.RemoteAddr())
}

// readMessage reads one generic header and its payload from r.
// The returned slice holds both. The buffer grows with the bytes actually
// received, never with the declared length alone.
func readMessage(r io.Reader, maxPayload uint32) (Header, []byte, error) {
	l := make([]byte, HeaderLength)
	if _, err := io.ReadFull(r, l); err != nil {
		return Header{}, nil, errors.Wrap(err, "read header")
	}

	hdr, err := ParseHeader(dissect.NewBuffer(l), 0)
	if err != nil {
		return Header{}, nil, err
	}
	if err := hdr.Validate(maxPayload); err != nil {
		return hdr, nil, err
	}

	var m bytes.Buffer
	m.Write(l)
	n, err := io.CopyN(&m, r, int64(hdr.PayloadLength))
	if n < int64(hdr.PayloadLength) {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return hdr, nil, errors.Wrap(err, "read payload")
	}
	return hdr, m.Bytes(), nil
}

// closeConnects
func (srv *Server) closeConnects() {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	for c := range srv.activeConn {
		c.Close()
		delete(srv.activeConn, c)
	}
}

func (srv *Server) trackConn(c net.Conn, add bool) {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	if srv.activeConn == nil {
		srv.activeConn = make(map[net.Conn]struct{})
	}
	if add {
		srv.activeConn[c] = struct{}{}
	} else {
		delete(srv.activeConn, c)
	}
}

// WriteMsg implements the ResponseWriter.WriteMsg method.
func (w *response) WriteMsg(m Msg) (err error) {
	b, err := PackMsg(m)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Write implements the ResponseWriter.Write method.
func (w *response) Write(m []byte) (int, error) {
	if w.tcp == nil {
		return 0, ErrDoIPNoSocket
	}
	sent := 0
	for sent < len(m) {
		n, err := w.tcp.Write(m[sent:])
		if err != nil {
			return sent, errors.Wrap(err, "Send: Conn write error")
		}
		sent += n
	}
	return sent, nil
}

// LocalAddr implements the ResponseWriter.LocalAddr method.
func (w *response) LocalAddr() net.Addr {
	return w.tcp.LocalAddr()
}

// RemoteAddr implements the ResponseWriter.RemoteAddr method.
func (w *response) RemoteAddr() net.Addr { return w.remoteAddr }

// Close implements the ResponseWriter.Close method
func (w *response) Close() error {
	if w.tcp != nil {
		e := w.tcp.Close()
		w.tcp = nil
		return e
	}
	return nil
}

func failedHandler(w ResponseWriter, err byte) {
	m := &MsgNACKReq{
		Id:      GenericHeaderNegativeAcknowledge,
		ErrCode: err,
	}
	w.WriteMsg(m)
}

//RunLocalTCPServer give a method to start and run a server.
func RunLocalTCPServer(addr string, handler Handler, logger Logger) (*Server, string, error) {
	return runLocalServer(NewServer(addr, "tcp", handler, logger))
}

//RunLocalTLSServer give a method to start and run a server.
func RunLocalTLSServer(addr string, handler Handler, cert tls.Certificate, logger Logger) (*Server, string, error) {
	server := NewServer(addr, "tcp-tls", handler, logger)
	server.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
	}
	return runLocalServer(server)
}

func runLocalServer(server *Server) (*Server, string, error) {
	started := make(chan struct{})
	server.NotifyStartedFunc = func() { close(started) }

	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()

	select {
	case <-started:
		return server, server.ListenAddr().String(), nil
	case err := <-errc:
		return nil, "", err
	}
}
