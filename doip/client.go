package doip

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	dialTimeout = 10 * time.Second
	readTimeout = 5 * time.Second
)

// DoIP is a tester-side connection that injects messages toward a DoIP
// entity or a listening tap. Replies other than the routing activation
// response are not consumed.
type DoIP struct {
	log         Logger
	source      uint16
	server      string
	readTimeout time.Duration
	tlsConfig   *tls.Config
	mtx         sync.Mutex
	connection  net.Conn
}

type doIPError int

const (
	timeout                         doIPError = 1
	unexpectedResponse              doIPError = 3
	routingActivationResponseFailed doIPError = 11
	sessionDisconnected             doIPError = 12
	unknownError                    doIPError = 14
)

func (d doIPError) Error() string {
	switch d {
	case timeout:
		return fmt.Sprintf("#%02d <DoIP: Receive timeout>", int(d))
	case unexpectedResponse:
		return fmt.Sprintf("#%02d <DoIP: Unexpected response>", int(d))
	case routingActivationResponseFailed:
		return fmt.Sprintf("#%02d <DoIP: Routing activation failed>", int(d))
	case sessionDisconnected:
		return fmt.Sprintf("#%02d <DoIP: Session disconnected>", int(d))
	default:
		return fmt.Sprintf("#%02d <DoIP: Unknown error>", int(unknownError))
	}
}

// NewDoIP creates a client sending as logical address sourceAddress to server.
func NewDoIP(logger Logger, sourceAddress uint16, server string) *DoIP {
	if logger == nil {
		logger = NopLogger()
	}
	return &DoIP{
		log:         logger,
		source:      sourceAddress,
		readTimeout: readTimeout,
		server:      server,
	}
}

// SetReadTimeout set a custom read timeout
func (d *DoIP) SetReadTimeout(timeout time.Duration) {
	d.readTimeout = timeout
}

// SetTLSConfig makes Connect dial DoIP over TLS.
func (d *DoIP) SetTLSConfig(c *tls.Config) {
	d.tlsConfig = c
}

// Connect dials the server.
func (d *DoIP) Connect() error {
	var (
		conn net.Conn
		err  error
	)
	dialer := &net.Dialer{Timeout: dialTimeout}
	if d.tlsConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", d.server, d.tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", d.server)
	}
	if err != nil {
		d.log.Debug("Dial failed")
		return errors.Wrapf(err, "dial %s", d.server)
	}

	d.mtx.Lock()
	d.connection = conn
	d.mtx.Unlock()
	d.log.Debugf("Connected to %s from %s", d.server, conn.LocalAddr())
	return nil
}

// Disconnect : closes the connection to the server
func (d *DoIP) Disconnect() {
	d.log.Debugf("Disconnect... ")
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.connection == nil {
		return
	}
	if err := d.connection.Close(); err != nil {
		d.log.Debugf("Failed to close the socket (%v)", err)
	}
	d.connection = nil
}

// Activate performs the routing activation handshake (Table 22) and waits
// for the response (Table 25).
func (d *DoIP) Activate(activationType byte) error {
	err := d.SendMsg(&MsgActivationReq{
		Id:             RoutingActivationRequest,
		SrcAddress:     d.source,
		ActivationType: activationType,
		ReserveForStd:  []byte{0x00, 0x00, 0x00, 0x00},
	})
	if err != nil {
		return err
	}

	d.mtx.Lock()
	conn := d.connection
	d.mtx.Unlock()
	if conn == nil {
		return sessionDisconnected
	}

	conn.SetReadDeadline(time.Now().Add(d.readTimeout))
	defer conn.SetReadDeadline(time.Time{})

	hdr, raw, err := readMessage(conn, DefaultMaxPayloadLength)
	if err != nil {
		if ne, ok := errors.Cause(err).(net.Error); ok && ne.Timeout() {
			return timeout
		}
		return err
	}
	if hdr.PayloadType != RoutingActivationResponse {
		d.log.Debugf("Activation answered with %v", hdr.PayloadType)
		return unexpectedResponse
	}
	// logical address of tester (2), of entity (2), response code (1)
	payload := raw[HeaderLength:]
	if len(payload) < 5 || payload[4] != RoutingSuccessfullyActivated {
		return routingActivationResponseFailed
	}
	return nil
}

// Send sends data as a diagnostic message to targetAddress.
func (d *DoIP) Send(targetAddress uint16, data []byte) error {
	return d.SendMsg(&MsgDiagMsgReq{
		Id:         DiagnosticMessage,
		SrcAddress: d.source,
		DstAddress: targetAddress,
		Userdata:   data,
	})
}

// SendMsg frames m with a generic header and sends it.
func (d *DoIP) SendMsg(m MsgReq) error {
	return d.SendRaw(Frame(m.GetID(), m.Pack()))
}

// SendRaw writes b unmodified; b must already carry its generic header.
func (d *DoIP) SendRaw(b []byte) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.connection == nil {
		d.log.Debugf("Attempt to send when not connected")
		return sessionDisconnected
	}
	for sent := 0; sent < len(b); {
		n, err := d.connection.Write(b[sent:])
		if err != nil {
			return errors.Wrap(err, "Send: Conn write error")
		}
		sent += n
	}
	return nil
}
