package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshenhu/doipdump/analyzer"
	"github.com/eshenhu/doipdump/capture"
	"github.com/eshenhu/doipdump/doip"
)

func TestClientTLSConfig(t *testing.T) {
	assert.Nil(t, clientTLSConfig(&commandData{addr: "10.0.0.1:3496"}))

	tc := clientTLSConfig(&commandData{addr: "ecu.local:3496", tls: true, insecure: true})
	require.NotNil(t, tc)
	assert.Equal(t, "ecu.local", tc.ServerName)
	assert.True(t, tc.InsecureSkipVerify)

	tc = clientTLSConfig(&commandData{addr: "ecu.local", tls: true})
	require.NotNil(t, tc)
	assert.Equal(t, "ecu.local", tc.ServerName)
	assert.False(t, tc.InsecureSkipVerify)
}

func TestLogRequest(t *testing.T) {
	var out bytes.Buffer
	l := zerolog.New(&out).Level(zerolog.InfoLevel)

	logRequest(l, "10.0.0.2:50000", &doip.MsgActivationReq{
		Id:             doip.RoutingActivationRequest,
		SrcAddress:     0x0E80,
		ActivationType: 0x01,
	})
	assert.Contains(t, out.String(), `"sa":"0x0E80"`)
	assert.Contains(t, out.String(), `"activation_type":1`)
	assert.Contains(t, out.String(), `"message":"routing activation request"`)

	out.Reset()
	logRequest(l, "10.0.0.2:50000", &doip.MsgAliveChkReq{Id: doip.AliveCheckRequest})
	logRequest(l, "10.0.0.2:50000", nil)
	assert.Empty(t, out.String())
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want uint16
		ok   bool
	}{
		{"0x0e80", 0x0E80, true},
		{"0X1D01", 0x1D01, true},
		{"4096", 4096, true},
		{"", 0, false},
		{"0x10000", 0, false},
		{"ecu", 0, false},
	}
	for _, tt := range tests {
		got, err := parseAddress(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestPrintPacket(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out, false)

	seg := doip.Frame(doip.DiagnosticMessage, []byte{0x12, 0x34, 0x56, 0x78, 0xAA, 0xBB})
	pkt := &capture.Packet{
		Index:     3,
		Timestamp: time.Date(2024, 1, 2, 10, 11, 12, 500000000, time.UTC),
		Transport: "tcp",
		Src:       "192.168.100.10:50000",
		Dst:       "192.168.100.20:13400",
		Payload:   seg,
	}
	p.printPacket(pkt, analyzer.Default().Analyze(seg, false))

	assert.Equal(t, "3 10:11:12.500000 tcp 192.168.100.10:50000 -> 192.168.100.20:13400 "+
		"DoIP Diagnostic message [Source addr: 0x1234, Dest addr: 0x5678]\n", out.String())
}

func TestPrintVerbose(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out, true)

	seg := doip.Frame(doip.DiagnosticMessage, []byte{0x0E, 0x80, 0x10, 0x00})
	p.printMessage(time.Date(2024, 1, 2, 10, 11, 12, 0, time.UTC), "a:1", "b:2", analyzer.Default().Analyze(seg, true))

	lines := strings.Split(out.String(), "\n")
	assert.Equal(t, "10:11:12.000000 a:1 -> b:2 DoIP Diagnostic message [Source addr: 0x0E80, Dest addr: 0x1000]", lines[0])
	assert.Equal(t, "DoIP", lines[1])
	assert.Contains(t, out.String(), "    Target address: 0x1000\n")
	assert.NotContains(t, out.String(), "User data")
}

func TestPrintFields(t *testing.T) {
	var out bytes.Buffer
	printFields(&out, analyzer.Default().Registry())

	s := out.String()
	for _, abbrev := range []string{"doip.type", "doip.sa", "doip.ta", "doip.ud"} {
		assert.Contains(t, s, abbrev)
	}
	assert.Len(t, strings.Split(strings.TrimSpace(s), "\n"), 8)
}
