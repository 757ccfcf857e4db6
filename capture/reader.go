// Package capture reads DoIP transport segments out of pcap and pcapng files.
package capture

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

const ngMagic = 0x0A0D0D0A

// ErrUnsupportedLinkType is returned by NewReader for captures whose link
// layer cannot carry DoIP.
var ErrUnsupportedLinkType = errors.New("capture: unsupported link type")

// Packet is one TCP or UDP segment on a DoIP port.
type Packet struct {
	// Index is the 1-based frame number inside the capture.
	Index     int
	Timestamp time.Time
	Transport string
	Src       string
	Dst       string
	// Payload is the transport payload; it is owned by the caller.
	Payload []byte
}

// Stats counts what the reader has seen so far.
type Stats struct {
	Frames  int
	Matched int
	// Undecodable frames could not be parsed down to a transport layer.
	Undecodable int
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader yields the DoIP segments of a capture file. It is not safe for
// concurrent use.
type Reader struct {
	src    packetSource
	ng     *pcapgo.NgReader
	closer io.Closer
	ports  map[uint16]bool
	stats  Stats

	eth     layers.Ethernet
	sll     layers.LinuxSLL
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	payload gopacket.Payload
	decoded []gopacket.LayerType
	parsers map[gopacket.LayerType]*gopacket.DecodingLayerParser
}

// Open opens a pcap or pcapng file. Close releases it.
func Open(path string, ports []uint16) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open capture")
	}
	r, err := NewReader(f, ports)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, path)
	}
	r.closer = f
	return r, nil
}

// NewReader detects the file format of r and reads segments whose source
// or destination port is one of ports.
func NewReader(r io.Reader, ports []uint16) (*Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, errors.Wrap(err, "read capture magic")
	}

	rd := &Reader{
		ports:   make(map[uint16]bool, len(ports)),
		parsers: make(map[gopacket.LayerType]*gopacket.DecodingLayerParser),
	}
	for _, p := range ports {
		rd.ports[p] = true
	}

	if binary.BigEndian.Uint32(magic) == ngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, errors.Wrap(err, "pcapng")
		}
		rd.src, rd.ng = ng, ng
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "pcap")
		}
		rd.src = pr
	}

	if _, ok := firstLayer(rd.src.LinkType(), []byte{0x45}); !ok {
		return nil, errors.Wrapf(ErrUnsupportedLinkType, "%v", rd.src.LinkType())
	}
	return rd, nil
}

// Close closes the file opened by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Stats returns the counters accumulated so far.
func (r *Reader) Stats() Stats { return r.stats }

// Next returns the next segment with a non-empty payload on a DoIP port.
// It returns io.EOF at the end of the capture.
func (r *Reader) Next() (*Packet, error) {
	for {
		data, ci, err := r.src.ReadPacketData()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, errors.Wrapf(err, "frame %d", r.stats.Frames+1)
		}
		r.stats.Frames++

		p, ok := r.decode(data, ci)
		if ok {
			r.stats.Matched++
			return p, nil
		}
	}
}

func (r *Reader) decode(data []byte, ci gopacket.CaptureInfo) (*Packet, bool) {
	first, ok := firstLayer(r.linkType(ci), data)
	if !ok {
		r.stats.Undecodable++
		return nil, false
	}
	if err := r.parser(first).DecodeLayers(data, &r.decoded); err != nil {
		r.stats.Undecodable++
		return nil, false
	}

	var (
		srcIP, dstIP net.IP
		transport    string
		sport, dport uint16
		payload      []byte
	)
	for _, lt := range r.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			srcIP, dstIP = r.ip4.SrcIP, r.ip4.DstIP
		case layers.LayerTypeIPv6:
			srcIP, dstIP = r.ip6.SrcIP, r.ip6.DstIP
		case layers.LayerTypeTCP:
			transport = "tcp"
			sport, dport = uint16(r.tcp.SrcPort), uint16(r.tcp.DstPort)
			payload = r.tcp.LayerPayload()
		case layers.LayerTypeUDP:
			transport = "udp"
			sport, dport = uint16(r.udp.SrcPort), uint16(r.udp.DstPort)
			payload = r.udp.LayerPayload()
		}
	}
	if transport == "" {
		r.stats.Undecodable++
		return nil, false
	}
	if len(payload) == 0 || !(r.ports[sport] || r.ports[dport]) {
		return nil, false
	}

	return &Packet{
		Index:     r.stats.Frames,
		Timestamp: ci.Timestamp,
		Transport: transport,
		Src:       net.JoinHostPort(srcIP.String(), strconv.Itoa(int(sport))),
		Dst:       net.JoinHostPort(dstIP.String(), strconv.Itoa(int(dport))),
		Payload:   append([]byte(nil), payload...),
	}, true
}

// linkType resolves the link type of a frame; pcapng files may mix
// interfaces of different types.
func (r *Reader) linkType(ci gopacket.CaptureInfo) layers.LinkType {
	if r.ng != nil {
		if intf, err := r.ng.Interface(ci.InterfaceIndex); err == nil {
			return intf.LinkType
		}
	}
	return r.src.LinkType()
}

func (r *Reader) parser(first gopacket.LayerType) *gopacket.DecodingLayerParser {
	if p, ok := r.parsers[first]; ok {
		return p
	}
	p := gopacket.NewDecodingLayerParser(first,
		&r.eth, &r.sll, &r.dot1q, &r.ip4, &r.ip6, &r.tcp, &r.udp, &r.payload)
	p.IgnoreUnsupported = true
	r.parsers[first] = p
	return p
}

func firstLayer(lt layers.LinkType, data []byte) (gopacket.LayerType, bool) {
	switch lt {
	case layers.LinkTypeEthernet:
		return layers.LayerTypeEthernet, true
	case layers.LinkTypeLinuxSLL:
		return layers.LayerTypeLinuxSLL, true
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		if len(data) == 0 {
			return 0, false
		}
		switch data[0] >> 4 {
		case 4:
			return layers.LayerTypeIPv4, true
		case 6:
			return layers.LayerTypeIPv6, true
		}
	}
	return 0, false
}
