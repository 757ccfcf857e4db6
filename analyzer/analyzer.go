// Package analyzer turns transport segments into per-message DoIP records:
// a one-line summary and, on request, a field tree.
package analyzer

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/eshenhu/doipdump/diagmsg"
	"github.com/eshenhu/doipdump/dissect"
	"github.com/eshenhu/doipdump/doip"
)

const (
	protocolName = "DoIP"
	malformed    = "[Malformed Packet]"
)

// PayloadDissector decodes the payload of one DoIP payload type.
type PayloadDissector interface {
	Subtree() dissect.SubtreeID
	Dissect(ctx *dissect.Context) error
}

// Record is the result of analyzing one DoIP message.
type Record struct {
	Header doip.Header
	// Offset of the message inside the analyzed segment.
	Offset  int
	Summary string
	// Tree is nil unless a tree was requested.
	Tree *dissect.Tree
	// Err is set when the message is malformed.
	Err error
}

// Malformed reports whether the message could not be fully decoded.
func (r *Record) Malformed() bool { return r.Err != nil }

// Analyzer holds the sealed field registry and the payload dissectors.
// It is safe for concurrent use.
type Analyzer struct {
	reg        *dissect.Registry
	log        doip.Logger
	maxPayload uint32

	proto    dissect.FieldID
	version  dissect.FieldID
	inverse  dissect.FieldID
	ptype    dissect.FieldID
	length   dissect.FieldID
	ettDoIP  dissect.SubtreeID
	payloads map[doip.MsgTid]PayloadDissector
}

// New registers the DoIP header and payload fields into reg and seals it.
func New(reg *dissect.Registry, log doip.Logger) (*Analyzer, error) {
	if log == nil {
		log = doip.NopLogger()
	}
	a := &Analyzer{
		reg:        reg,
		log:        log,
		maxPayload: doip.MaxPayloadLength,
		payloads:   make(map[doip.MsgTid]PayloadDissector),
	}

	typeNames := make(map[uint64]string)
	for t, name := range doip.PayloadTypeNames() {
		typeNames[uint64(t)] = name
	}
	fields := []*dissect.Descriptor{
		{Name: protocolName, Abbrev: "doip", Type: dissect.FieldTypeProtocol,
			Description: "Diagnostic over IP (ISO 13400-2)"},
		{Name: "Version", Abbrev: "doip.version", Type: dissect.FieldTypeUint8, Base: dissect.BaseHex,
			Description: "Identifies the protocol version of DoIP packets."},
		{Name: "Inverse version", Abbrev: "doip.inverse_version", Type: dissect.FieldTypeUint8, Base: dissect.BaseHex,
			Description: "Contains the bit-wise inverse value of the protocol version."},
		{Name: "Type", Abbrev: "doip.type", Type: dissect.FieldTypeUint16, Base: dissect.BaseHex, Strings: typeNames,
			Description: "Contains the payload type of the DoIP message."},
		{Name: "Length", Abbrev: "doip.length", Type: dissect.FieldTypeUint32, Base: dissect.BaseDec,
			Description: "Contains the length of the DoIP message payload in bytes."},
	}
	if err := reg.Register(fields); err != nil {
		return nil, errors.Wrap(err, "doip header")
	}
	if err := reg.RegisterSubtrees(&a.ettDoIP); err != nil {
		return nil, errors.Wrap(err, "doip header")
	}
	a.proto, a.version, a.inverse, a.ptype, a.length = fields[0].ID, fields[1].ID, fields[2].ID, fields[3].ID, fields[4].ID

	dm, err := diagmsg.Register(reg)
	if err != nil {
		return nil, err
	}
	a.payloads[doip.DiagnosticMessage] = dm

	reg.Seal()
	return a, nil
}

var (
	defaultOnce     sync.Once
	defaultAnalyzer *Analyzer
)

// Default returns the process-wide analyzer, built on first use.
// It panics if the field registration is inconsistent.
func Default() *Analyzer {
	defaultOnce.Do(func() {
		a, err := New(dissect.NewRegistry(), nil)
		if err != nil {
			panic(err)
		}
		defaultAnalyzer = a
	})
	return defaultAnalyzer
}

// SetLogger replaces the logger. Call it before the first Analyze.
func (a *Analyzer) SetLogger(log doip.Logger) {
	if log != nil {
		a.log = log
	}
}

// SetMaxPayloadLength makes Analyze reject messages declaring a larger
// payload. Call it before the first Analyze.
func (a *Analyzer) SetMaxPayloadLength(n uint32) {
	a.maxPayload = n
}

// Registry returns the sealed registry holding every field a tree can carry.
func (a *Analyzer) Registry() *dissect.Registry { return a.reg }

// Analyze decodes every DoIP message in one transport segment. Faults are
// reported on the records; the last record describes a header that could
// not be parsed, if any.
func (a *Analyzer) Analyze(data []byte, withTree bool) []*Record {
	buf := dissect.NewBuffer(data)
	msgs, err := doip.Split(data, a.maxPayload)

	records := make([]*Record, 0, len(msgs)+1)
	next := 0
	for _, m := range msgs {
		records = append(records, a.analyzeMessage(buf, m, withTree))
		next = m.Offset + doip.HeaderLength + m.Payload.Len()
	}
	if err != nil {
		records = append(records, a.analyzeBadHeader(buf, next, err, withTree))
	}
	return records
}

func (a *Analyzer) analyzeMessage(buf *dissect.Buffer, m *doip.Message, withTree bool) *Record {
	r := &Record{Header: m.Header, Offset: m.Offset}
	cols := &dissect.Columns{}
	cols.SetProtocol(protocolName)

	pd, known := a.payloads[m.Header.PayloadType]

	var sub *dissect.Tree
	if withTree {
		r.Tree = dissect.NewTree(a.reg)
		ett := a.ettDoIP
		if known {
			ett = pd.Subtree()
		}
		sub = a.addHeader(r.Tree, buf, m.Offset, doip.HeaderLength+int(m.Header.PayloadLength), ett)
	}

	if known {
		r.Err = pd.Dissect(&dissect.Context{
			Buf:     m.Payload,
			Length:  int(m.Header.PayloadLength),
			Columns: cols,
			Tree:    sub,
		})
	} else {
		cols.SetInfo(payloadSummary(m.Header.PayloadType))
		if m.Truncated() {
			r.Err = errors.Wrapf(dissect.ErrOutOfBounds, "payload of %d bytes, %d captured",
				m.Header.PayloadLength, m.Payload.Len())
		}
	}

	if r.Err != nil {
		a.log.Debugf("malformed %v at offset %d: %v", m.Header.PayloadType, m.Offset, r.Err)
		cols.AppendInfo(malformed)
		if sub != nil {
			sub.AddExpert("Malformed Packet: %v", r.Err)
		}
	}
	r.Summary = cols.Info()
	return r
}

// analyzeBadHeader describes the bytes at off that Split could not frame.
func (a *Analyzer) analyzeBadHeader(buf *dissect.Buffer, off int, err error, withTree bool) *Record {
	r := &Record{Offset: off, Err: err}

	var summary string
	if he, ok := doip.IsHeaderError(err); ok {
		r.Header, _ = doip.ParseHeader(buf, off)
		summary = he.Error()
	} else {
		summary = "Incomplete generic header"
	}
	r.Summary = summary + " " + malformed
	a.log.Debugf("bad header at offset %d: %v", off, err)

	if withTree {
		r.Tree = dissect.NewTree(a.reg)
		sub := a.addHeader(r.Tree, buf, off, buf.Len()-off, a.ettDoIP)
		if sub != nil {
			sub.AddExpert("Malformed Packet: %v", err)
		}
	}
	return r
}

// addHeader adds the protocol item and whichever header fields fit in buf,
// and returns the subtree payload items go into.
func (a *Analyzer) addHeader(tree *dissect.Tree, buf *dissect.Buffer, off, length int, ett dissect.SubtreeID) *dissect.Tree {
	top, err := tree.AddProtocol(a.proto, buf, off, length)
	if err != nil {
		return nil
	}
	sub := top.AddSubtree(ett)

	for _, f := range []struct {
		id   dissect.FieldID
		off  int
		size int
	}{
		{a.version, 0, 1},
		{a.inverse, 1, 1},
		{a.ptype, 2, 2},
		{a.length, 4, 4},
	} {
		if _, err := sub.AddItem(f.id, buf, off+f.off, f.size, dissect.EncodingBigEndian); err != nil {
			break
		}
	}
	return sub
}

func payloadSummary(t doip.MsgTid) string {
	if t.Known() {
		return t.String()
	}
	return fmt.Sprintf("Unknown payload type (0x%04X)", uint16(t))
}
