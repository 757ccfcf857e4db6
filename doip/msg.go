package doip

import (
	"encoding/binary"
	"errors"

	"github.com/eshenhu/doipdump/dissect"
)

// Error for NACK HEADER Message
const (
	DoIPHdrErrIncorrectFormat    byte = 0
	DoIPHdrErrUnknownPayloadType byte = 1
	DoIPHdrErrMsgTooLarge        byte = 2
	DoIPHdrErrOutOfMemory        byte = 3
	DoIPHdrErrInvalidLen         byte = 4
)

// Errors
var (
	ErrDoIPHdrErr      error = &Error{err: "header error"}
	ErrDoIPMsgTooLarge error = &Error{err: "message too large"}
	ErrDoIPNoSocket    error = &Error{err: "no socket"}
	ErrDoIPError       error = &Error{err: "other error"}
)

// Unpack error
var (
	ErrUnpackNoExist  = errors.New("Unpack No existed")
	ErrUnpackTooShort = errors.New("Unpack Too short")
	ErrUnpackBadLen   = errors.New("Unpack Bad length")
)

// Pack error
var (
	ErrPackNoExist = errors.New("Pack No existed")
	ErrPackNil     = errors.New("Pack nil")
)

// mhs returns the map
var (
	mhUnpack = map[MsgTid]func(*dissect.Buffer) (Msg, error){
		RoutingActivationRequest:             unpackReqRA,
		AliveCheckRequest:                    unpackReqAC,
		DiagnosticMessage:                    unpackReqDM,
		DiagnosticMessagePositiveAcknowledge: unpackResDM,
		DiagnosticMessageNegativeAcknowledge: unpackResDM,
	}

	mhPack = map[MsgTid]func(Msg) ([]byte, error){
		GenericHeaderNegativeAcknowledge:     packResNAK,
		RoutingActivationRequest:             packMsgReq,
		AliveCheckRequest:                    packMsgReq,
		DiagnosticMessage:                    packMsgReq,
		DiagnosticMessagePositiveAcknowledge: packResDM,
		DiagnosticMessageNegativeAcknowledge: packResDM,
	}
)

// Unpack the raw payload bytes into the formated Message
func Unpack(b []byte, id MsgTid) (Msg, error) {
	if f, ok := mhUnpack[id]; ok {
		return f(dissect.NewBuffer(b))
	}
	return nil, ErrUnpackNoExist
}

// Pack the Msg into payload bytes, without the generic header
func Pack(m Msg, id MsgTid) ([]byte, error) {
	if f, ok := mhPack[id]; ok {
		return f(m)
	}
	return nil, ErrPackNoExist
}

// PackMsg packs m and prefixes it with the generic DoIP header.
func PackMsg(m Msg) ([]byte, error) {
	b, err := Pack(m, m.GetID())
	if err != nil {
		return nil, err
	}
	return Frame(m.GetID(), b), nil
}

// Frame prefixes payload with a generic DoIP header for payload type id.
func Frame(id MsgTid, payload []byte) []byte {
	h := Header{
		Version:        ProtocolVersion,
		InverseVersion: InverseProtocolVersion,
		PayloadType:    id,
		PayloadLength:  uint32(len(payload)),
	}
	return append(h.Pack(), payload...)
}

// MsgTid represent the type of data
type MsgTid uint16

// String returns the Table 12 name of the payload type.
func (t MsgTid) String() string {
	if s, ok := payloadTypeNames[t]; ok {
		return s
	}
	return "Unknown payload type"
}

// Known reports whether t is a Table 12 payload type.
func (t MsgTid) Known() bool {
	_, ok := payloadTypeNames[t]
	return ok
}

// Error represents a DoIP error.
type Error struct{ err string }

func (e *Error) Error() string {
	if e == nil {
		return "DoIP: <nil>"
	}
	return "DoIP: " + e.err
}

// Msg represent the L2 Message
type Msg interface {
	GetID() MsgTid
}

// MsgReq represent ReqMsg
type MsgReq interface {
	Msg
	Pack() []byte
}

// MsgNACKReq : NACK message
type MsgNACKReq struct {
	Id      MsgTid
	ErrCode byte
}

// GetID returns id
func (r *MsgNACKReq) GetID() MsgTid { return r.Id }

//Pack message
func (r *MsgNACKReq) Pack() []byte {
	return []byte{r.ErrCode}
}

// MsgActivationReq :
type MsgActivationReq struct {
	Id             MsgTid
	SrcAddress     uint16
	ActivationType byte
	ReserveForStd  []byte
	ReserveForOEM  []byte
}

// GetID returns id
func (r *MsgActivationReq) GetID() MsgTid { return r.Id }

//Pack message
func (r *MsgActivationReq) Pack() []byte {
	ln := 2 + 1 + 4
	if len(r.ReserveForOEM) == 4 {
		ln += 4
	}

	buf := make([]byte, ln)
	binary.BigEndian.PutUint16(buf[:2], r.SrcAddress)
	buf[2] = r.ActivationType
	copy(buf[3:7], r.ReserveForStd)

	if len(r.ReserveForOEM) == 4 {
		copy(buf[7:], r.ReserveForOEM)
	}
	return buf
}

// MsgAliveChkReq AliveCheck
type MsgAliveChkReq struct {
	Id MsgTid
}

// GetID returns id
func (r *MsgAliveChkReq) GetID() MsgTid { return r.Id }

//Pack message
func (r *MsgAliveChkReq) Pack() []byte {
	return []byte{}
}

//MsgDiagMsgReq DiagMsg
type MsgDiagMsgReq struct {
	Id         MsgTid
	SrcAddress uint16
	DstAddress uint16
	Userdata   []byte
}

// GetID returns id
func (r *MsgDiagMsgReq) GetID() MsgTid { return r.Id }

//Pack message
func (r *MsgDiagMsgReq) Pack() []byte {
	ln := 4 + len(r.Userdata)
	buf := make([]byte, ln)

	binary.BigEndian.PutUint16(buf[0:2], r.SrcAddress)
	binary.BigEndian.PutUint16(buf[2:4], r.DstAddress)
	copy(buf[4:], r.Userdata)

	return buf
}

//MsgDiagMsgRes DiagMsg
type MsgDiagMsgRes struct {
	Id         MsgTid
	SrcAddress uint16
	DstAddress uint16
	AckCode    byte // 0: Ack 1..0xFF NAck
	Userdata   []byte
}

// GetID returns id
func (w *MsgDiagMsgRes) GetID() MsgTid { return w.Id }

func packMsgReq(m Msg) ([]byte, error) {
	r, ok := m.(MsgReq)
	if !ok {
		return nil, ErrPackNil
	}
	return r.Pack(), nil
}

func packResNAK(m Msg) ([]byte, error) {
	r, ok := m.(*MsgNACKReq)
	if !ok {
		return nil, ErrPackNil
	}
	return r.Pack(), nil
}

func unpackReqRA(b *dissect.Buffer) (w Msg, err error) {
	ll := b.Len()
	if !(ll == 7 || ll == 11) {
		return nil, ErrUnpackBadLen
	}
	m := &MsgActivationReq{Id: RoutingActivationRequest}
	m.SrcAddress, _ = b.Uint16(0)
	m.ActivationType, _ = b.Uint8(2)
	m.ReserveForStd, _ = b.Bytes(3, 4)
	if ll == 11 {
		m.ReserveForOEM, _ = b.Bytes(7, 4)
	}
	return m, nil
}

func unpackReqAC(b *dissect.Buffer) (w Msg, err error) {
	if b.Len() != 0 {
		return nil, ErrUnpackBadLen
	}
	return &MsgAliveChkReq{Id: AliveCheckRequest}, nil
}

// unpackReqDM accepts an empty user data part; the addresses are mandatory.
func unpackReqDM(b *dissect.Buffer) (w Msg, err error) {
	m := &MsgDiagMsgReq{Id: DiagnosticMessage}
	if m.SrcAddress, err = b.Uint16(0); err != nil {
		return nil, ErrUnpackTooShort
	}
	if m.DstAddress, err = b.Uint16(2); err != nil {
		return nil, ErrUnpackTooShort
	}
	m.Userdata, _ = b.Bytes(4, b.Len()-4)
	return m, nil
}

func unpackResDM(b *dissect.Buffer) (w Msg, err error) {
	m := &MsgDiagMsgRes{}
	if m.SrcAddress, err = b.Uint16(0); err != nil {
		return nil, ErrUnpackTooShort
	}
	if m.DstAddress, err = b.Uint16(2); err != nil {
		return nil, ErrUnpackTooShort
	}
	if m.AckCode, err = b.Uint8(4); err != nil {
		return nil, ErrUnpackTooShort
	}
	m.Id = DiagnosticMessagePositiveAcknowledge
	if m.AckCode != 0 {
		m.Id = DiagnosticMessageNegativeAcknowledge
	}
	m.Userdata, _ = b.Bytes(5, b.Len()-5)
	return m, nil
}

func packResDM(m Msg) ([]byte, error) {
	r, ok := m.(*MsgDiagMsgRes)
	if !ok {
		return nil, ErrPackNil
	}
	len := 5 + len(r.Userdata)
	w := make([]byte, len)
	binary.BigEndian.PutUint16(w[0:2], r.SrcAddress)
	binary.BigEndian.PutUint16(w[2:4], r.DstAddress)
	w[4] = r.AckCode
	copy(w[5:len], r.Userdata)
	return w, nil
}
