package doip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpackDiagnosticMessage(t *testing.T) {
	m, err := Unpack([]byte{0x0E, 0x80, 0x10, 0x00, 0x22, 0xF1, 0x90}, DiagnosticMessage)
	require.NoError(t, err)
	assert.Equal(t, &MsgDiagMsgReq{
		Id:         DiagnosticMessage,
		SrcAddress: 0x0E80,
		DstAddress: 0x1000,
		Userdata:   []byte{0x22, 0xF1, 0x90},
	}, m)

	m, err = Unpack([]byte{0x0E, 0x80, 0x10, 0x00}, DiagnosticMessage)
	require.NoError(t, err)
	assert.Empty(t, m.(*MsgDiagMsgReq).Userdata)

	_, err = Unpack([]byte{0x0E, 0x80, 0x10}, DiagnosticMessage)
	assert.Equal(t, ErrUnpackTooShort, err)
}

func TestUnpackDiagnosticAck(t *testing.T) {
	m, err := Unpack([]byte{0x10, 0x00, 0x0E, 0x80, 0x00}, DiagnosticMessagePositiveAcknowledge)
	require.NoError(t, err)
	assert.Equal(t, DiagnosticMessagePositiveAcknowledge, m.GetID())

	m, err = Unpack([]byte{0x10, 0x00, 0x0E, 0x80, 0x02, 0x3E}, DiagnosticMessageNegativeAcknowledge)
	require.NoError(t, err)
	res := m.(*MsgDiagMsgRes)
	assert.Equal(t, DiagnosticMessageNegativeAcknowledge, res.Id)
	assert.Equal(t, []byte{0x3E}, res.Userdata)

	b, err := Pack(res, res.GetID())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x00, 0x0E, 0x80, 0x02, 0x3E}, b)
}

func TestUnpackRoutingActivation(t *testing.T) {
	m, err := Unpack([]byte{0x0E, 0x80, 0x00, 0, 0, 0, 0}, RoutingActivationRequest)
	require.NoError(t, err)
	ra := m.(*MsgActivationReq)
	assert.Equal(t, uint16(0x0E80), ra.SrcAddress)
	assert.Nil(t, ra.ReserveForOEM)

	_, err = Unpack([]byte{0x0E, 0x80, 0x00}, RoutingActivationRequest)
	assert.Equal(t, ErrUnpackBadLen, err)
}

func TestUnpackUnknown(t *testing.T) {
	_, err := Unpack(nil, VehicleAnnouncementMessage)
	assert.Equal(t, ErrUnpackNoExist, err)
}

func TestPackMsg(t *testing.T) {
	b, err := PackMsg(&MsgNACKReq{Id: GenericHeaderNegativeAcknowledge, ErrCode: DoIPHdrErrInvalidLen})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0xFD, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x04}, b)

	b, err = PackMsg(&MsgAliveChkReq{Id: AliveCheckRequest})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0xFD, 0x00, 0x07, 0x00, 0x00, 0x00, 0x00}, b)

	_, err = PackMsg(&MsgDiagMsgReq{Id: EntityStatusRequest})
	assert.Equal(t, ErrPackNoExist, err)
}

func TestMsgTidString(t *testing.T) {
	assert.Equal(t, "Diagnostic message", DiagnosticMessage.String())
	assert.Equal(t, "Unknown payload type", MsgTid(0x9999).String())

	names := PayloadTypeNames()
	names[DiagnosticMessage] = "changed"
	assert.Equal(t, "Diagnostic message", DiagnosticMessage.String())
}
