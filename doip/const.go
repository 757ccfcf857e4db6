package doip

// DoIP ISO 13400-2:2012
const (
	ProtocolVersion        uint8 = 0x02
	InverseProtocolVersion uint8 = ^ProtocolVersion
	// DefaultVersion is used by vehicle identification requests (Table 16).
	DefaultVersion        uint8 = 0xff
	InverseDefaultVersion uint8 = ^DefaultVersion

	HeaderLength = 8
	Port         = 13400
)

// Table 12: DoIP payload types
const (
	GenericHeaderNegativeAcknowledge     MsgTid = 0x0000
	VehicleIdentificationRequest         MsgTid = 0x0001
	VehicleIdentificationRequestEID      MsgTid = 0x0002
	VehicleIdentificationRequestVIN      MsgTid = 0x0003
	VehicleAnnouncementMessage           MsgTid = 0x0004
	RoutingActivationRequest             MsgTid = 0x0005
	RoutingActivationResponse            MsgTid = 0x0006
	AliveCheckRequest                    MsgTid = 0x0007
	AliveCheckResponse                   MsgTid = 0x0008
	EntityStatusRequest                  MsgTid = 0x4001
	EntityStatusResponse                 MsgTid = 0x4002
	PowerModeInformationRequest          MsgTid = 0x4003
	PowerModeInformationResponse         MsgTid = 0x4004
	DiagnosticMessage                    MsgTid = 0x8001
	DiagnosticMessagePositiveAcknowledge MsgTid = 0x8002
	DiagnosticMessageNegativeAcknowledge MsgTid = 0x8003
)

var payloadTypeNames = map[MsgTid]string{
	GenericHeaderNegativeAcknowledge:     "Generic DoIP header NACK",
	VehicleIdentificationRequest:         "Vehicle identification request",
	VehicleIdentificationRequestEID:      "Vehicle identification request with EID",
	VehicleIdentificationRequestVIN:      "Vehicle identification request with VIN",
	VehicleAnnouncementMessage:           "Vehicle announcement message/vehicle identification response",
	RoutingActivationRequest:             "Routing activation request",
	RoutingActivationResponse:            "Routing activation response",
	AliveCheckRequest:                    "Alive check request",
	AliveCheckResponse:                   "Alive check response",
	EntityStatusRequest:                  "DoIP entity status request",
	EntityStatusResponse:                 "DoIP entity status response",
	PowerModeInformationRequest:          "Diagnostic power mode information request",
	PowerModeInformationResponse:         "Diagnostic power mode information response",
	DiagnosticMessage:                    "Diagnostic message",
	DiagnosticMessagePositiveAcknowledge: "Diagnostic message positive acknowledgement",
	DiagnosticMessageNegativeAcknowledge: "Diagnostic message negative acknowledgement",
}

// PayloadTypeNames returns a copy of the Table 12 display names keyed by payload type.
func PayloadTypeNames() map[MsgTid]string {
	m := make(map[MsgTid]string, len(payloadTypeNames))
	for k, v := range payloadTypeNames {
		m[k] = v
	}
	return m
}

// Table 25: Routing activation response code values
const (
	RoutingDeniedUnsupportedType uint8 = 0x06
	RoutingSuccessfullyActivated uint8 = 0x10
)
