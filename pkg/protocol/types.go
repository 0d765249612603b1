package protocol

// Message type constants carried in the "type" field.
const (
	TypeDiscover         = "DISCOVER"
	TypeDiscoverResponse = "DISCOVER_RESPONSE"
	TypeFileTransfer     = "FILE_TRANSFER"
	TypeCancel           = "CANCEL"
	TypeError            = "ERROR"
	TypeComplete         = "COMPLETE"
)

// Status constants carried in the "status" field of replies.
const (
	StatusReady   = "READY"
	StatusAck     = "ACK"
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// Pairing tokens are written raw on the stream, without framing.
const (
	TokenAccept = "ACCEPT"
	TokenReject = "REJECT"
)

// Kind identifies which variant a decoded Message holds.
type Kind int

const (
	KindUnknown Kind = iota
	KindDiscover
	KindDiscoverResponse
	KindFileTransfer
	KindPacket
	KindStatus
	KindCancel
	KindError
	KindComplete
)

func (k Kind) String() string {
	switch k {
	case KindDiscover:
		return "discover"
	case KindDiscoverResponse:
		return "discover_response"
	case KindFileTransfer:
		return "file_transfer"
	case KindPacket:
		return "packet"
	case KindStatus:
		return "status"
	case KindCancel:
		return "cancel"
	case KindError:
		return "error"
	case KindComplete:
		return "complete"
	default:
		return "unknown"
	}
}
