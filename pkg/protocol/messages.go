package protocol

// Discover is broadcast by a scanner looking for peers.
type Discover struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// DiscoverResponse is sent back to a scanner by a listening peer.
type DiscoverResponse struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Port    int    `json:"port"`
	Version string `json:"version"`
}

// FileTransfer announces a file and how it will be split into packets.
type FileTransfer struct {
	Type         string `json:"type"`
	Filename     string `json:"filename"`
	Size         uint64 `json:"size"`
	PacketSize   uint32 `json:"packet_size"`
	TotalPackets uint32 `json:"total_packets"`
	Checksum     string `json:"checksum"`
}

// Packet carries one chunk of file content as hex text.
type Packet struct {
	PacketNum uint32 `json:"packet_num"`
	Data      string `json:"data"`
}

// Status is a receiver reply: READY, ACK, SUCCESS or ERROR.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Control is a typed message without payload fields (CANCEL, COMPLETE)
// or with a reason (ERROR).
type Control struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// NewDiscover builds a DISCOVER request.
func NewDiscover(name, version string) Discover {
	return Discover{Type: TypeDiscover, Name: name, Version: version}
}

// NewDiscoverResponse builds a DISCOVER_RESPONSE reply.
func NewDiscoverResponse(name string, port int, version string) DiscoverResponse {
	return DiscoverResponse{Type: TypeDiscoverResponse, Name: name, Port: port, Version: version}
}

func Ready() Status { return Status{Status: StatusReady} }

func Ack() Status { return Status{Status: StatusAck} }

func Success() Status { return Status{Status: StatusSuccess} }

// Failure is the receiver's negative verdict.
func Failure(message string) Status { return Status{Status: StatusError, Message: message} }

func Cancel() Control { return Control{Type: TypeCancel} }

func Complete() Control { return Control{Type: TypeComplete} }

// Abort is the ERROR control message either side may send mid-transfer.
func Abort(message string) Control { return Control{Type: TypeError, Message: message} }
