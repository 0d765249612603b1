package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned when a payload is not valid JSON or does not
// match any known message shape.
var ErrMalformed = errors.New("malformed message")

// Message is one decoded wire message. Kind selects which of the
// variant fields is set.
type Message struct {
	Kind Kind

	Discover         *Discover
	DiscoverResponse *DiscoverResponse
	FileTransfer     *FileTransfer
	Packet           *Packet
	Status           *Status
	Control          *Control

	// Type is the raw "type" discriminator when present, kept for
	// logging unknown messages.
	Type string
}

// shape records which discriminating fields are present in a payload.
type shape struct {
	Type      *string `json:"type"`
	Status    *string `json:"status"`
	PacketNum *uint32 `json:"packet_num"`
	Data      *string `json:"data"`
}

// Encode marshals any wire message to its JSON payload.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// Decode parses a payload into a Message. A well-formed object with an
// unrecognized "type" decodes to KindUnknown without error; anything that
// is not an object, or that carries neither "type", "status" nor a packet,
// is ErrMalformed.
func Decode(payload []byte) (Message, error) {
	var p shape
	if err := json.Unmarshal(payload, &p); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case p.Type != nil:
		return decodeTyped(*p.Type, payload)
	case p.Status != nil:
		var s Status
		if err := json.Unmarshal(payload, &s); err != nil {
			return Message{}, fmt.Errorf("%w: status: %v", ErrMalformed, err)
		}
		return Message{Kind: KindStatus, Status: &s}, nil
	case p.PacketNum != nil && p.Data != nil:
		var pk Packet
		if err := json.Unmarshal(payload, &pk); err != nil {
			return Message{}, fmt.Errorf("%w: packet: %v", ErrMalformed, err)
		}
		return Message{Kind: KindPacket, Packet: &pk}, nil
	default:
		return Message{}, fmt.Errorf("%w: no type, status or packet fields", ErrMalformed)
	}
}

func decodeTyped(msgType string, payload []byte) (Message, error) {
	msg := Message{Type: msgType}
	var err error
	switch msgType {
	case TypeDiscover:
		msg.Kind = KindDiscover
		msg.Discover = &Discover{}
		err = json.Unmarshal(payload, msg.Discover)
	case TypeDiscoverResponse:
		msg.Kind = KindDiscoverResponse
		msg.DiscoverResponse = &DiscoverResponse{}
		err = json.Unmarshal(payload, msg.DiscoverResponse)
	case TypeFileTransfer:
		msg.Kind = KindFileTransfer
		msg.FileTransfer = &FileTransfer{}
		err = json.Unmarshal(payload, msg.FileTransfer)
	case TypeCancel, TypeError, TypeComplete:
		msg.Kind = controlKind(msgType)
		msg.Control = &Control{}
		err = json.Unmarshal(payload, msg.Control)
	default:
		return msg, nil
	}
	if err != nil {
		return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformed, msgType, err)
	}
	return msg, nil
}

func controlKind(msgType string) Kind {
	switch msgType {
	case TypeCancel:
		return KindCancel
	case TypeError:
		return KindError
	default:
		return KindComplete
	}
}

// Reason returns the human-readable message carried by ERROR controls and
// ERROR statuses, or "" for other kinds.
func (m Message) Reason() string {
	switch {
	case m.Control != nil:
		return m.Control.Message
	case m.Status != nil:
		return m.Status.Message
	default:
		return ""
	}
}

// IsStatus reports whether m is a status reply with the given value.
func (m Message) IsStatus(status string) bool {
	return m.Kind == KindStatus && m.Status != nil && m.Status.Status == status
}

// Describe renders a short label for logs and error messages.
func (m Message) Describe() string {
	switch m.Kind {
	case KindStatus:
		return "status " + m.Status.Status
	case KindUnknown:
		if m.Type != "" {
			return "unknown type " + m.Type
		}
		return "unknown"
	default:
		return m.Kind.String()
	}
}
