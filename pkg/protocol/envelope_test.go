package protocol

import (
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		kind    Kind
		wantErr bool
	}{
		{name: "discover", payload: `{"type":"DISCOVER","name":"alice","version":"1.0.0"}`, kind: KindDiscover},
		{name: "discover response", payload: `{"type":"DISCOVER_RESPONSE","name":"bob","port":37778,"version":"1.0.0"}`, kind: KindDiscoverResponse},
		{name: "file transfer", payload: `{"type":"FILE_TRANSFER","filename":"a.txt","size":3,"packet_size":8192,"total_packets":1,"checksum":"ab"}`, kind: KindFileTransfer},
		{name: "first packet", payload: `{"packet_num":0,"data":"616263"}`, kind: KindPacket},
		{name: "ready", payload: `{"status":"READY"}`, kind: KindStatus},
		{name: "error verdict", payload: `{"status":"ERROR","message":"Checksum mismatch"}`, kind: KindStatus},
		{name: "cancel", payload: `{"type":"CANCEL"}`, kind: KindCancel},
		{name: "abort", payload: `{"type":"ERROR","message":"disk full"}`, kind: KindError},
		{name: "complete", payload: `{"type":"COMPLETE"}`, kind: KindComplete},
		{name: "unknown type", payload: `{"type":"HELLO"}`, kind: KindUnknown},
		{name: "not json", payload: `garbage`, wantErr: true},
		{name: "array", payload: `[1,2]`, wantErr: true},
		{name: "empty object", payload: `{}`, wantErr: true},
		{name: "packet without data", payload: `{"packet_num":3}`, wantErr: true},
		{name: "wrong field type", payload: `{"type":"FILE_TRANSFER","size":"big"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("Decode() error = %v, want ErrMalformed", err)
				}
				return
			}
			if msg.Kind != tt.kind {
				t.Errorf("Decode() Kind = %v, want %v", msg.Kind, tt.kind)
			}
		})
	}
}

func TestDecode_FileTransferFields(t *testing.T) {
	payload, err := Encode(FileTransfer{
		Type:         TypeFileTransfer,
		Filename:     "report.pdf",
		Size:         1 << 20,
		PacketSize:   10485,
		TotalPackets: 101,
		Checksum:     "deadbeef",
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	ft := msg.FileTransfer
	if ft == nil {
		t.Fatal("FileTransfer is nil")
	}
	if ft.Filename != "report.pdf" || ft.Size != 1<<20 || ft.PacketSize != 10485 || ft.TotalPackets != 101 || ft.Checksum != "deadbeef" {
		t.Errorf("unexpected metadata: %+v", *ft)
	}
}

func TestMessage_Reason(t *testing.T) {
	msg, err := Decode([]byte(`{"status":"ERROR","message":"Checksum mismatch"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !msg.IsStatus(StatusError) {
		t.Errorf("IsStatus(ERROR) = false")
	}
	if msg.Reason() != "Checksum mismatch" {
		t.Errorf("Reason() = %q", msg.Reason())
	}

	msg, err = Decode([]byte(`{"type":"ERROR","message":"boom"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.IsStatus(StatusError) {
		t.Errorf("ERROR control reported as status")
	}
	if msg.Reason() != "boom" {
		t.Errorf("Reason() = %q", msg.Reason())
	}
}

func TestEncode_ZeroPacketNumIsPresent(t *testing.T) {
	payload, err := Encode(Packet{PacketNum: 0, Data: ""})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(payload) != `{"packet_num":0,"data":""}` {
		t.Errorf("Encode() = %s", payload)
	}
	msg, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Kind != KindPacket {
		t.Errorf("Kind = %v, want packet", msg.Kind)
	}
}
