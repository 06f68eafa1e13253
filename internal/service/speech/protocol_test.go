package speech

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeAudioRequest(t *testing.T) {
	frame := EncodeMessage(newAudioRequest([]byte("pcm"), 5, true, NoCompression))

	if frame[0] != 0x11 {
		t.Fatalf("unexpected first header byte %#x", frame[0])
	}
	if frame[1] != byte(AudioOnlyRequest)<<4|byte(NegativeSequenceNumber) {
		t.Fatalf("unexpected type/flags byte %#x", frame[1])
	}

	msg, err := DecodeMessage(frame)
	if err != nil {
		t.Fatalf("DecodeMessage err: %v", err)
	}
	if msg.Sequence != -5 {
		t.Fatalf("expected negated sequence, got %d", msg.Sequence)
	}
	if !msg.IsLastPacket() {
		t.Fatal("expected last packet")
	}
	if !bytes.Equal(msg.Payload, []byte("pcm")) {
		t.Fatalf("unexpected payload %q", msg.Payload)
	}
}

func TestDecodeEventMessage(t *testing.T) {
	frame := EncodeMessage(&Message{
		Header:    Header{MessageType: FullServerResponse, MessageFlags: WithEvent, SerializationMethod: JSONSerialization},
		EventType: EventTypeSessionFinished,
		SessionID: "abc",
		Payload:   []byte(`{}`),
	})

	msg, err := DecodeMessage(frame)
	if err != nil {
		t.Fatalf("DecodeMessage err: %v", err)
	}
	if msg.EventType != EventTypeSessionFinished || msg.SessionID != "abc" {
		t.Fatalf("unexpected event fields %+v", msg)
	}
	if msg.IsLastPacket() {
		t.Fatal("event frame without last flag reported as last packet")
	}
}

func TestDecodeErrorMessage(t *testing.T) {
	frame := EncodeMessage(&Message{
		Header:    Header{MessageType: ErrorMessage},
		ErrorCode: 45000001,
		Payload:   []byte("bad request"),
	})

	msg, err := DecodeMessage(frame)
	if err != nil {
		t.Fatalf("DecodeMessage err: %v", err)
	}
	if msg.ErrorCode != 45000001 || string(msg.Payload) != "bad request" {
		t.Fatalf("unexpected error message %+v", msg)
	}
}

func TestDecodeRejectsTruncatedFrames(t *testing.T) {
	frame := EncodeMessage(newFullClientRequest([]byte(`{"a":1}`), NoCompression))

	if _, err := DecodeMessage(frame[:3]); err == nil {
		t.Fatal("expected header error")
	}
	if _, err := DecodeMessage(frame[:len(frame)-2]); err == nil {
		t.Fatal("expected payload error")
	}

	bad := append([]byte{}, frame...)
	bad[0] = 0x21
	if _, err := DecodeMessage(bad); err == nil {
		t.Fatal("expected version error")
	}
}

func TestGzipPayload(t *testing.T) {
	compressed, err := gzipBytes([]byte("hello"))
	if err != nil {
		t.Fatalf("gzipBytes err: %v", err)
	}
	msg, err := DecodeMessage(EncodeMessage(newFullClientRequest(compressed, GzipCompression)))
	if err != nil {
		t.Fatalf("DecodeMessage err: %v", err)
	}
	payload, err := msg.payload()
	if err != nil {
		t.Fatalf("payload err: %v", err)
	}
	if string(payload) != "hello" {
		t.Fatalf("unexpected payload %q", payload)
	}
}
