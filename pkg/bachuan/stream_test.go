package bachuan

import (
	"net"
	"testing"
)

func TestProcessMediaDataResyncAndCallback(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := NewConnection(client)
	stream := NewVideoStream(conn)

	var received []MediaFrame
	stream.OnFrame(func(f MediaFrame) { received = append(received, f) })

	payload := []byte("stream payload bytes for the keyframe")
	valid := buildIFrame(t, payload)
	garbage := []byte{0xEF, 0xBE, 0xAD, 0xDE}
	data := append(append([]byte(nil), garbage...), valid...)

	stream.processMediaData(data)

	if len(received) != 1 {
		t.Fatalf("expected exactly one decoded frame, got %d", len(received))
	}
	iframe, ok := received[0].(MediaIFrame)
	if !ok {
		t.Fatalf("expected MediaIFrame, got %T", received[0])
	}
	if string(iframe.Data) != string(payload) {
		t.Fatalf("frame payload mismatch: got %q, want %q", iframe.Data, payload)
	}

	stats := stream.Stats()
	if stats.FramesReceived != 1 || stats.IFrames != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestProcessMediaDataWaitsForMoreDataOnPartialRecord(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()

	conn := NewConnection(client)
	stream := NewVideoStream(conn)

	var received []MediaFrame
	stream.OnFrame(func(f MediaFrame) { received = append(received, f) })

	payload := []byte("a keyframe payload that will be split across two deliveries")
	valid := buildIFrame(t, payload)

	// Deliver the record in two pieces; no frame should be reported until
	// the second piece arrives.
	split := len(valid) / 2
	stream.processMediaData(valid[:split])
	if len(received) != 0 {
		t.Fatalf("expected no frames yet from a partial record, got %d", len(received))
	}

	stream.processMediaData(valid[split:])
	if len(received) != 1 {
		t.Fatalf("expected one frame after the record completes, got %d", len(received))
	}
}

func TestProcessMessageIgnoresNonVideo(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()

	conn := NewConnection(client)
	stream := NewVideoStream(conn)

	called := false
	stream.OnFrame(func(f MediaFrame) { called = true })

	msg := &Message{
		Header:  Header{MsgID: MsgIDPing},
		Payload: []byte("irrelevant"),
	}
	stream.processMessage(msg)

	if called {
		t.Fatal("expected non-video messages to be ignored")
	}
}

func TestIoTimeoutHelper(t *testing.T) {
	timeoutErr := ioTimeoutErr("deadline exceeded", nil)
	if !ioTimeout(timeoutErr) {
		t.Fatal("expected ioTimeout to report true for a timeout error")
	}

	connErr := ioErr("connection reset", nil)
	if ioTimeout(connErr) {
		t.Fatal("expected ioTimeout to report false for a non-timeout io error")
	}
}
