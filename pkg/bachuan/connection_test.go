package bachuan

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func pipeConnections() (*Connection, *Connection) {
	a, b := net.Pipe()
	return NewConnection(a), NewConnection(b)
}

func TestConnectionSendReceiveUnencrypted(t *testing.T) {
	client, server := pipeConnections()
	defer client.Close()
	defer server.Close()

	msg := NewPayloadMessage(MsgIDPing, 1, []byte("hello"), ClassModern20)

	errCh := make(chan error, 1)
	go func() { errCh <- client.Send(msg) }()

	got, err := server.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}

	if !bytes.Equal(got.Payload, msg.Payload) {
		t.Fatalf("payload mismatch: got %q, want %q", got.Payload, msg.Payload)
	}
	if got.Header.MsgID != MsgIDPing {
		t.Fatalf("expected MsgIDPing, got %d", got.Header.MsgID)
	}
}

func TestConnectionBcXorOffsetContinuityAcrossMessages(t *testing.T) {
	client, server := pipeConnections()
	defer client.Close()
	defer server.Close()

	var clientCipher, serverCipher Cipher
	clientCipher.SetBcXor()
	serverCipher.SetBcXor()
	client.SetCipher(clientCipher)
	server.SetCipher(serverCipher)

	messages := [][]byte{
		[]byte("first message body"),
		[]byte("second message, different length than the first"),
		[]byte("3rd"),
	}

	for i, payload := range messages {
		msg := NewPayloadMessage(MsgIDPing, uint16(i+1), payload, ClassModern20)
		errCh := make(chan error, 1)
		go func() { errCh <- client.Send(msg) }()

		got, err := server.Receive(2 * time.Second)
		if err != nil {
			t.Fatalf("message %d: Receive: %v", i, err)
		}
		if err := <-errCh; err != nil {
			t.Fatalf("message %d: Send: %v", i, err)
		}
		if !bytes.Equal(got.Payload, payload) {
			t.Fatalf("message %d: payload mismatch: got %q, want %q", i, got.Payload, payload)
		}
	}
}

func TestSplitAndDecryptFullAesEncryptLenPrefix(t *testing.T) {
	var key [16]byte
	copy(key[:], []byte("0123456789abcdef"))

	var cipher Cipher
	if err := cipher.SetFullAES(key); err != nil {
		t.Fatalf("SetFullAES: %v", err)
	}

	plainTail := bytes.Repeat([]byte{0xAB}, 1500-1024)
	plainHead := bytes.Repeat([]byte{0xCD}, 1024)
	fullPlain := append(append([]byte{}, plainHead...), plainTail...)

	encryptedHead, err := cipher.Encrypt(0, plainHead)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	wirePayload := append(append([]byte{}, encryptedHead...), plainTail...)

	extension := []byte(`<?xml version="1.0" encoding="UTF-8" ?><Extension version="1.1"><binaryData>1</binaryData><encryptLen>1024</encryptLen></Extension>`)
	// The extension travels encrypted, like every XML region.
	encryptedExt, err := cipher.Encrypt(0, extension)
	if err != nil {
		t.Fatalf("Encrypt extension: %v", err)
	}

	conn := NewConnection(&discardConn{})
	conn.SetCipher(cipher)

	header := Header{
		Magic:         Magic,
		MsgID:         MsgIDVideo,
		MsgNum:        9,
		Class:         ClassModern24,
		PayloadOffset: uint32(len(extension)),
	}
	body := append(append([]byte{}, encryptedExt...), wirePayload...)

	msg, err := conn.splitAndDecrypt(header, body)
	if err != nil {
		t.Fatalf("splitAndDecrypt: %v", err)
	}

	if !bytes.Equal(msg.Payload, fullPlain) {
		t.Fatalf("expected decrypted head + untouched tail to equal the original plaintext;\ngot  %x\nwant %x", msg.Payload, fullPlain)
	}
}

func TestSplitAndDecryptBinaryModeStickyAcrossMessages(t *testing.T) {
	var cipher Cipher
	cipher.SetBcXor()

	conn := NewConnection(&discardConn{})
	conn.SetCipher(cipher)

	const msgNum = uint16(42)

	// First message: extension announces binary mode for this msg_num.
	// The extension itself travels BcXor-encrypted; only the binary payload
	// is sent raw.
	extension := []byte(`<?xml version="1.0" encoding="UTF-8" ?><Extension version="1.1"><binaryData>1</binaryData></Extension>`)
	encryptedExt, err := cipher.Encrypt(0, extension)
	if err != nil {
		t.Fatalf("Encrypt extension: %v", err)
	}
	rawBinary := []byte{0x01, 0x02, 0x03, 0x04}
	header1 := Header{
		Magic:         Magic,
		MsgID:         MsgIDVideo,
		MsgNum:        msgNum,
		Class:         ClassModern24,
		PayloadOffset: uint32(len(extension)),
	}
	body1 := append(append([]byte{}, encryptedExt...), rawBinary...)

	msg1, err := conn.splitAndDecrypt(header1, body1)
	if err != nil {
		t.Fatalf("first splitAndDecrypt: %v", err)
	}
	if !bytes.Equal(msg1.Payload, rawBinary) {
		t.Fatalf("expected binary payload left raw under BcXor, got %x", msg1.Payload)
	}
	if !conn.isBinaryMode(msgNum) {
		t.Fatal("expected binary mode to be marked for this msg_num")
	}

	// Second message, same msg_num, no extension at all: must still be
	// treated as binary (sticky) and left undecrypted.
	header2 := Header{
		Magic:  Magic,
		MsgID:  MsgIDVideo,
		MsgNum: msgNum,
		Class:  ClassLegacy,
	}
	rawBinary2 := []byte{0xAA, 0xBB, 0xCC}

	msg2, err := conn.splitAndDecrypt(header2, rawBinary2)
	if err != nil {
		t.Fatalf("second splitAndDecrypt: %v", err)
	}
	if !bytes.Equal(msg2.Payload, rawBinary2) {
		t.Fatalf("expected sticky binary mode to leave second message's payload raw, got %x", msg2.Payload)
	}
}

// discardConn is a minimal net.Conn that is never actually read from or
// written to by the tests above; splitAndDecrypt doesn't touch the
// connection, it only operates on the header/body passed in directly.
type discardConn struct{ net.Conn }

func (discardConn) Read(b []byte) (int, error)  { return 0, net.ErrClosed }
func (discardConn) Write(b []byte) (int, error) { return len(b), nil }
func (discardConn) Close() error                { return nil }
