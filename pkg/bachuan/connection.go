package bachuan

import (
	"bytes"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HowardsPlayPen/bachuan/internal/bclog"
)

// DefaultPort is the TCP port BC cameras listen on.
const DefaultPort = 9000

// Connection is a framed BC transport over a net.Conn. It tracks the
// installed cipher, the send/recv offset counters that feed BcXor, and the
// sticky per-msg_num binary-mode set used to decide whether a payload is
// XML or opaque media. A Connection is safe for concurrent send and
// receive; concurrent Send calls are serialized with each other, as are
// concurrent Receive calls.
type Connection struct {
	conn net.Conn

	msgNumCounter uint32 // atomic, pre-increment

	sendMu     sync.Mutex
	recvMu     sync.Mutex
	cipherMu   sync.Mutex
	cipher     Cipher
	sendOffset uint32
	recvOffset uint32

	recvBuf bytes.Buffer

	binaryModeMu sync.Mutex
	binaryModeNu map[uint16]struct{}
}

// Dial connects to a camera at addr (host:port) and returns a ready
// Connection. Use DefaultPort when the camera's port is unknown.
func Dial(addr string) (*Connection, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, ioErr("failed to connect", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewConnection(conn), nil
}

// NewConnection wraps an already-established net.Conn. Exposed directly so
// tests can drive the protocol over net.Pipe.
func NewConnection(conn net.Conn) *Connection {
	return &Connection{
		conn:         conn,
		binaryModeNu: make(map[uint16]struct{}),
	}
}

// Close closes the underlying connection.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// NextMsgNum returns the next value in the monotonically increasing
// message-number sequence.
func (c *Connection) NextMsgNum() uint16 {
	return uint16(atomic.AddUint32(&c.msgNumCounter, 1))
}

// SetCipher installs a new cipher for subsequent sends/receives.
func (c *Connection) SetCipher(cipher Cipher) {
	c.cipherMu.Lock()
	c.cipher = cipher
	c.cipherMu.Unlock()
}

func (c *Connection) currentCipher() Cipher {
	c.cipherMu.Lock()
	defer c.cipherMu.Unlock()
	return c.cipher
}

// ResetOffsets zeroes the send/recv offset counters. Called after
// installing the login-time BcXor cipher, and again after promoting to
// AES/FullAes, so that each cipher's keystream starts from offset zero.
func (c *Connection) ResetOffsets() {
	atomic.StoreUint32(&c.sendOffset, 0)
	atomic.StoreUint32(&c.recvOffset, 0)
}

// Send serializes msg, encrypting its body region (header is never
// encrypted) with the installed cipher and the current send offset, then
// writes it to the socket.
func (c *Connection) Send(msg Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	header := msg.Header.Serialize()
	body := append(append([]byte{}, msg.Extension...), msg.Payload...)

	cipher := c.currentCipher()
	if len(body) > 0 && cipher.Type() != Unencrypted {
		encrypted, err := cipher.Encrypt(atomic.LoadUint32(&c.sendOffset), body)
		if err != nil {
			return err
		}
		body = encrypted
	}

	bclog.Debugf("sending %s message, %d bytes, msg_num=%d", MessageName(msg.Header.MsgID), len(header)+len(body), msg.Header.MsgNum)

	out := append(header, body...)
	if _, err := writeFull(c.conn, out); err != nil {
		return ioErr("send failed", err)
	}
	atomic.AddUint32(&c.sendOffset, uint32(len(body)))
	return nil
}

func writeFull(w io.Writer, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := w.Write(data[written:])
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Receive reads and decrypts the next complete message, blocking until one
// arrives, the deadline elapses, or the connection errors. A deadline of
// zero waits indefinitely.
func (c *Connection) Receive(deadline time.Duration) (*Message, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if err := c.fillAtLeast(HeaderSize20, deadline); err != nil {
		return nil, err
	}

	header, consumed, err := ParseHeader(c.recvBuf.Bytes())
	if err == errShortFrame {
		// 24-byte header class: wait for the trailing payload_offset field.
		if err := c.fillAtLeast(HeaderSize24, deadline); err != nil {
			return nil, err
		}
		header, consumed, err = ParseHeader(c.recvBuf.Bytes())
	}
	if err != nil {
		return nil, protocolErr("failed to parse header", err)
	}

	total := consumed + int(header.BodyLen)
	if err := c.fillAtLeast(total, deadline); err != nil {
		return nil, err
	}

	raw := c.recvBuf.Bytes()[:total]
	body := raw[consumed:total]

	msg, err := c.splitAndDecrypt(header, body)

	// Drop the consumed bytes regardless of decrypt outcome so a malformed
	// single message doesn't wedge the buffer forever.
	remaining := make([]byte, c.recvBuf.Len()-total)
	copy(remaining, c.recvBuf.Bytes()[total:])
	c.recvBuf.Reset()
	c.recvBuf.Write(remaining)

	if err != nil {
		return nil, err
	}

	atomic.AddUint32(&c.recvOffset, header.BodyLen)

	bclog.Debugf("received %s message, %d bytes, response=%d, msg_num=%d",
		MessageName(msg.Header.MsgID), total, msg.Header.ResponseCode, msg.Header.MsgNum)

	return msg, nil
}

// fillAtLeast ensures the receive buffer holds at least n bytes, reading
// from the socket as needed.
func (c *Connection) fillAtLeast(n int, deadline time.Duration) error {
	for c.recvBuf.Len() < n {
		if deadline > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
				return ioErr("failed to set read deadline", err)
			}
		} else {
			if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
				return ioErr("failed to clear read deadline", err)
			}
		}

		tmp := make([]byte, 4096)
		read, err := c.conn.Read(tmp)
		if read > 0 {
			c.recvBuf.Write(tmp[:read])
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return ioTimeoutErr("timed out waiting for data", err)
			}
			if err == io.EOF {
				return ioErr("connection closed by peer", err)
			}
			return ioErr("receive error", err)
		}
	}
	return nil
}

// splitAndDecrypt implements the selective-decryption rules: the
// extension (when present) is always decrypted as XML; the payload is
// decrypted as XML unless the msg_num is in (or this message's extension
// establishes) binary mode, in which case only FullAes decrypts it, and
// then only over the encryptLen prefix, only when a non-zero encryptLen is
// announced; otherwise a binary payload is left raw. A body without an
// extension on a VIDEO or VIDEO_STOP message is also left raw.
func (c *Connection) splitAndDecrypt(header Header, body []byte) (*Message, error) {
	cipher := c.currentCipher()
	offset := atomic.LoadUint32(&c.recvOffset)

	msg := &Message{Header: header}

	if header.HasPayloadOffset() && header.PayloadOffset > 0 {
		if int(header.PayloadOffset) > len(body) {
			msg.Payload = body
			if cipher.Type() != Unencrypted {
				decrypted, err := cipher.Decrypt(offset, msg.Payload)
				if err != nil {
					return nil, err
				}
				msg.Payload = decrypted
			}
			return msg, nil
		}

		extension := body[:header.PayloadOffset]
		payload := body[header.PayloadOffset:]

		if cipher.Type() != Unencrypted && len(extension) > 0 {
			decrypted, err := cipher.Decrypt(offset, extension)
			if err != nil {
				return nil, err
			}
			extension = decrypted
		}
		msg.Extension = extension

		ext := scanExtension(extension)
		if ext.hasBinary && ext.binary {
			c.markBinaryMode(header.MsgNum)
		}
		isBinary := c.isBinaryMode(header.MsgNum)

		switch {
		case cipher.Type() == FullAes && isBinary && ext.hasEncrypt && ext.encryptLen > 0:
			payload = decryptFullAesPrefix(&cipher, offset, payload, ext.encryptLen)
		case cipher.Type() == FullAes && !isBinary:
			decrypted, err := cipher.Decrypt(offset, payload)
			if err != nil {
				return nil, err
			}
			payload = decrypted
		case cipher.Type() != Unencrypted && !isBinary:
			decrypted, err := cipher.Decrypt(offset, payload)
			if err != nil {
				return nil, err
			}
			payload = decrypted
		}
		// Binary payload without encryptLen under BcXor/Aes/FullAes is left raw.
		msg.Payload = payload
		return msg, nil
	}

	// No extension: the whole body is payload, either XML or raw media.
	msg.Payload = body
	isBinary := c.isBinaryMode(header.MsgNum)
	isVideoMsg := header.MsgID == MsgIDVideo || header.MsgID == MsgIDVideoStop
	if cipher.Type() != Unencrypted && !isBinary && !isVideoMsg {
		decrypted, err := cipher.Decrypt(offset, msg.Payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = decrypted
	}
	return msg, nil
}

// decryptFullAesPrefix decrypts only the first encryptLen bytes of a
// FullAes binary payload, leaving the remainder (already cleartext)
// untouched: running CFB over cleartext would otherwise produce garbage.
func decryptFullAesPrefix(cipher *Cipher, offset uint32, payload []byte, encryptLen uint32) []byte {
	if int(encryptLen) >= len(payload) {
		decrypted, err := cipher.Decrypt(offset, payload)
		if err != nil {
			return payload
		}
		return decrypted
	}
	encrypted := payload[:encryptLen]
	clear := payload[encryptLen:]
	decrypted, err := cipher.Decrypt(offset, encrypted)
	if err != nil {
		return payload
	}
	out := make([]byte, 0, len(payload))
	out = append(out, decrypted...)
	out = append(out, clear...)
	return out
}

func (c *Connection) markBinaryMode(msgNum uint16) {
	c.binaryModeMu.Lock()
	c.binaryModeNu[msgNum] = struct{}{}
	c.binaryModeMu.Unlock()
}

func (c *Connection) isBinaryMode(msgNum uint16) bool {
	c.binaryModeMu.Lock()
	defer c.binaryModeMu.Unlock()
	_, ok := c.binaryModeNu[msgNum]
	return ok
}

// ClearBinaryMode drops the sticky binary-mode set, used when a stream
// session stops.
func (c *Connection) ClearBinaryMode() {
	c.binaryModeMu.Lock()
	c.binaryModeNu = make(map[uint16]struct{})
	c.binaryModeMu.Unlock()
}

type extensionScan struct {
	hasBinary  bool
	binary     bool
	hasEncrypt bool
	encryptLen uint32
}

// scanExtension does a cheap substring scan for <binaryData> and
// <encryptLen> rather than a full XML parse: this runs on every streamed
// video message and only ever needs these two fields to make decryption
// decisions. ParseExtension (model.go) is used for the fuller, slower
// parse the stream layer exposes to callers.
func scanExtension(extension []byte) extensionScan {
	var out extensionScan
	if i := bytes.Index(extension, []byte("<binaryData>")); i >= 0 {
		start := i + len("<binaryData>")
		if end := bytes.Index(extension[start:], []byte("</binaryData>")); end >= 0 {
			out.hasBinary = true
			out.binary = string(bytes.TrimSpace(extension[start:start+end])) == "1"
		}
	}
	if i := bytes.Index(extension, []byte("<encryptLen>")); i >= 0 {
		start := i + len("<encryptLen>")
		if end := bytes.Index(extension[start:], []byte("</encryptLen>")); end >= 0 {
			var n uint32
			for _, d := range extension[start : start+end] {
				if d < '0' || d > '9' {
					n = 0
					break
				}
				n = n*10 + uint32(d-'0')
			}
			out.hasEncrypt = true
			out.encryptLen = n
		}
	}
	return out
}
