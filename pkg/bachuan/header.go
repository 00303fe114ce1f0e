package bachuan

import "encoding/binary"

// Magic header values. MagicRev (Magic with its hex digits reversed) is
// accepted on read as a variant some firmware emits; only Magic is ever
// written.
const (
	Magic    uint32 = 0x0abcdef0
	MagicRev uint32 = 0x0fedcba0
)

// Message IDs. Only Login, Video and VideoStop flows are implemented by
// this client; the remaining constants are kept so logs and callers can
// name any message a camera sends, matching the full command surface of
// the protocol.
const (
	MsgIDLogin          uint32 = 1
	MsgIDLogout         uint32 = 2
	MsgIDVideo          uint32 = 3
	MsgIDVideoStop      uint32 = 4
	MsgIDTalkAbility    uint32 = 10
	MsgIDTalkReset      uint32 = 11
	MsgIDPTZControl     uint32 = 18
	MsgIDReboot         uint32 = 23
	MsgIDMotionRequest  uint32 = 31
	MsgIDMotion         uint32 = 33
	MsgIDVersion        uint32 = 80
	MsgIDPing           uint32 = 93
	MsgIDGetGeneral     uint32 = 104
	MsgIDSnap           uint32 = 109
	MsgIDUID            uint32 = 114
	MsgIDStreamInfoList uint32 = 146
	MsgIDAbilityInfo    uint32 = 151
	MsgIDGetSupport     uint32 = 199
)

// MessageName returns a short descriptive name for a message ID, for
// logging. Unknown IDs return "Unknown".
func MessageName(id uint32) string {
	switch id {
	case MsgIDLogin:
		return "Login"
	case MsgIDLogout:
		return "Logout"
	case MsgIDVideo:
		return "Video"
	case MsgIDVideoStop:
		return "VideoStop"
	case MsgIDTalkAbility:
		return "TalkAbility"
	case MsgIDTalkReset:
		return "TalkReset"
	case MsgIDPTZControl:
		return "PtzControl"
	case MsgIDReboot:
		return "Reboot"
	case MsgIDMotionRequest:
		return "MotionRequest"
	case MsgIDMotion:
		return "Motion"
	case MsgIDVersion:
		return "Version"
	case MsgIDPing:
		return "Ping"
	case MsgIDGetGeneral:
		return "GetGeneral"
	case MsgIDSnap:
		return "Snap"
	case MsgIDUID:
		return "Uid"
	case MsgIDStreamInfoList:
		return "StreamInfoList"
	case MsgIDAbilityInfo:
		return "AbilityInfo"
	case MsgIDGetSupport:
		return "GetSupport"
	default:
		return "Unknown"
	}
}

// Message classes, encoded in the header's 2-byte class field.
const (
	ClassLegacy      uint16 = 0x6514 // legacy 20-byte header
	ClassModern20    uint16 = 0x6614 // modern 20-byte header
	ClassModern24    uint16 = 0x6414 // modern 24-byte header
	ClassModern24Alt uint16 = 0x0000 // modern 24-byte header, alternate class value
)

// Header sizes in bytes.
const (
	HeaderSize20 = 20
	HeaderSize24 = 24
)

// Response/request codes carried in the header's response_code field.
const (
	ResponseCodeOK         uint16 = 200
	ResponseCodeBadRequest uint16 = 400

	EncReqNone uint16 = 0xdc00
	EncReqBC   uint16 = 0xdc01
	EncReqAES  uint16 = 0xdc12

	EncRespNone    uint16 = 0xdd00
	EncRespBC      uint16 = 0xdd01
	EncRespAES     uint16 = 0xdd02
	EncRespFullAES uint16 = 0xdd12
)

// Stream handles used in the Preview request, selecting which physical
// stream a channel's video is read from.
const (
	StreamHandleMain   uint32 = 0
	StreamHandleSub    uint32 = 256
	StreamHandleExtern uint32 = 1024
)

// Header is the fixed-size frame header that precedes every BC message.
// PayloadOffset is only meaningful (and only present on the wire) when
// Class is ClassModern24 or ClassModern24Alt; HasPayloadOffset reports
// that condition.
type Header struct {
	Magic         uint32
	MsgID         uint32
	BodyLen       uint32
	ChannelID     uint8
	StreamType    uint8
	MsgNum        uint16
	ResponseCode  uint16
	Class         uint16
	PayloadOffset uint32
}

// HasPayloadOffset reports whether this header's class carries a 24-byte
// header with a trailing payload_offset field.
func (h *Header) HasPayloadOffset() bool {
	return h.Class == ClassModern24 || h.Class == ClassModern24Alt
}

// Size returns the on-wire size of this header, 20 or 24 bytes.
func (h *Header) Size() int {
	if h.HasPayloadOffset() {
		return HeaderSize24
	}
	return HeaderSize20
}

// Serialize writes the header in its little-endian wire format.
func (h *Header) Serialize() []byte {
	buf := make([]byte, h.Size())
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.MsgID)
	binary.LittleEndian.PutUint32(buf[8:12], h.BodyLen)
	buf[12] = h.ChannelID
	buf[13] = h.StreamType
	binary.LittleEndian.PutUint16(buf[14:16], h.MsgNum)
	binary.LittleEndian.PutUint16(buf[16:18], h.ResponseCode)
	binary.LittleEndian.PutUint16(buf[18:20], h.Class)
	if h.HasPayloadOffset() {
		binary.LittleEndian.PutUint32(buf[20:24], h.PayloadOffset)
	}
	return buf
}

// ParseHeader decodes a Header from data, returning the number of bytes
// consumed. It returns errShortFrame if data does not yet hold a complete
// header, or a protocol error if the magic is invalid.
func ParseHeader(data []byte) (Header, int, error) {
	var h Header
	if len(data) < HeaderSize20 {
		return h, 0, errShortFrame
	}

	h.Magic = binary.LittleEndian.Uint32(data[0:4])
	if h.Magic != Magic && h.Magic != MagicRev {
		return h, 0, protocolErr("invalid magic header", nil)
	}
	h.MsgID = binary.LittleEndian.Uint32(data[4:8])
	h.BodyLen = binary.LittleEndian.Uint32(data[8:12])
	h.ChannelID = data[12]
	h.StreamType = data[13]
	h.MsgNum = binary.LittleEndian.Uint16(data[14:16])
	h.ResponseCode = binary.LittleEndian.Uint16(data[16:18])
	h.Class = binary.LittleEndian.Uint16(data[18:20])

	if h.HasPayloadOffset() {
		if len(data) < HeaderSize24 {
			return h, 0, errShortFrame
		}
		h.PayloadOffset = binary.LittleEndian.Uint32(data[20:24])
		return h, HeaderSize24, nil
	}
	return h, HeaderSize20, nil
}

// Message is a complete BC frame: header plus the two body regions it
// frames. Extension holds the bytes before PayloadOffset (always XML);
// Payload holds the bytes from PayloadOffset onward (XML for control
// messages, binary media for streamed video/audio).
type Message struct {
	Header    Header
	Extension []byte
	Payload   []byte
}

// NewHeaderOnlyMessage builds a message with no body, as used for the
// legacy login request that only carries header fields.
func NewHeaderOnlyMessage(msgID uint32, msgNum uint16, class uint16) Message {
	h := Header{Magic: Magic, MsgID: msgID, MsgNum: msgNum, Class: class}
	return Message{Header: h}
}

// NewPayloadMessage builds a message whose entire body is payload (no
// extension), as used for login and Preview requests.
func NewPayloadMessage(msgID uint32, msgNum uint16, payload []byte, class uint16) Message {
	h := Header{
		Magic:   Magic,
		MsgID:   msgID,
		MsgNum:  msgNum,
		Class:   class,
		BodyLen: uint32(len(payload)),
	}
	return Message{Header: h, Payload: payload}
}

// NewExtensionMessage builds a message with both an extension and a
// payload region, setting PayloadOffset to the extension's length.
func NewExtensionMessage(msgID uint32, msgNum uint16, extension, payload []byte, class uint16) Message {
	h := Header{
		Magic:   Magic,
		MsgID:   msgID,
		MsgNum:  msgNum,
		Class:   class,
		BodyLen: uint32(len(extension) + len(payload)),
	}
	if h.HasPayloadOffset() {
		h.PayloadOffset = uint32(len(extension))
	}
	return Message{Header: h, Extension: extension, Payload: payload}
}

// Serialize writes the header followed by the extension and payload
// regions, the complete on-wire representation of the message.
func (m *Message) Serialize() []byte {
	buf := m.Header.Serialize()
	buf = append(buf, m.Extension...)
	buf = append(buf, m.Payload...)
	return buf
}
