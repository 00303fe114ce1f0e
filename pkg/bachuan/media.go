package bachuan

import "encoding/binary"

// BcMedia magic values, each a little-endian u32 read from 4 ASCII bytes
// (the bytes as they appear on the wire are given in the comments).
const (
	magicInfoV1     uint32 = 0x31303031 // "1001"
	magicInfoV2     uint32 = 0x32303031 // "1002"
	magicIFrame     uint32 = 0x63643030 // "00dc"
	magicIFrameLast uint32 = 0x63643039 // "90dc"
	magicPFrame     uint32 = 0x63643130 // "01dc"
	magicPFrameLast uint32 = 0x63643139 // "91dc"
	magicAAC        uint32 = 0x62773530 // "05wb"
	magicADPCM      uint32 = 0x62773130 // "01wb"
)

// mediaPadSize is the alignment every BcMedia record is padded to.
const mediaPadSize = 8

// VideoCodec identifies the codec carried by an IFrame/PFrame record.
type VideoCodec int

const (
	CodecH264 VideoCodec = iota
	CodecH265
)

// MediaInfo is the stream-description record sent once at the start of a
// video stream.
type MediaInfo struct {
	VideoWidth  uint32
	VideoHeight uint32
	FPS         uint8
	StartYear   uint8
	StartMonth  uint8
	StartDay    uint8
	StartHour   uint8
	StartMin    uint8
	StartSec    uint8
	EndYear     uint8
	EndMonth    uint8
	EndDay      uint8
	EndHour     uint8
	EndMin      uint8
	EndSec      uint8
}

// MediaIFrame is a video keyframe.
type MediaIFrame struct {
	Codec        VideoCodec
	Microseconds uint32
	PosixTime    uint32
	HasPosixTime bool
	Data         []byte
}

// MediaPFrame is a video delta frame.
type MediaPFrame struct {
	Codec        VideoCodec
	Microseconds uint32
	Data         []byte
}

// MediaAAC is an AAC-encoded audio record (ADTS-framed).
type MediaAAC struct {
	Data []byte
}

// Duration returns the ADTS frame's playback duration, or false if the
// ADTS header is missing/malformed.
func (a MediaAAC) Duration() (time uint32, ok bool) {
	if len(a.Data) < 7 {
		return 0, false
	}
	if a.Data[0] != 0xFF || a.Data[1]&0xF0 != 0xF0 {
		return 0, false
	}
	freqIndex := (a.Data[2] & 0x3C) >> 2
	sampleRates := [13]uint32{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}
	if freqIndex >= uint8(len(sampleRates)) {
		return 0, false
	}
	rate := sampleRates[freqIndex]
	if rate == 0 {
		return 0, false
	}
	frames := uint32(a.Data[6]&0x03) + 1
	samples := frames * 1024
	return samples * 1000000 / rate, true
}

// MediaADPCM is an ADPCM-encoded audio record.
type MediaADPCM struct {
	Data []byte
}

// BlockSize returns the record's ADPCM block size (data length minus the
// 4-byte inner header already stripped by the parser... kept for parity
// with the protocol's own accounting, which defines block size as the
// payload length).
func (a MediaADPCM) BlockSize() uint32 {
	return uint32(len(a.Data))
}

// Duration returns the record's playback duration at the protocol's fixed
// 8kHz ADPCM sample rate.
func (a MediaADPCM) Duration() uint32 {
	samples := a.BlockSize() * 2
	const sampleRate = 8000
	return samples * 1000000 / sampleRate
}

// MediaFrame is implemented by every BcMedia record type: MediaInfo,
// MediaIFrame, MediaPFrame, MediaAAC, MediaADPCM.
type MediaFrame interface {
	isMediaFrame()
}

func (MediaInfo) isMediaFrame()   {}
func (MediaIFrame) isMediaFrame() {}
func (MediaPFrame) isMediaFrame() {}
func (MediaAAC) isMediaFrame()    {}
func (MediaADPCM) isMediaFrame()  {}

// IsMediaMagic reports whether magic is a recognized BcMedia record
// discriminator.
func IsMediaMagic(magic uint32) bool {
	return magic == magicInfoV1 || magic == magicInfoV2 ||
		(magic >= magicIFrame && magic <= magicIFrameLast) ||
		(magic >= magicPFrame && magic <= magicPFrameLast) ||
		magic == magicAAC || magic == magicADPCM
}

// ParseMediaRecord parses a single BcMedia record from the start of data.
// It returns the decoded frame and the number of bytes consumed
// (including the magic and any padding), or errShortFrame if data does
// not yet hold a complete record. Callers must have already verified the
// leading 4 bytes are a recognized magic via IsMediaMagic.
func ParseMediaRecord(data []byte) (MediaFrame, int, error) {
	if len(data) < 4 {
		return nil, 0, errShortFrame
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	rest := data[4:]

	switch {
	case magic == magicInfoV1 || magic == magicInfoV2:
		frame, n, err := parseInfo(rest)
		return frame, n + 4, err
	case magic >= magicIFrame && magic <= magicIFrameLast:
		frame, n, err := parseIFrame(rest)
		return frame, n + 4, err
	case magic >= magicPFrame && magic <= magicPFrameLast:
		frame, n, err := parsePFrame(rest)
		return frame, n + 4, err
	case magic == magicAAC:
		frame, n, err := parseAAC(rest)
		return frame, n + 4, err
	case magic == magicADPCM:
		frame, n, err := parseADPCM(rest)
		return frame, n + 4, err
	default:
		return nil, 0, protocolErr("not a recognized media magic", nil)
	}
}

func calculatePadding(size uint32) uint32 {
	remainder := size % mediaPadSize
	if remainder == 0 {
		return 0
	}
	return mediaPadSize - remainder
}

func parseVideoCodec(data []byte) VideoCodec {
	if data[0] == 'H' && data[1] == '2' && data[2] == '6' {
		if data[3] == '5' {
			return CodecH265
		}
	}
	return CodecH264
}

// infoRecordSize is the Info record's total size, magic included.
const infoRecordSize = 32

func parseInfo(data []byte) (MediaInfo, int, error) {
	if len(data) < infoRecordSize-4 {
		return MediaInfo{}, 0, errShortFrame
	}
	// data[0:4] is a redundant header-size field (always 32), unused here.
	info := MediaInfo{
		VideoWidth:  binary.LittleEndian.Uint32(data[4:8]),
		VideoHeight: binary.LittleEndian.Uint32(data[8:12]),
		// data[12] is unknown.
		FPS:        data[13],
		StartYear:  data[14],
		StartMonth: data[15],
		StartDay:   data[16],
		StartHour:  data[17],
		StartMin:   data[18],
		StartSec:   data[19],
		EndYear:    data[20],
		EndMonth:   data[21],
		EndDay:     data[22],
		EndHour:    data[23],
		EndMin:     data[24],
		EndSec:     data[25],
		// data[26:28] is unknown.
	}
	return info, infoRecordSize - 4, nil
}

const frameMinHeader = 20

func parseIFrame(data []byte) (MediaIFrame, int, error) {
	if len(data) < frameMinHeader {
		return MediaIFrame{}, 0, errShortFrame
	}

	frame := MediaIFrame{Codec: parseVideoCodec(data)}
	payloadSize := binary.LittleEndian.Uint32(data[4:8])
	additionalHeader := binary.LittleEndian.Uint32(data[8:12])
	frame.Microseconds = binary.LittleEndian.Uint32(data[12:16])
	// data[16:20] is unknown.

	headerConsumed := frameMinHeader
	if additionalHeader >= 4 {
		if len(data) < headerConsumed+4 {
			return MediaIFrame{}, 0, errShortFrame
		}
		frame.PosixTime = binary.LittleEndian.Uint32(data[headerConsumed : headerConsumed+4])
		frame.HasPosixTime = true
		headerConsumed += int(additionalHeader)
	}

	padding := calculatePadding(payloadSize)
	total := headerConsumed + int(payloadSize) + int(padding)
	if len(data) < total {
		return MediaIFrame{}, 0, errShortFrame
	}

	frame.Data = append([]byte(nil), data[headerConsumed:headerConsumed+int(payloadSize)]...)
	return frame, total, nil
}

func parsePFrame(data []byte) (MediaPFrame, int, error) {
	if len(data) < frameMinHeader {
		return MediaPFrame{}, 0, errShortFrame
	}

	frame := MediaPFrame{Codec: parseVideoCodec(data)}
	payloadSize := binary.LittleEndian.Uint32(data[4:8])
	additionalHeader := binary.LittleEndian.Uint32(data[8:12])
	frame.Microseconds = binary.LittleEndian.Uint32(data[12:16])
	// data[16:20] is unknown.

	headerConsumed := frameMinHeader + int(additionalHeader)

	padding := calculatePadding(payloadSize)
	total := headerConsumed + int(payloadSize) + int(padding)
	if len(data) < total {
		return MediaPFrame{}, 0, errShortFrame
	}

	frame.Data = append([]byte(nil), data[headerConsumed:headerConsumed+int(payloadSize)]...)
	return frame, total, nil
}

func parseAAC(data []byte) (MediaAAC, int, error) {
	const minHeader = 4
	if len(data) < minHeader {
		return MediaAAC{}, 0, errShortFrame
	}

	payloadSize := binary.LittleEndian.Uint16(data[0:2])
	// data[2:4] duplicates payloadSize.

	padding := calculatePadding(uint32(payloadSize))
	total := minHeader + int(payloadSize) + int(padding)
	if len(data) < total {
		return MediaAAC{}, 0, errShortFrame
	}

	frame := MediaAAC{Data: append([]byte(nil), data[minHeader:minHeader+int(payloadSize)]...)}
	return frame, total, nil
}

func parseADPCM(data []byte) (MediaADPCM, int, error) {
	const minHeader = 8
	if len(data) < minHeader {
		return MediaADPCM{}, 0, errShortFrame
	}

	payloadSize := binary.LittleEndian.Uint16(data[0:2])
	// data[2:4] duplicates payloadSize; data[4:8] is more_magic+block_size,
	// already accounted for in payloadSize and stripped from frame.Data.

	total := 4 + int(payloadSize)
	if len(data) < total {
		return MediaADPCM{}, 0, errShortFrame
	}

	frame := MediaADPCM{Data: append([]byte(nil), data[minHeader:total]...)}
	return frame, total, nil
}
