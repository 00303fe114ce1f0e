package bachuan

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HowardsPlayPen/bachuan/internal/bclog"
)

// StreamConfig selects which channel, physical stream, and substream type
// a VideoStream requests.
type StreamConfig struct {
	ChannelID  uint8
	Handle     uint32 // StreamHandleMain, StreamHandleSub, or StreamHandleExtern
	StreamType string // "mainStream", "subStream", or "externStream"
}

// DefaultStreamConfig requests channel 0's main stream.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{Handle: StreamHandleMain, StreamType: "mainStream"}
}

// Stats is a snapshot of a VideoStream's running counters.
type Stats struct {
	FramesReceived uint64
	BytesReceived  uint64
	IFrames        uint64
	PFrames        uint64
}

// FrameCallback is invoked once per decoded media record.
type FrameCallback func(MediaFrame)

// StreamInfoCallback is invoked once, the first time a MediaInfo record
// arrives.
type StreamInfoCallback func(MediaInfo)

// VideoStream drives the Preview request/response and the background
// receive loop that turns a connection's VIDEO messages into decoded
// BcMedia records.
type VideoStream struct {
	conn   *Connection
	config StreamConfig

	streaming int32 // atomic bool
	wg        sync.WaitGroup
	stopCh    chan struct{}

	mediaBuf []byte

	statsMu    sync.Mutex
	stats      Stats
	streamInfo MediaInfo
	haveInfo   bool

	onFrame      FrameCallback
	onStreamInfo StreamInfoCallback
}

// NewVideoStream creates a stream session bound to conn. conn must
// already be past a successful Login.
func NewVideoStream(conn *Connection) *VideoStream {
	return &VideoStream{conn: conn}
}

// OnFrame registers the callback invoked for every decoded media record.
func (s *VideoStream) OnFrame(cb FrameCallback) { s.onFrame = cb }

// OnStreamInfo registers the callback invoked once the stream's MediaInfo
// record has arrived.
func (s *VideoStream) OnStreamInfo(cb StreamInfoCallback) { s.onStreamInfo = cb }

// IsStreaming reports whether the receive loop is currently running.
func (s *VideoStream) IsStreaming() bool {
	return atomic.LoadInt32(&s.streaming) != 0
}

// StreamInfo returns the stream's MediaInfo record and whether one has
// been received yet.
func (s *VideoStream) StreamInfo() (MediaInfo, bool) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.streamInfo, s.haveInfo
}

// Stats returns a snapshot of the stream's running counters.
func (s *VideoStream) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Start sends the Preview request and, on success, begins the background
// receive loop that decodes incoming media. It blocks until the camera's
// initial response arrives or 5 seconds elapse.
func (s *VideoStream) Start(config StreamConfig) error {
	if s.IsStreaming() {
		return protocolErr("stream already running", nil)
	}

	s.config = config
	s.statsMu.Lock()
	s.stats = Stats{}
	s.haveInfo = false
	s.statsMu.Unlock()

	bclog.Infof("starting video stream: channel=%d handle=%d type=%s", config.ChannelID, config.Handle, config.StreamType)

	if err := s.sendPreview(MsgIDVideo); err != nil {
		return err
	}

	resp, err := s.conn.Receive(5 * time.Second)
	if err != nil {
		return ioErr("no response to stream start request", err)
	}
	if resp.Header.ResponseCode != ResponseCodeOK {
		return newAuthError("stream start rejected", resp.Header.ResponseCode)
	}

	if len(resp.Extension) > 0 {
		ext := ParseExtension(resp.Extension)
		if ext.HasBinary && ext.BinaryData {
			s.conn.markBinaryMode(resp.Header.MsgNum)
			bclog.Debugf("binary mode enabled for msg_num %d", resp.Header.MsgNum)
		}
	}

	s.stopCh = make(chan struct{})
	atomic.StoreInt32(&s.streaming, 1)
	s.wg.Add(1)
	go s.receiveLoop()

	bclog.Infof("video stream started")
	return nil
}

// Stop ends the background receive loop and sends a best-effort
// VIDEO_STOP request.
func (s *VideoStream) Stop() {
	if !s.IsStreaming() {
		return
	}

	bclog.Infof("stopping video stream")
	atomic.StoreInt32(&s.streaming, 0)
	close(s.stopCh)

	_ = s.sendPreview(MsgIDVideoStop)

	s.wg.Wait()
	s.conn.ClearBinaryMode()
	bclog.Infof("video stream stopped")
}

func (s *VideoStream) sendPreview(msgID uint32) error {
	xml := BuildPreviewRequest(s.config.ChannelID, s.config.Handle, s.config.StreamType)
	msg := NewPayloadMessage(msgID, s.conn.NextMsgNum(), xml, ClassModern24)
	return s.conn.Send(msg)
}

func (s *VideoStream) receiveLoop() {
	defer s.wg.Done()
	bclog.Debugf("receive loop started")

	for {
		select {
		case <-s.stopCh:
			bclog.Debugf("receive loop ended")
			return
		default:
		}

		msg, err := s.conn.Receive(time.Second)
		if err != nil {
			// A read timeout is expected cadence, not a failure; any other
			// error (closed connection, malformed header) ends the loop.
			if ioTimeout(err) {
				continue
			}
			bclog.Warnf("receive loop stopping: %v", err)
			return
		}

		s.processMessage(msg)
	}
}

func ioTimeout(err error) bool {
	bcErr, ok := err.(*Error)
	return ok && bcErr.Timeout
}

func (s *VideoStream) processMessage(msg *Message) {
	if msg.Header.MsgID != MsgIDVideo {
		bclog.Debugf("ignoring non-video message: %s", MessageName(msg.Header.MsgID))
		return
	}

	if len(msg.Extension) > 0 {
		ext := ParseExtension(msg.Extension)
		if ext.HasBinary && ext.BinaryData {
			s.conn.markBinaryMode(msg.Header.MsgNum)
		}
	}

	if len(msg.Payload) > 0 {
		s.processMediaData(msg.Payload)
	}
}

// processMediaData appends newly-received bytes to the stream's media
// buffer and extracts as many complete BcMedia records as are available,
// resynchronizing one byte at a time past any unrecognized magic.
func (s *VideoStream) processMediaData(data []byte) {
	s.mediaBuf = append(s.mediaBuf, data...)

	offset := 0
	for offset < len(s.mediaBuf) {
		remaining := s.mediaBuf[offset:]
		if len(remaining) < 4 {
			break
		}

		magic := leUint32(remaining)
		if !IsMediaMagic(magic) {
			bclog.Warnf("unknown media magic 0x%08x at offset %d", magic, offset)
			offset++
			continue
		}

		frame, consumed, err := ParseMediaRecord(remaining)
		if err != nil {
			// Not enough data yet for a complete record; wait for more.
			break
		}

		offset += consumed
		s.recordStats(consumed, frame)

		if info, ok := frame.(MediaInfo); ok {
			s.statsMu.Lock()
			first := !s.haveInfo
			s.streamInfo = info
			s.haveInfo = true
			s.statsMu.Unlock()
			if first && s.onStreamInfo != nil {
				s.onStreamInfo(info)
			}
		}
		if s.onFrame != nil {
			s.onFrame(frame)
		}
	}

	if offset > 0 {
		s.mediaBuf = append([]byte(nil), s.mediaBuf[offset:]...)
	}
}

func (s *VideoStream) recordStats(consumed int, frame MediaFrame) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.FramesReceived++
	s.stats.BytesReceived += uint64(consumed)
	switch frame.(type) {
	case MediaIFrame:
		s.stats.IFrames++
	case MediaPFrame:
		s.stats.PFrames++
	}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
