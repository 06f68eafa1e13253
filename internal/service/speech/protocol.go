package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山引擎语音服务的每条二进制消息由 4 字节头部、可选的序号/事件字段
// 以及带长度前缀的负载组成。

const protocolVersion = 0b0001

type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100
)

type EventType int32

const (
	EventTypeNone               EventType = 0
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

type SerializationMethod uint8

const (
	NoSerialization   SerializationMethod = 0b0000
	JSONSerialization SerializationMethod = 0b0001
)

type CompressionMethod uint8

const (
	NoCompression   CompressionMethod = 0b0000
	GzipCompression CompressionMethod = 0b0001
)

// Header 为固定 4 字节的消息头。
type Header struct {
	HeaderSize          uint8 // 以 4 字节为单位
	MessageType         MessageType
	MessageFlags        MessageFlags
	SerializationMethod SerializationMethod
	CompressionMethod   CompressionMethod
}

// Message 为解码后的一帧。
type Message struct {
	Header    Header
	Sequence  int32
	EventType EventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

func (h Header) encode() [4]byte {
	size := h.HeaderSize
	if size == 0 {
		size = 1
	}
	return [4]byte{
		protocolVersion<<4 | size,
		uint8(h.MessageType)<<4 | uint8(h.MessageFlags),
		uint8(h.SerializationMethod)<<4 | uint8(h.CompressionMethod),
		0,
	}
}

func (m *Message) hasSequence() bool {
	switch m.Header.MessageFlags & 0b0011 {
	case PositiveSequenceNumber, NegativeSequenceNumber:
		return true
	}
	return false
}

func (m *Message) hasEvent() bool {
	return m.Header.MessageFlags&WithEvent == WithEvent
}

// IsLastPacket 判断该帧是否为最后一包。
func (m *Message) IsLastPacket() bool {
	switch m.Header.MessageFlags & 0b0011 {
	case LastPacketNoSequence, NegativeSequenceNumber:
		return true
	}
	return false
}

// EncodeMessage 序列化 m，负载长度由 m.Payload 计算。
func EncodeMessage(m *Message) []byte {
	header := m.Header.encode()
	buf := make([]byte, 0, 16+len(m.Payload))
	buf = append(buf, header[:]...)

	if m.hasSequence() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(m.Sequence))
	}
	if m.hasEvent() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(m.EventType))
		if !eventSkipsSessionID(m.EventType) {
			buf = appendSized(buf, []byte(m.SessionID))
		}
		if eventHasConnectID(m.EventType) {
			buf = appendSized(buf, []byte(m.ConnectID))
		}
	}
	if m.Header.MessageType == ErrorMessage {
		buf = binary.BigEndian.AppendUint32(buf, m.ErrorCode)
	}
	return appendSized(buf, m.Payload)
}

func appendSized(buf, data []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

// DecodeMessage 解析一帧。
func DecodeMessage(data []byte) (*Message, error) {
	r := bytes.NewReader(data)

	var raw [4]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if version := raw[0] >> 4; version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}

	m := &Message{Header: Header{
		HeaderSize:          raw[0] & 0x0F,
		MessageType:         MessageType(raw[1] >> 4),
		MessageFlags:        MessageFlags(raw[1] & 0x0F),
		SerializationMethod: SerializationMethod(raw[2] >> 4),
		CompressionMethod:   CompressionMethod(raw[2] & 0x0F),
	}}

	if extra := int(m.Header.HeaderSize)*4 - 4; extra > 0 {
		if _, err := r.Seek(int64(extra), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip extended header: %w", err)
		}
	}

	if m.hasSequence() {
		seq, err := readUint32(r, "sequence")
		if err != nil {
			return nil, err
		}
		m.Sequence = int32(seq)
	}

	if m.hasEvent() {
		event, err := readUint32(r, "event type")
		if err != nil {
			return nil, err
		}
		m.EventType = EventType(int32(event))

		if !eventSkipsSessionID(m.EventType) {
			session, err := readSized(r, "session id")
			if err != nil {
				return nil, err
			}
			m.SessionID = string(session)
		}
		if eventHasConnectID(m.EventType) {
			connect, err := readSized(r, "connect id")
			if err != nil {
				return nil, err
			}
			m.ConnectID = string(connect)
		}
	}

	if m.Header.MessageType == ErrorMessage {
		code, err := readUint32(r, "error code")
		if err != nil {
			return nil, err
		}
		m.ErrorCode = code
	}

	payload, err := readSized(r, "payload")
	if err != nil {
		return nil, err
	}
	m.Payload = payload
	return m, nil
}

func readUint32(r io.Reader, field string) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read %s: %w", field, err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r io.Reader, field string) ([]byte, error) {
	size, err := readUint32(r, field+" size")
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read %s (expected %d bytes): %w", field, size, err)
	}
	return data, nil
}

func eventSkipsSessionID(event EventType) bool {
	switch event {
	case EventTypeStartConnection, EventTypeFinishConnection,
		EventTypeConnectionStarted, EventTypeConnectionFailed,
		EventTypeConnectionFinished:
		return true
	}
	return false
}

func eventHasConnectID(event EventType) bool {
	switch event {
	case EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

// newFullClientRequest 封装 JSON 请求。
func newFullClientRequest(payload []byte, compression CompressionMethod) *Message {
	return &Message{
		Header: Header{
			MessageType:         FullClientRequest,
			SerializationMethod: JSONSerialization,
			CompressionMethod:   compression,
		},
		Payload: payload,
	}
}

// newAudioRequest 封装音频包，最后一包使用负序号。
func newAudioRequest(audio []byte, sequence int32, last bool, compression CompressionMethod) *Message {
	flags := PositiveSequenceNumber
	if last {
		flags = NegativeSequenceNumber
		sequence = -sequence
	}
	return &Message{
		Header: Header{
			MessageType:       AudioOnlyRequest,
			MessageFlags:      flags,
			CompressionMethod: compression,
		},
		Sequence: sequence,
		Payload:  audio,
	}
}

// payload 返回解压后的负载。
func (m *Message) payload() ([]byte, error) {
	switch m.Header.CompressionMethod {
	case NoCompression:
		return m.Payload, nil
	case GzipCompression:
		return gunzip(m.Payload)
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", m.Header.CompressionMethod)
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return out, nil
}
