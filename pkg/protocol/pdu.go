package protocol

import (
	"encoding/binary"
	"fmt"
)

// PDU type codes. The same single-byte discriminants are used for UDP
// directory messages and for the TCP download handshake.
const (
	TypeRegister      = 'R'
	TypeSearch        = 'S'
	TypeTerminate     = 'T'
	TypeList          = 'O'
	TypeAck           = 'A'
	TypeError         = 'E'
	TypeDownload      = 'D'
	TypeContentHeader = 'C'
)

// Field widths of the fixed-layout PDU.
const (
	PeerNameLen    = 10
	ContentNameLen = 10
	IPStrLen       = 16 // "xxx.xxx.xxx.xxx" plus terminator

	// PDUSize is the total wire size: type + peer + content + ip + port.
	PDUSize = 1 + PeerNameLen + ContentNameLen + IPStrLen + 2
)

// ErrBadLength is returned when a received buffer is not exactly PDUSize
// bytes. Callers discard such datagrams without replying.
var ErrBadLength = fmt.Errorf("malformed PDU: length != %d", PDUSize)

// PDU is the logical form of a directory message. Text fields are plain Go
// strings here; the fixed-width zero-padding only exists on the wire. Fields
// unused by a given message type stay empty and encode as all zeros.
type PDU struct {
	Type    byte
	Peer    string
	Content string
	IP      string
	Port    uint16
}

// Marshal encodes the message into its fixed wire layout. Text longer than
// its field width is truncated; the remainder of each field is zero-filled.
func (p *PDU) Marshal() []byte {
	buf := make([]byte, PDUSize)
	buf[0] = p.Type
	putPadded(buf[1:1+PeerNameLen], p.Peer)
	putPadded(buf[1+PeerNameLen:1+PeerNameLen+ContentNameLen], p.Content)
	putPadded(buf[1+PeerNameLen+ContentNameLen:1+PeerNameLen+ContentNameLen+IPStrLen], p.IP)
	binary.BigEndian.PutUint16(buf[PDUSize-2:], p.Port)
	return buf
}

// Unmarshal decodes a received buffer. Buffers of any length other than
// PDUSize are rejected with ErrBadLength.
func (p *PDU) Unmarshal(buf []byte) error {
	if len(buf) != PDUSize {
		return ErrBadLength
	}
	p.Type = buf[0]
	p.Peer = TrimField(buf[1 : 1+PeerNameLen])
	p.Content = TrimField(buf[1+PeerNameLen : 1+PeerNameLen+ContentNameLen])
	p.IP = TrimField(buf[1+PeerNameLen+ContentNameLen : 1+PeerNameLen+ContentNameLen+IPStrLen])
	p.Port = binary.BigEndian.Uint16(buf[PDUSize-2:])
	return nil
}

func putPadded(dst []byte, s string) {
	n := copy(dst, s)
	for ; n < len(dst); n++ {
		dst[n] = 0
	}
}

// TrimField extracts the text of a fixed-width field, cutting at the first
// NUL or space. Download requests pad the content tag with either, so both
// count as padding everywhere.
func TrimField(b []byte) string {
	for i, c := range b {
		if c == 0 || c == ' ' {
			return string(b[:i])
		}
	}
	return string(b)
}

// PadContent renders a content tag at its exact field width for the TCP
// download handshake, where the tag travels without the rest of the PDU.
func PadContent(tag string) []byte {
	buf := make([]byte, ContentNameLen)
	putPadded(buf, tag)
	return buf
}
