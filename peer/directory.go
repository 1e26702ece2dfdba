package peer

import (
	"fmt"
	"time"

	"p2p-index/pkg/protocol"
)

// replyTimeout bounds the wait for a single index reply. There is no
// retry; each workflow decides what a miss means.
const replyTimeout = 2 * time.Second

// exchange transmits one request to the index and waits for exactly one
// reply of the exact PDU size. Send failures, timeouts and wrong-size
// replies all surface as errors.
func (p *Peer) exchange(req *protocol.PDU) (*protocol.PDU, error) {
	buf := req.Marshal()
	n, err := p.udp.Write(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to index: %w", err)
	}
	if n != protocol.PDUSize {
		return nil, fmt.Errorf("short send to index: %d of %d bytes", n, protocol.PDUSize)
	}

	if err := p.udp.SetReadDeadline(time.Now().Add(replyTimeout)); err != nil {
		return nil, err
	}
	// One byte of slack so an oversized datagram fails the length check
	// instead of being silently truncated.
	resp := make([]byte, protocol.PDUSize+1)
	n, err = p.udp.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("no reply from index: %w", err)
	}

	var reply protocol.PDU
	if err := reply.Unmarshal(resp[:n]); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Catalog asks the index for its full registration list. Rows arrive one
// datagram each until an empty-peer terminator or an unexpected type.
func (p *Peer) Catalog() ([]protocol.PDU, error) {
	req := protocol.PDU{Type: protocol.TypeList}
	n, err := p.udp.Write(req.Marshal())
	if err != nil {
		return nil, fmt.Errorf("failed to send catalogue request: %w", err)
	}
	if n != protocol.PDUSize {
		return nil, fmt.Errorf("short send to index: %d of %d bytes", n, protocol.PDUSize)
	}

	var rows []protocol.PDU
	buf := make([]byte, protocol.PDUSize+1)
	for {
		if err := p.udp.SetReadDeadline(time.Now().Add(replyTimeout)); err != nil {
			return nil, err
		}
		n, err := p.udp.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("catalogue read failed: %w", err)
		}
		var row protocol.PDU
		if err := row.Unmarshal(buf[:n]); err != nil {
			return nil, err
		}
		if row.Type != protocol.TypeList || row.Peer == "" {
			return rows, nil
		}
		rows = append(rows, row)
	}
}
