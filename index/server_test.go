package index

import (
	"net"
	"testing"
	"time"

	"p2p-index/pkg/protocol"
)

// mockPacketConn implements net.PacketConn for testing without real UDP
// sockets. It records every datagram written through it.
type mockPacketConn struct {
	writes [][]byte
}

func (m *mockPacketConn) ReadFrom(p []byte) (int, net.Addr, error) { return 0, nil, nil }

func (m *mockPacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	m.writes = append(m.writes, buf)
	return len(p), nil
}

func (m *mockPacketConn) Close() error                       { return nil }
func (m *mockPacketConn) LocalAddr() net.Addr                { return &net.UDPAddr{} }
func (m *mockPacketConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockPacketConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockPacketConn) SetWriteDeadline(t time.Time) error { return nil }

func testAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 40000}
}

func newTestServer(capacity int) *Server {
	return NewServer("127.0.0.1:0", capacity)
}

func lastReply(t *testing.T, mock *mockPacketConn) protocol.PDU {
	t.Helper()
	if len(mock.writes) == 0 {
		t.Fatal("no reply written")
	}
	var p protocol.PDU
	if err := p.Unmarshal(mock.writes[len(mock.writes)-1]); err != nil {
		t.Fatalf("reply does not decode: %v", err)
	}
	return p
}

func registerPDU(peer, content string) []byte {
	p := protocol.PDU{Type: protocol.TypeRegister, Peer: peer, Content: content, IP: "10.0.0.1", Port: 9000}
	return p.Marshal()
}

func TestRegisterAck(t *testing.T) {
	s := newTestServer(8)
	mock := &mockPacketConn{}

	s.handleDatagram(mock, testAddr(), registerPDU("alice", "doc1"))

	if got := lastReply(t, mock); got.Type != protocol.TypeAck {
		t.Errorf("reply type = %c, want %c", got.Type, protocol.TypeAck)
	}
	if s.table.Len() != 1 {
		t.Errorf("table size = %d, want 1", s.table.Len())
	}
}

func TestRegisterRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name string
		pdu  protocol.PDU
	}{
		{"missing peer", protocol.PDU{Type: protocol.TypeRegister, Content: "doc1", IP: "10.0.0.1", Port: 9000}},
		{"missing content", protocol.PDU{Type: protocol.TypeRegister, Peer: "alice", IP: "10.0.0.1", Port: 9000}},
		{"missing ip", protocol.PDU{Type: protocol.TypeRegister, Peer: "alice", Content: "doc1", Port: 9000}},
		{"zero port", protocol.PDU{Type: protocol.TypeRegister, Peer: "alice", Content: "doc1", IP: "10.0.0.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(8)
			mock := &mockPacketConn{}
			s.handleDatagram(mock, testAddr(), tt.pdu.Marshal())
			if got := lastReply(t, mock); got.Type != protocol.TypeError {
				t.Errorf("reply type = %c, want %c", got.Type, protocol.TypeError)
			}
			if s.table.Len() != 0 {
				t.Error("incomplete registration reached the table")
			}
		})
	}
}

func TestRegisterRejectsDuplicateAndFull(t *testing.T) {
	s := newTestServer(2)
	mock := &mockPacketConn{}

	s.handleDatagram(mock, testAddr(), registerPDU("alice", "doc1"))
	s.handleDatagram(mock, testAddr(), registerPDU("alice", "doc1"))
	if got := lastReply(t, mock); got.Type != protocol.TypeError {
		t.Errorf("duplicate reply = %c, want %c", got.Type, protocol.TypeError)
	}
	if s.table.Len() != 1 {
		t.Errorf("table size after duplicate = %d, want 1", s.table.Len())
	}

	s.handleDatagram(mock, testAddr(), registerPDU("bob", "doc1"))
	s.handleDatagram(mock, testAddr(), registerPDU("carol", "doc1"))
	if got := lastReply(t, mock); got.Type != protocol.TypeError {
		t.Errorf("over-capacity reply = %c, want %c", got.Type, protocol.TypeError)
	}
}

func TestSearchHandsOutProvider(t *testing.T) {
	s := newTestServer(8)
	mock := &mockPacketConn{}
	s.handleDatagram(mock, testAddr(), registerPDU("alice", "doc1"))

	query := protocol.PDU{Type: protocol.TypeSearch, Peer: "bob", Content: "doc1"}
	s.handleDatagram(mock, testAddr(), query.Marshal())

	got := lastReply(t, mock)
	if got.Type != protocol.TypeSearch {
		t.Fatalf("reply type = %c, want %c", got.Type, protocol.TypeSearch)
	}
	if got.Peer != "alice" || got.Content != "doc1" || got.IP != "10.0.0.1" || got.Port != 9000 {
		t.Errorf("reply = %+v, want alice/doc1/10.0.0.1:9000", got)
	}
	if regs := s.table.Snapshot(); regs[0].UseCount != 1 {
		t.Errorf("use count = %d after search, want 1", regs[0].UseCount)
	}
}

func TestSearchMissAndEmptyTag(t *testing.T) {
	s := newTestServer(8)
	mock := &mockPacketConn{}

	miss := protocol.PDU{Type: protocol.TypeSearch, Peer: "bob", Content: "nope"}
	s.handleDatagram(mock, testAddr(), miss.Marshal())
	if got := lastReply(t, mock); got.Type != protocol.TypeError {
		t.Errorf("miss reply = %c, want %c", got.Type, protocol.TypeError)
	}

	empty := protocol.PDU{Type: protocol.TypeSearch, Peer: "bob"}
	s.handleDatagram(mock, testAddr(), empty.Marshal())
	if got := lastReply(t, mock); got.Type != protocol.TypeError {
		t.Errorf("empty tag reply = %c, want %c", got.Type, protocol.TypeError)
	}
}

func TestTerminate(t *testing.T) {
	s := newTestServer(8)
	mock := &mockPacketConn{}
	s.handleDatagram(mock, testAddr(), registerPDU("alice", "doc1"))

	unknown := protocol.PDU{Type: protocol.TypeTerminate, Peer: "alice", Content: "nope"}
	s.handleDatagram(mock, testAddr(), unknown.Marshal())
	if got := lastReply(t, mock); got.Type != protocol.TypeError {
		t.Errorf("unknown terminate reply = %c, want %c", got.Type, protocol.TypeError)
	}
	if s.table.Len() != 1 {
		t.Error("unknown terminate changed the table")
	}

	known := protocol.PDU{Type: protocol.TypeTerminate, Peer: "alice", Content: "doc1"}
	s.handleDatagram(mock, testAddr(), known.Marshal())
	if got := lastReply(t, mock); got.Type != protocol.TypeAck {
		t.Errorf("terminate reply = %c, want %c", got.Type, protocol.TypeAck)
	}
	if s.table.Len() != 0 {
		t.Error("terminate left the entry behind")
	}

	// The deregistered provider must be unfindable afterwards.
	query := protocol.PDU{Type: protocol.TypeSearch, Peer: "bob", Content: "doc1"}
	s.handleDatagram(mock, testAddr(), query.Marshal())
	if got := lastReply(t, mock); got.Type != protocol.TypeError {
		t.Errorf("search after terminate = %c, want %c", got.Type, protocol.TypeError)
	}
}

func TestListEmptyTable(t *testing.T) {
	s := newTestServer(8)
	mock := &mockPacketConn{}

	listReq := protocol.PDU{Type: protocol.TypeList}
	s.handleDatagram(mock, testAddr(), listReq.Marshal())

	if len(mock.writes) != 1 {
		t.Fatalf("replies = %d, want exactly 1 terminator", len(mock.writes))
	}
	got := lastReply(t, mock)
	if got.Type != protocol.TypeList || got.Peer != "" {
		t.Errorf("terminator = %+v, want empty-peer list row", got)
	}
}

func TestListStreamsRowsThenTerminator(t *testing.T) {
	s := newTestServer(8)
	mock := &mockPacketConn{}
	s.handleDatagram(mock, testAddr(), registerPDU("alice", "doc1"))
	s.handleDatagram(mock, testAddr(), registerPDU("bob", "doc2"))

	listMock := &mockPacketConn{}
	listReq := protocol.PDU{Type: protocol.TypeList}
	s.handleDatagram(listMock, testAddr(), listReq.Marshal())

	if len(listMock.writes) != 3 {
		t.Fatalf("replies = %d, want 2 rows + terminator", len(listMock.writes))
	}
	var rows []protocol.PDU
	for _, w := range listMock.writes {
		var p protocol.PDU
		if err := p.Unmarshal(w); err != nil {
			t.Fatal(err)
		}
		if p.Type != protocol.TypeList {
			t.Fatalf("row type = %c, want %c", p.Type, protocol.TypeList)
		}
		rows = append(rows, p)
	}
	if rows[0].Peer != "alice" || rows[1].Peer != "bob" {
		t.Errorf("rows out of table order: %+v", rows)
	}
	if rows[2].Peer != "" {
		t.Errorf("last row peer = %q, want empty terminator", rows[2].Peer)
	}
}

func TestUnknownTypeGetsError(t *testing.T) {
	s := newTestServer(8)
	mock := &mockPacketConn{}

	bogus := protocol.PDU{Type: 'X'}
	s.handleDatagram(mock, testAddr(), bogus.Marshal())
	if got := lastReply(t, mock); got.Type != protocol.TypeError {
		t.Errorf("reply = %c, want %c", got.Type, protocol.TypeError)
	}
}

func TestMalformedDatagramIgnored(t *testing.T) {
	s := newTestServer(8)
	s.handleDatagram(&mockPacketConn{}, testAddr(), registerPDU("alice", "doc1"))

	for _, n := range []int{0, 1, protocol.PDUSize - 1, protocol.PDUSize + 1} {
		mock := &mockPacketConn{}
		s.handleDatagram(mock, testAddr(), make([]byte, n))
		if len(mock.writes) != 0 {
			t.Errorf("len=%d: got %d replies, want none", n, len(mock.writes))
		}
	}
	if s.table.Len() != 1 {
		t.Error("malformed datagrams changed the table")
	}
}
