package index

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"p2p-index/pkg/discovery"
	"p2p-index/pkg/logger"
	"p2p-index/pkg/protocol"
)

// Server is the UDP directory service. It owns the registration table and
// answers register/search/terminate/list requests one datagram at a time;
// it never initiates traffic of its own.
type Server struct {
	mu         sync.Mutex
	table      *Table
	conn       net.PacketConn
	listenAddr string
	quitCh     chan struct{}
	advertiser *discovery.Advertiser
}

func NewServer(addr string, capacity int) *Server {
	return &Server{
		table:      NewTable(capacity),
		listenAddr: addr,
		quitCh:     make(chan struct{}),
		advertiser: discovery.NewAdvertiser(),
	}
}

// Listen binds the UDP socket and starts the mDNS advertisement. It does
// not process requests; call Serve (or Start) for that.
func (s *Server) Listen() error {
	conn, err := net.ListenPacket("udp4", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket: %w", err)
	}
	s.conn = conn
	logger.Sugar.Infof("[Index] listening on %s", conn.LocalAddr())

	_, portStr, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return nil
	}
	if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
		meta := map[string]string{"version": "1.0.0", "type": "index"}
		if err := s.advertiser.Start("p2p-index", port, meta); err != nil {
			logger.Sugar.Errorf("[Index] failed to start mDNS advertisement: %v", err)
		} else {
			logger.Sugar.Infof("[Index] mDNS advertisement started on port %d", port)
		}
	}
	return nil
}

// Serve reads datagrams until the socket is closed. Datagrams of the wrong
// length are discarded without a reply.
func (s *Server) Serve() {
	defer logger.Sugar.Info("[Index] stopped")

	buf := make([]byte, protocol.PDUSize+1)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.quitCh:
				return
			default:
				logger.Sugar.Errorf("[Index] read error: %v", err)
				return
			}
		}
		s.handleDatagram(s.conn, addr, buf[:n])
	}
}

// Start is Listen followed by Serve; it blocks until Stop.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.Serve()
	return nil
}

func (s *Server) Stop() {
	s.advertiser.Stop()
	close(s.quitCh)
	if s.conn != nil {
		s.conn.Close()
	}
}

// Addr reports the bound UDP address, valid after Listen.
func (s *Server) Addr() string {
	if s.conn == nil {
		return s.listenAddr
	}
	return s.conn.LocalAddr().String()
}

func (s *Server) handleDatagram(conn net.PacketConn, addr net.Addr, buf []byte) {
	var req protocol.PDU
	if err := req.Unmarshal(buf); err != nil {
		logger.Sugar.Warnf("[Index] discarding malformed datagram: from=%s len=%d", addr, len(buf))
		return
	}

	switch req.Type {
	case protocol.TypeRegister:
		s.handleRegister(conn, addr, &req)
	case protocol.TypeSearch:
		s.handleSearch(conn, addr, &req)
	case protocol.TypeTerminate:
		s.handleTerminate(conn, addr, &req)
	case protocol.TypeList:
		s.handleList(conn, addr)
	default:
		logger.Sugar.Warnf("[Index] unknown request type %q from %s", req.Type, addr)
		s.reply(conn, addr, &protocol.PDU{Type: protocol.TypeError})
	}
}

func (s *Server) handleRegister(conn net.PacketConn, addr net.Addr, req *protocol.PDU) {
	if req.Peer == "" || req.Content == "" || req.IP == "" || req.Port == 0 {
		logger.Sugar.Warnf("[Index] rejecting incomplete registration from %s", addr)
		s.reply(conn, addr, &protocol.PDU{Type: protocol.TypeError})
		return
	}

	s.mu.Lock()
	err := s.table.Add(Registration{Peer: req.Peer, Content: req.Content, IP: req.IP, Port: req.Port})
	s.mu.Unlock()

	if err != nil {
		logger.Sugar.Warnf("[Index] registration rejected: peer=%s content=%s err=%v", req.Peer, req.Content, err)
		s.reply(conn, addr, &protocol.PDU{Type: protocol.TypeError})
		return
	}

	logger.Sugar.Infof("[Index] registered: peer=%s content=%s addr=%s:%d", req.Peer, req.Content, req.IP, req.Port)
	s.reply(conn, addr, &protocol.PDU{Type: protocol.TypeAck})
}

func (s *Server) handleSearch(conn net.PacketConn, addr net.Addr, req *protocol.PDU) {
	if req.Content == "" {
		s.reply(conn, addr, &protocol.PDU{Type: protocol.TypeError})
		return
	}

	s.mu.Lock()
	reg, err := s.table.PickProvider(req.Content)
	s.mu.Unlock()

	if err != nil {
		logger.Sugar.Infof("[Index] search miss: content=%s from=%s", req.Content, addr)
		s.reply(conn, addr, &protocol.PDU{Type: protocol.TypeError})
		return
	}

	logger.Sugar.Infof("[Index] search hit: content=%s provider=%s addr=%s:%d uses=%d",
		req.Content, reg.Peer, reg.IP, reg.Port, reg.UseCount)
	s.reply(conn, addr, &protocol.PDU{
		Type:    protocol.TypeSearch,
		Peer:    reg.Peer,
		Content: reg.Content,
		IP:      reg.IP,
		Port:    reg.Port,
	})
}

func (s *Server) handleTerminate(conn net.PacketConn, addr net.Addr, req *protocol.PDU) {
	s.mu.Lock()
	err := s.table.Remove(req.Peer, req.Content)
	s.mu.Unlock()

	if err != nil {
		logger.Sugar.Warnf("[Index] deregistration miss: peer=%s content=%s", req.Peer, req.Content)
		s.reply(conn, addr, &protocol.PDU{Type: protocol.TypeError})
		return
	}

	logger.Sugar.Infof("[Index] deregistered: peer=%s content=%s", req.Peer, req.Content)
	s.reply(conn, addr, &protocol.PDU{Type: protocol.TypeAck})
}

// handleList streams one row per active registration followed by a
// terminator row whose peer field is empty.
func (s *Server) handleList(conn net.PacketConn, addr net.Addr) {
	s.mu.Lock()
	regs := s.table.Snapshot()
	s.mu.Unlock()

	for _, reg := range regs {
		s.reply(conn, addr, &protocol.PDU{
			Type:    protocol.TypeList,
			Peer:    reg.Peer,
			Content: reg.Content,
			IP:      reg.IP,
			Port:    reg.Port,
		})
	}
	s.reply(conn, addr, &protocol.PDU{Type: protocol.TypeList})
}

func (s *Server) reply(conn net.PacketConn, addr net.Addr, p *protocol.PDU) {
	if _, err := conn.WriteTo(p.Marshal(), addr); err != nil {
		logger.Sugar.Errorf("[Index] failed to send reply to %s: %v", addr, err)
	}
}

// Status summarizes the table for the interactive console.
func (s *Server) Status() string {
	s.mu.Lock()
	regs := s.table.Snapshot()
	s.mu.Unlock()

	status := fmt.Sprintf("Index running on: %s\n", s.Addr())
	status += fmt.Sprintf("Active registrations: %d\n", len(regs))
	for _, reg := range regs {
		status += fmt.Sprintf(" - %s serves %q at %s:%d (handed out %d times)\n",
			reg.Peer, reg.Content, reg.IP, reg.Port, reg.UseCount)
	}
	return status
}
