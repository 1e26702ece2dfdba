package peer

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	"p2p-index/pkg/logger"
	"p2p-index/pkg/monitor"
	"p2p-index/pkg/protocol"

	"go.uber.org/multierr"
)

// maxLocalEntries bounds how many content tags one peer serves at a time.
const maxLocalEntries = 16

// Config carries the peer's startup parameters.
type Config struct {
	// Name identifies this peer in every registration.
	Name string
	// IndexAddr is the UDP host:port of the directory service.
	IndexAddr string
	// AdvertiseIP overrides outbound-IP autodetection, for NAT setups.
	AdvertiseIP string
	// ShareDir is where shared files live and downloads land. Defaults
	// to the working directory.
	ShareDir string
}

// localEntry tracks one content tag this peer currently serves.
type localEntry struct {
	content  string
	ip       string
	port     uint16
	listener net.Listener
}

// Peer is a directory client, content downloader and content server in
// one process. Every registered tag gets its own listening endpoint; all
// inbound downloads funnel through one serve loop, handled to completion
// one at a time.
type Peer struct {
	name        string
	advertiseIP string
	shareDir    string
	indexAddr   *net.UDPAddr
	udp         *net.UDPConn

	mu      sync.Mutex
	entries map[string]*localEntry

	connCh chan net.Conn
	quitCh chan struct{}
}

func NewPeer(cfg Config) (*Peer, error) {
	if cfg.Name == "" || len(cfg.Name) > protocol.PeerNameLen {
		return nil, fmt.Errorf("peer name must be 1..%d characters", protocol.PeerNameLen)
	}
	raddr, err := net.ResolveUDPAddr("udp4", cfg.IndexAddr)
	if err != nil {
		return nil, fmt.Errorf("bad index address %q: %w", cfg.IndexAddr, err)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to open UDP socket: %w", err)
	}
	shareDir := cfg.ShareDir
	if shareDir == "" {
		shareDir = "."
	}

	p := &Peer{
		name:        cfg.Name,
		advertiseIP: cfg.AdvertiseIP,
		shareDir:    shareDir,
		indexAddr:   raddr,
		udp:         conn,
		entries:     make(map[string]*localEntry),
		connCh:      make(chan net.Conn),
		quitCh:      make(chan struct{}),
	}
	logger.Sugar.Infof("[Peer] %q initialized, index at %s", p.name, raddr)
	return p, nil
}

// Start runs the serve loop: every inbound download connection, from any
// of the peer's listening endpoints, is handled here to completion before
// the next one is accepted. Blocks until Shutdown.
func (p *Peer) Start() {
	logger.Sugar.Info("[Peer] serve loop running")
	for {
		select {
		case conn := <-p.connCh:
			p.serveDownload(conn)
		case <-p.quitCh:
			logger.Sugar.Info("[Peer] serve loop stopped")
			return
		}
	}
}

// acceptLoop feeds connections from one listening endpoint into the serve
// loop. It exits when the listener closes.
func (p *Peer) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		select {
		case p.connCh <- conn:
		case <-p.quitCh:
			conn.Close()
			return
		}
	}
}

// Register opens a fresh listening endpoint, announces (name, tag,
// address) to the index and on acknowledgment starts serving the tag. On
// rejection or timeout the endpoint is closed again and nothing changes.
func (p *Peer) Register(tag string) error {
	if tag == "" || len(tag) > protocol.ContentNameLen {
		return fmt.Errorf("content tag must be 1..%d characters", protocol.ContentNameLen)
	}

	p.mu.Lock()
	if _, exists := p.entries[tag]; exists {
		p.mu.Unlock()
		return fmt.Errorf("already serving %q", tag)
	}
	if len(p.entries) >= maxLocalEntries {
		p.mu.Unlock()
		return fmt.Errorf("already serving %d content items, deregister one first", maxLocalEntries)
	}
	p.mu.Unlock()

	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		return fmt.Errorf("failed to open content listener: %w", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ip := p.advertiseIP
	if ip == "" {
		ip = OutboundIP()
	}

	req := &protocol.PDU{Type: protocol.TypeRegister, Peer: p.name, Content: tag, IP: ip, Port: port}
	reply, err := p.exchange(req)
	if err != nil {
		ln.Close()
		return fmt.Errorf("registration of %q failed: %w", tag, err)
	}
	switch reply.Type {
	case protocol.TypeAck:
	case protocol.TypeError:
		ln.Close()
		return fmt.Errorf("index rejected registration of %q for peer %s", tag, p.name)
	default:
		ln.Close()
		return fmt.Errorf("unexpected reply %q to registration", reply.Type)
	}

	p.mu.Lock()
	p.entries[tag] = &localEntry{content: tag, ip: ip, port: port, listener: ln}
	p.mu.Unlock()
	go p.acceptLoop(ln)

	logger.Sugar.Infof("[Peer] now serving %q at %s:%d", tag, ip, port)
	return nil
}

// Fetch looks a tag up at the index, downloads it from the chosen
// provider, then registers this peer as an additional provider for it.
// Replication runs for every download that produced a local file, partial
// ones included; stream and replication failures are reported together
// but undo nothing. Returns the byte count written.
func (p *Peer) Fetch(tag string) (int64, error) {
	if tag == "" || len(tag) > protocol.ContentNameLen {
		return 0, fmt.Errorf("content tag must be 1..%d characters", protocol.ContentNameLen)
	}

	reply, err := p.exchange(&protocol.PDU{Type: protocol.TypeSearch, Peer: p.name, Content: tag})
	if err != nil {
		return 0, fmt.Errorf("search for %q failed: %w", tag, err)
	}
	if reply.Type == protocol.TypeError {
		return 0, fmt.Errorf("content %q not found on any peer", tag)
	}
	if reply.Type != protocol.TypeSearch {
		return 0, fmt.Errorf("unexpected reply %q to search", reply.Type)
	}

	addr := net.JoinHostPort(reply.IP, strconv.Itoa(int(reply.Port)))
	logger.Sugar.Infof("[Peer] index chose provider %s (%s) for %q", reply.Peer, addr, tag)

	n, outPath, started, err := p.fetchContent(addr, tag)
	if !started {
		return n, err
	}
	switch {
	case err != nil:
		logger.Sugar.Warnf("[Peer] keeping %d partial bytes of %q in %s: %v", n, tag, outPath, err)
	case n == 0:
		logger.Sugar.Warnf("[Peer] downloaded 0 bytes of %q, the provider's copy may be empty", tag)
		fallthrough
	default:
		logger.Sugar.Infof("[Peer] downloaded %d bytes of %q to %s", n, tag, outPath)
	}

	// Having the bytes, immediately offer them back to the network.
	if regErr := p.Register(tag); regErr != nil {
		regErr = fmt.Errorf("got %d bytes in %s, but re-registration failed: %w", n, outPath, regErr)
		return n, multierr.Combine(err, regErr)
	}
	return n, err
}

// Deregister withdraws a tag from the index and stops serving it. When
// the tag is not served locally nothing is sent; when the index does not
// acknowledge, local state stays untouched.
func (p *Peer) Deregister(tag string) error {
	p.mu.Lock()
	entry, ok := p.entries[tag]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("not serving %q locally", tag)
	}

	reply, err := p.exchange(&protocol.PDU{Type: protocol.TypeTerminate, Peer: p.name, Content: tag})
	if err != nil {
		return fmt.Errorf("deregistration of %q failed: %w", tag, err)
	}
	if reply.Type != protocol.TypeAck {
		return fmt.Errorf("index refused to deregister %q", tag)
	}

	p.mu.Lock()
	delete(p.entries, tag)
	p.mu.Unlock()
	entry.listener.Close()

	logger.Sugar.Infof("[Peer] stopped serving %q", tag)
	return nil
}

// Shutdown deregisters every served tag best-effort, closes all
// endpoints and stops the serve loop. Cleanup always runs to the end;
// individual failures are collected, not fatal.
func (p *Peer) Shutdown() error {
	p.mu.Lock()
	entries := make([]*localEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.entries = make(map[string]*localEntry)
	p.mu.Unlock()

	var errs error
	for _, e := range entries {
		req := &protocol.PDU{Type: protocol.TypeTerminate, Peer: p.name, Content: e.content}
		if _, err := p.exchange(req); err != nil {
			logger.Sugar.Warnf("[Peer] best-effort deregistration of %q failed: %v", e.content, err)
		}
		errs = multierr.Append(errs, e.listener.Close())
	}

	close(p.quitCh)
	errs = multierr.Append(errs, p.udp.Close())
	logger.Sugar.Infof("[Peer] %q shut down", p.name)
	return errs
}

// Served lists the tags this peer currently serves, sorted.
func (p *Peer) Served() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	tags := make([]string, 0, len(p.entries))
	for tag := range p.entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Status summarizes the peer for the interactive console.
func (p *Peer) Status() string {
	p.mu.Lock()
	entries := make([]*localEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].content < entries[j].content })

	status := fmt.Sprintf("Peer %q, index at %s, sharing from %s\n", p.name, p.indexAddr, p.shareDir)
	status += fmt.Sprintf("Serving %d content items:\n", len(entries))
	for _, e := range entries {
		status += fmt.Sprintf(" - %q at %s:%d\n", e.content, e.ip, e.port)
	}
	bytes, count := monitor.Snapshot()
	status += fmt.Sprintf("Transfers: %d (%d bytes)\n", count, bytes)
	return status
}
