package peer

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"p2p-index/pkg/logger"
	"p2p-index/pkg/monitor"
	"p2p-index/pkg/protocol"
)

// serveDownload handles one inbound download connection to completion.
// Handshake: one download discriminant byte, then the content tag at its
// fixed field width. Anything else abandons the connection silently.
func (p *Peer) serveDownload(conn net.Conn) {
	defer conn.Close()

	var hdr [1]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil || hdr[0] != protocol.TypeDownload {
		return
	}

	tagBuf := make([]byte, protocol.ContentNameLen)
	if _, err := io.ReadFull(conn, tagBuf); err != nil {
		return
	}
	tag := protocol.TrimField(tagBuf)

	f, err := p.openShared(tag)
	if err != nil {
		logger.Sugar.Warnf("[Peer] download request for unavailable content: tag=%q from=%s err=%v",
			tag, conn.RemoteAddr(), err)
		conn.Write([]byte{protocol.TypeError})
		return
	}
	defer f.Close()

	if _, err := conn.Write([]byte{protocol.TypeContentHeader}); err != nil {
		return
	}
	// No length prefix; closing the connection signals end of content.
	n, err := io.Copy(conn, f)
	if err != nil {
		logger.Sugar.Warnf("[Peer] download aborted after %d bytes: tag=%q from=%s err=%v",
			n, tag, conn.RemoteAddr(), err)
		return
	}

	monitor.RecordTransfer(n)
	logger.Sugar.Infof("[Peer] served %d bytes of %q to %s", n, tag, conn.RemoteAddr())
}

// openShared resolves a content tag to a local file: either a file named
// like the tag in the share directory, or a previously fetched copy under
// its recv_ name.
func (p *Peer) openShared(tag string) (*os.File, error) {
	if tag == "" || strings.ContainsAny(tag, `/\`) || tag == "." || tag == ".." {
		return nil, fmt.Errorf("invalid content tag %q", tag)
	}
	for _, name := range []string{tag, fetchedPrefix + tag} {
		path := filepath.Join(p.shareDir, name)
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		return os.Open(path)
	}
	return nil, fmt.Errorf("content %q not present in %s", tag, p.shareDir)
}
