package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"p2p-index/pkg/monitor"
	"p2p-index/pkg/protocol"
)

// receiveTimeout bounds every read from a content provider.
const receiveTimeout = 5 * time.Second

// fetchedPrefix names downloaded copies in the share directory.
const fetchedPrefix = "recv_"

// ErrContentUnavailable reports that the chosen provider answered the
// download request with an error byte.
var ErrContentUnavailable = errors.New("provider does not have the content")

// deadlineReader refreshes the read deadline before every read so a
// stalled provider cannot block the download forever.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r deadlineReader) Read(b []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Read(b)
}

// fetchContent downloads tag from the provider at addr into the share
// directory. It returns the byte count, the path written, and whether the
// download started. The local file is created only after the provider
// confirms with a content header, so a not-found reply leaves nothing
// behind; started reports that the file exists, even when the stream was
// cut short afterwards.
func (p *Peer) fetchContent(addr, tag string) (int64, string, bool, error) {
	conn, err := net.DialTimeout("tcp", addr, receiveTimeout)
	if err != nil {
		return 0, "", false, fmt.Errorf("failed to connect to provider %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{protocol.TypeDownload}); err != nil {
		return 0, "", false, fmt.Errorf("failed to send download request: %w", err)
	}
	if _, err := conn.Write(protocol.PadContent(tag)); err != nil {
		return 0, "", false, fmt.Errorf("failed to send content tag: %w", err)
	}

	r := deadlineReader{conn: conn, timeout: receiveTimeout}
	var hdr [1]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, "", false, fmt.Errorf("no header from provider %s: %w", addr, err)
	}
	switch hdr[0] {
	case protocol.TypeContentHeader:
	case protocol.TypeError:
		return 0, "", false, ErrContentUnavailable
	default:
		return 0, "", false, fmt.Errorf("unexpected header byte %q from provider %s", hdr[0], addr)
	}

	outPath := filepath.Join(p.shareDir, fetchedPrefix+tag)
	out, err := os.Create(outPath)
	if err != nil {
		return 0, "", false, fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	defer out.Close()

	n, err := io.Copy(out, r)
	if err != nil {
		return n, outPath, true, fmt.Errorf("download interrupted after %d bytes: %w", n, err)
	}

	monitor.RecordTransfer(n)
	return n, outPath, true, nil
}
