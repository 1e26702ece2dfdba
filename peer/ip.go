package peer

import "net"

// OutboundIP discovers the address the kernel routes external traffic
// through. Connecting a UDP socket sends no packets; it only selects the
// route whose local address we then read back.
func OutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:9")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP != nil {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
