package torrent

import (
	"net"
)

// Get preferred outbound ip of this machine
func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80") //never write to this conn
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP, nil
}
