package net

import (
	"fmt"
	"log/slog"
	"net"
)

// OutgoingIP finds the preferred local IPv4 address to share with other
// machines. No packet is sent: dialing UDP only selects a route.
func OutgoingIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		// No route to the internet; fall back to the local interfaces.
		return firstIPv4().String()
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// firstIPv4 returns the first IPv4 address of an interface that is up and
// not loopback, or 127.0.0.1.
func firstIPv4() net.IP {
	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.To4()
			}
		}
	}
	slog.Warn("[NET] no suitable local IP found, share links will only work on this machine")
	return net.IPv4(127, 0, 0, 1)
}

// ShareURL is the websocket address other machines use to join board.
func ShareURL(port int, board string) string {
	return fmt.Sprintf("ws://%s:%d/ws/%s", OutgoingIP(), port, board)
}
