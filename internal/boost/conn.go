package boost

import (
	"fmt"
	"net"
)

// Conn bundles the main (M) and priority (P) UDP sockets, P always being
// the port above M's, per spec §4.4/§6.
type Conn struct {
	Main     *net.UDPConn
	Priority *net.UDPConn

	remoteMain *net.UDPAddr
	remotePrio *net.UDPAddr
}

// Dial opens both sockets from a BoostConfig-shaped set of addresses.
func Dial(localIP string, localPort int, remoteIP string, remotePort int) (*Conn, error) {
	mainLocal := &net.UDPAddr{IP: net.ParseIP(localIP), Port: localPort}
	prioLocal := &net.UDPAddr{IP: net.ParseIP(localIP), Port: localPort + 1}
	mainRemote := &net.UDPAddr{IP: net.ParseIP(remoteIP), Port: remotePort}
	prioRemote := &net.UDPAddr{IP: net.ParseIP(remoteIP), Port: remotePort + 1}

	mainConn, err := net.ListenUDP("udp", mainLocal)
	if err != nil {
		return nil, fmt.Errorf("boost: dial main socket: %w", err)
	}
	prioConn, err := net.ListenUDP("udp", prioLocal)
	if err != nil {
		mainConn.Close()
		return nil, fmt.Errorf("boost: dial priority socket: %w", err)
	}

	return &Conn{
		Main:       mainConn,
		Priority:   prioConn,
		remoteMain: mainRemote,
		remotePrio: prioRemote,
	}, nil
}

// WriteMain encodes and sends ev on the main socket.
func (c *Conn) WriteMain(ev *Event) error {
	b, err := Encode(ev)
	if err != nil {
		return err
	}
	_, err = c.Main.WriteToUDP(b, c.remoteMain)
	return err
}

// WritePriority encodes and sends ev on the priority socket (heartbeats,
// restart).
func (c *Conn) WritePriority(ev *Event) error {
	b, err := Encode(ev)
	if err != nil {
		return err
	}
	_, err = c.Priority.WriteToUDP(b, c.remotePrio)
	return err
}

// Close closes both sockets.
func (c *Conn) Close() error {
	err1 := c.Main.Close()
	err2 := c.Priority.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
