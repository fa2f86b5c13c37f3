package address

import "fmt"

// Socket is a host+port network endpoint, grounded on the teacher's
// p2p/enode.Node IP/TCP fields but simplified to the string form used by
// the join protocol's wire messages.
type Socket struct {
	Host string
	Port uint16
}

// String renders the socket as "host:port".
func (s Socket) String() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Peer is a section member's address-space identity plus its reachable
// network endpoint.
type Peer struct {
	Name   Name
	Socket Socket
}

// String renders the peer as "name@host:port".
func (p Peer) String() string {
	return fmt.Sprintf("%s@%s", p.Name, p.Socket)
}
