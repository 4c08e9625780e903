package models

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Network tags the transport a peer is reachable over.
type Network string

const (
	NetworkIPv4  Network = "IPV4"
	NetworkIPv6  Network = "IPV6"
	NetworkTorV3 Network = "TORV3"
	NetworkI2P   Network = "I2P"
	NetworkCJDNS Network = "CJDNS"
)

func ParseNetwork(s string) (Network, error) {
	switch n := Network(strings.ToUpper(s)); n {
	case NetworkIPv4, NetworkIPv6, NetworkTorV3, NetworkI2P, NetworkCJDNS:
		return n, nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

// PeerAddress locates a peer. Host is bare, without scheme.
type PeerAddress struct {
	Network Network `json:"network"`
	Host    string  `json:"host"`
	Port    uint16  `json:"port"`
}

func (a PeerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// Validate checks the host against the declared network.
func (a PeerAddress) Validate() error {
	if a.Host == "" {
		return fmt.Errorf("peer host is required")
	}
	if strings.Contains(a.Host, "://") {
		return fmt.Errorf("peer host must not carry a scheme")
	}
	switch a.Network {
	case NetworkIPv4:
		ip := net.ParseIP(a.Host)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("invalid IPv4 host %q", a.Host)
		}
	case NetworkIPv6:
		ip := net.ParseIP(a.Host)
		if ip == nil || ip.To4() != nil {
			return fmt.Errorf("invalid IPv6 host %q", a.Host)
		}
	case NetworkTorV3:
		if !strings.HasSuffix(a.Host, ".onion") {
			return fmt.Errorf("invalid onion host %q", a.Host)
		}
	case NetworkI2P, NetworkCJDNS:
	default:
		return fmt.Errorf("unknown network %q", a.Network)
	}
	return nil
}

// AddressFromRemote derives a PeerAddress from an http.Request RemoteAddr.
func AddressFromRemote(remote string) PeerAddress {
	host, portStr, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	port, _ := strconv.ParseUint(portStr, 10, 16)
	network := NetworkIPv4
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		network = NetworkIPv6
	} else if strings.HasSuffix(host, ".onion") {
		network = NetworkTorV3
	}
	return PeerAddress{Network: network, Host: host, Port: uint16(port)}
}

type Peer struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name,omitempty"`
	Address       PeerAddress `json:"address"`
	Autoconnect   bool        `json:"autoconnect"`
	ShareForFree  bool        `json:"share_for_free"`
	CreatedTimeMs int64       `json:"created_time_ms"`
}

// LightningAddress is the advertised endpoint of a seller's lightning node.
type LightningAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}
