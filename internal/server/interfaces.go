package server

import (
	"fmt"
	"net"
	"sort"

	"example.com/lanserve/internal/ipaddr"
	"example.com/lanserve/internal/logger"
)

// InterfaceAddress is one address of a local network interface.
type InterfaceAddress struct {
	Interface string
	Address   string
	Version   ipaddr.Version
	Class     ipaddr.Class
}

func (a InterfaceAddress) String() string {
	return fmt.Sprintf("%s %-8s : %s", a.Version, a.Class, a.Address)
}

// ListInterfaceAddresses enumerates the host's interface addresses,
// classified the same way remote addresses are.
func ListInterfaceAddresses() ([]InterfaceAddress, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []InterfaceAddress
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			default:
				continue
			}
			out = append(out, NewInterfaceAddress(iface.Name, ip))
		}
	}
	SortInterfaceAddresses(out)
	return out, nil
}

// NewInterfaceAddress classifies ip as an address of the named interface.
func NewInterfaceAddress(name string, ip net.IP) InterfaceAddress {
	version := ipaddr.V6
	if ip.To4() != nil {
		version = ipaddr.V4
	}
	text := ip.String()
	return InterfaceAddress{
		Interface: name,
		Address:   text,
		Version:   version,
		Class:     ipaddr.Classify(ipaddr.Parse(text, version)),
	}
}

// SortInterfaceAddresses orders addresses by interface name, then version,
// then address text.
func SortInterfaceAddresses(addrs []InterfaceAddress) {
	sort.SliceStable(addrs, func(i, j int) bool {
		a, b := addrs[i], addrs[j]
		if a.Interface != b.Interface {
			return a.Interface < b.Interface
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.Address < b.Address
	})
}

func (s *Server) logInterfaces() {
	addrs, err := s.listDevices()
	if err != nil {
		s.log.Warn("Could not enumerate network interfaces", logger.LogFields{"error": err.Error()})
		return
	}
	SortInterfaceAddresses(addrs)

	table := make(map[string][]string)
	var names []string
	for _, a := range addrs {
		if _, ok := table[a.Interface]; !ok {
			names = append(names, a.Interface)
		}
		table[a.Interface] = append(table[a.Interface], a.String())
	}
	s.log.Info("Device IP Table", logger.LogFields{"devices": table, "order": names})
}
