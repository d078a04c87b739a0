package config

import (
	"net"
)

// CheckIfInternal reports whether host falls inside the configured internal subnets.
// Connections leaving the internal ranges are what the scorer treats as external.
func (fs *Filtering) CheckIfInternal(host net.IP) bool {
	if ipv4 := host.To4(); ipv4 != nil {
		host = ipv4
	}
	for _, subnet := range fs.InternalSubnets {
		if subnet.IPNet != nil && subnet.Contains(host.To16()) {
			return true
		}
	}
	return false
}

// CheckIfExternalPair reports whether a src/dst pair crosses the internal boundary,
// i.e. one side is internal and the other is not.
func (fs *Filtering) CheckIfExternalPair(srcIP net.IP, dstIP net.IP) bool {
	srcInternal := fs.CheckIfInternal(srcIP)
	dstInternal := fs.CheckIfInternal(dstIP)
	return srcInternal != dstInternal
}
