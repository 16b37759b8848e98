// Package core defines core types with zero external dependencies.
package core

import (
	"net"
	"strconv"
)

// DeviceTarget identifies the display device the controller talks to.
type DeviceTarget struct {
	Host string // IP or hostname of the device
	Port int    // control channel port, 8009 unless overridden
	Name string // optional friendly name for logs and status output
}

// Addr returns the dialable "host:port" form of the target.
func (d DeviceTarget) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Label returns the friendly name when set, the address otherwise.
func (d DeviceTarget) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Addr()
}
