package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// MachineID retrieves an ID of this machine specific to this application,
// falling back to the hostname.
func MachineID() string {
	id, err := machineid.ProtectedID("cul.go")
	if err == nil {
		return id[:12]
	}
	glog.Warningf("machine id unavailable: %v", err)
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}

// ClientID returns the default MQTT client ID.
func ClientID() string {
	return "cul:" + MachineID()
}
