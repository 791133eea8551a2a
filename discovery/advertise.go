package discovery

import (
	"fmt"
	"log"

	"github.com/grandcat/zeroconf"
)

const service = "_screenlink._tcp"

// Advertiser announces the control channel over mDNS so clients on the
// local network can find the host without typing an address.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the service and keeps announcing until Shutdown.
func Advertise(deviceName string, port int, apiAddr string) (*Advertiser, error) {
	txt := []string{
		"version=1",
		fmt.Sprintf("api=%s", apiAddr),
	}
	server, err := zeroconf.Register(deviceName, service, "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	log.Printf("discovery: advertising %q as %s on port %d", deviceName, service, port)
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}
