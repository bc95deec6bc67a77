package netdev

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/weaveworks/go-odp/odp"
)

// Ports is the registry mapping datapath port numbers to netdevs. A
// port number with no netdev behind it is a tap: packets for it can
// only be delivered by the CPU dataplane.
type Ports struct {
	mu     sync.RWMutex
	byPort map[odp.VportID]Netdev
	byName map[string]Netdev
}

func NewPorts() *Ports {
	return &Ports{
		byPort: make(map[odp.VportID]Netdev),
		byName: make(map[string]Netdev),
	}
}

func (p *Ports) Add(port odp.VportID, nd Netdev) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, present := p.byPort[port]; present {
		return errors.Errorf("port %d already registered", port)
	}
	if _, present := p.byName[nd.Name()]; present {
		return errors.Errorf("netdev %q already registered", nd.Name())
	}
	p.byPort[port] = nd
	p.byName[nd.Name()] = nd
	return nil
}

// Remove drops the port; a tunnel vport's offload state goes with it.
func (p *Ports) Remove(port odp.VportID) {
	p.mu.Lock()
	nd, present := p.byPort[port]
	if present {
		delete(p.byPort, port)
		delete(p.byName, nd.Name())
	}
	p.mu.Unlock()

	if !present {
		return
	}
	if vp, ok := AsVport(nd); ok && vp.OffloadAux() != nil {
		vp.OffloadAux().Free()
		vp.SetOffloadAux(nil)
	}
}

// Get returns the netdev on the port, or nil when the port is a tap.
func (p *Ports) Get(port odp.VportID) Netdev {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byPort[port]
}

func (p *Ports) FromName(name string) Netdev {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byName[name]
}
