package netdev

import (
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"

	"github.com/flowmesh/flowmesh/datapath"
)

// ErrNotSupported is returned by netdevs without a hardware flow API.
var ErrNotSupported = errors.New("flow api not supported on this netdev")

// Link is a netdev backed by a kernel interface. It carries the link's
// identity for matching and reporting; it has no flow API of its own,
// so flows whose in-port it is stay on the CPU dataplane.
type Link struct {
	name    string
	ifindex int
	mac     datapath.MAC
	mtu     int
}

func NewLink(name string) (*Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "looking up link %q", name)
	}
	attrs := link.Attrs()
	l := &Link{name: name, ifindex: attrs.Index, mtu: attrs.MTU}
	copy(l.mac[:], attrs.HardwareAddr)
	return l, nil
}

func (l *Link) Name() string { return l.name }
func (l *Link) Type() string { return "system" }
func (l *Link) Ifindex() int { return l.ifindex }
func (l *Link) MTU() int     { return l.mtu }

func (l *Link) MAC() datapath.MAC { return l.mac }

func (l *Link) FlowPut(m *datapath.Match, actions datapath.Actions, ufid datapath.UFID, info *PutInfo) error {
	return ErrNotSupported
}

func (l *Link) FlowDel(ufid datapath.UFID) error {
	return ErrNotSupported
}

func (l *Link) FlowGet(ufid datapath.UFID) (FlowStats, error) {
	return FlowStats{}, ErrNotSupported
}
