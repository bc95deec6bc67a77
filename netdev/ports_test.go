package netdev

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingAux struct {
	freed bool
}

func (a *recordingAux) Free() { a.freed = true }

func TestPortsRegistry(t *testing.T) {
	ports := NewPorts()
	nic := NewDummy("dummy0")
	require.NoError(t, ports.Add(1, nic))
	require.Error(t, ports.Add(1, NewDummy("other")), "port numbers are unique")
	require.Error(t, ports.Add(2, NewDummy("dummy0")), "names are unique")

	require.Equal(t, nic, ports.Get(1))
	require.Nil(t, ports.Get(2), "an unregistered port is a tap")
	require.Equal(t, nic, ports.FromName("dummy0"))
	require.Nil(t, ports.FromName("nosuchdev"))
}

func TestPortsRemoveFreesAux(t *testing.T) {
	ports := NewPorts()
	vtep := NewDummyVxlanVport("vxlan0", 4789)
	aux := &recordingAux{}
	vtep.SetOffloadAux(aux)
	require.NoError(t, ports.Add(7, vtep))

	ports.Remove(7)
	require.True(t, aux.freed, "removing a vport frees its offload state")
	require.Nil(t, ports.Get(7))

	// Removing an absent port is a no-op.
	ports.Remove(7)
}

func TestVportCast(t *testing.T) {
	vtep := NewDummyVxlanVport("vxlan0", 4789)
	vp, ok := AsVport(vtep)
	require.True(t, ok)
	require.Equal(t, uint16(4789), vp.TunnelConfig().DstPort)

	_, ok = AsVport(NewDummy("dummy0"))
	require.False(t, ok, "a netdev without tunnel config is not a vport")
}
