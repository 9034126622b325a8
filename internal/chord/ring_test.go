package chord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNetwork is an in-memory chord.RPCClient fake over a set of Nodes
// addressed by string, letting the ring algorithm be tested without
// sockets.
type fakeNetwork struct {
	nodes map[string]*Node
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{nodes: make(map[string]*Node)}
}

func (f *fakeNetwork) add(addr string, m int) *Node {
	n := New(addr, m, f)
	f.nodes[addr] = n
	return n
}

func (f *fakeNetwork) FindSuccessor(addr string, keyID uint64) (string, error) {
	return f.nodes[addr].FindSuccessor(keyID)
}

func (f *fakeNetwork) FindPredecessor(addr string, keyID uint64) (string, error) {
	return f.nodes[addr].FindPredecessor(keyID)
}

func (f *fakeNetwork) Notify(addr, candidate string) error {
	f.nodes[addr].Notify(candidate)
	return nil
}

func (f *fakeNetwork) GetPredecessor(addr string) (string, error) {
	return f.nodes[addr].Predecessor(), nil
}

func (f *fakeNetwork) GetSuccessors(addr string) ([]string, error) {
	s := f.nodes[addr].Successors()
	return s[:], nil
}

func (f *fakeNetwork) UpdateFingerTable(addr, nodeAddr string, index int, origin string) error {
	f.nodes[addr].UpdateFingerTable(nodeAddr, index, origin)
	return nil
}

func TestIsBetweenNonWrapping(t *testing.T) {
	assert.True(t, isBetween(5, 2, 8))
	assert.False(t, isBetween(2, 2, 8))
	assert.True(t, isBetween(8, 2, 8))
	assert.False(t, isBetween(9, 2, 8))
}

func TestIsBetweenWrapping(t *testing.T) {
	// ring of size 32: interval (30, 2]
	assert.True(t, isBetween(31, 30, 2))
	assert.True(t, isBetween(0, 30, 2))
	assert.True(t, isBetween(2, 30, 2))
	assert.False(t, isBetween(15, 30, 2))
}

func TestSingleNodeRingIsOwnSuccessor(t *testing.T) {
	net := newFakeNetwork()
	a := net.add("10.0.0.1:9000", 5)
	require.NoError(t, a.Join(""))

	successor, err := a.FindSuccessor(a.ID())
	require.NoError(t, err)
	assert.Equal(t, a.Addr, successor)
}

func TestTwoNodeJoinPlacesOnRing(t *testing.T) {
	net := newFakeNetwork()
	a := net.add("10.0.0.1:9000", 5)
	require.NoError(t, a.Join(""))

	b := net.add("10.0.0.2:9000", 5)
	require.NoError(t, b.Join(a.Addr))

	// Every key on this 2-node ring, queried through a, resolves to
	// either a or b without looping.
	for _, key := range []uint64{0, 7, 15, 31} {
		successor, err := a.FindSuccessor(key)
		require.NoError(t, err)
		assert.Contains(t, []string{a.Addr, b.Addr}, successor)
	}
}

func TestStabiliseConverges(t *testing.T) {
	net := newFakeNetwork()
	a := net.add("10.0.0.1:9000", 5)
	require.NoError(t, a.Join(""))

	b := net.add("10.0.0.2:9000", 5)
	require.NoError(t, b.Join(a.Addr))

	for i := 0; i < 5; i++ {
		a.Stabilise()
		b.Stabilise()
	}

	assert.NotEmpty(t, a.Predecessor())
	assert.NotEmpty(t, b.Predecessor())
}

func TestNotifyAcceptsCloserPredecessor(t *testing.T) {
	net := newFakeNetwork()
	a := net.add("10.0.0.1:9000", 5)
	require.NoError(t, a.Join(""))

	a.Notify("10.0.0.9:9000")
	assert.Equal(t, "10.0.0.9:9000", a.Predecessor())
}
