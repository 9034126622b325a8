package chord

import (
	"sync"

	"github.com/lvbealr/gorent/internal/xerrors"
)

// RPCClient reaches another ring member by address. tracker.RPCClient
// implements it over the framed JSON transport of section 4.6; tests use
// an in-memory fake.
type RPCClient interface {
	FindSuccessor(addr string, keyID uint64) (string, error)
	FindPredecessor(addr string, keyID uint64) (string, error)
	Notify(addr, candidate string) error
	GetPredecessor(addr string) (string, error)
	GetSuccessors(addr string) ([]string, error)
	UpdateFingerTable(addr, nodeAddr string, index int, origin string) error
}

// Node is one member of the ring: its own identity plus the finger table,
// predecessor, and successor list that let it route find_successor
// queries in O(log N) hops.
type Node struct {
	mu sync.Mutex

	Addr string // ip:port this node is reachable at, and its ring key's preimage
	M    int
	rpc  RPCClient

	id          uint64
	fingerTable []string // length M, fingerTable[i-1] ~ finger i
	predecessor string   // "" means none
	successors  [2]string
}

// New builds a Node for addr in an M-bit ring, talking to peers through
// rpc. Call Join to place it on the ring.
func New(addr string, m int, rpc RPCClient) *Node {
	if m <= 0 {
		m = DefaultM
	}
	return &Node{
		Addr: addr,
		M:    m,
		rpc:  rpc,
		id:   HashID(addr, m),
	}
}

// ID returns this node's ring identifier.
func (n *Node) ID() uint64 { return n.id }

// idOf hashes another node's address into the same ring space as n.
func (n *Node) idOf(addr string) uint64 { return HashID(addr, n.M) }

// FingerTable returns a snapshot of the finger table, for read-only
// introspection (spec section 6's operator-visible accessors).
func (n *Node) FingerTable() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.fingerTable))
	copy(out, n.fingerTable)
	return out
}

// Predecessor returns the current predecessor address, or "" if none.
func (n *Node) Predecessor() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.predecessor
}

// Successors returns a snapshot of the k=2 successor list.
func (n *Node) Successors() [2]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.successors
}

// setPredecessor installs addr as predecessor unconditionally, without
// Notify's acceptance rule. The "notify" RPC handler goes through Notify
// and Join assigns the field itself, so neither calls this.
func (n *Node) setPredecessor(addr string) {
	n.mu.Lock()
	n.predecessor = addr
	n.mu.Unlock()
}

// Join places n on the ring. With bootstrapAddr == "", n forms a new
// single-node ring. Otherwise it contacts bootstrapAddr to find its
// successor, notifies it, builds its finger table, and updates the
// tables of nodes that should now point at n.
func (n *Node) Join(bootstrapAddr string) error {
	if bootstrapAddr == "" {
		n.mu.Lock()
		n.successors = [2]string{n.Addr, ""}
		n.predecessor = n.Addr
		n.mu.Unlock()
		return n.createFingerTable()
	}

	successor, err := n.rpc.FindSuccessor(bootstrapAddr, n.id)
	if err != nil {
		return xerrors.Wrap(xerrors.KindRing, err, "join: find_successor on bootstrap")
	}

	n.mu.Lock()
	n.successors[0] = successor
	n.predecessor = ""
	n.mu.Unlock()

	if err := n.rpc.Notify(successor, n.Addr); err != nil {
		return xerrors.Wrap(xerrors.KindRing, err, "join: notify successor")
	}

	if err := n.createFingerTable(); err != nil {
		return err
	}

	return n.updateOthers()
}

// createFingerTable rebuilds every finger by asking FindSuccessor for
// (id + 2^(i-1)) mod 2^m, i = 1..M.
func (n *Node) createFingerTable() error {
	table := make([]string, n.M)
	for i := 1; i <= n.M; i++ {
		start := (n.id + (uint64(1) << uint(i-1))) % ringSize(n.M)
		successor, err := n.FindSuccessor(start)
		if err != nil {
			return xerrors.Wrap(xerrors.KindRing, err, "create_finger_table")
		}
		table[i-1] = successor
	}

	n.mu.Lock()
	n.fingerTable = table
	n.mu.Unlock()
	return nil
}
