package chord

import (
	"time"

	"github.com/lvbealr/gorent/internal/xerrors"
	"github.com/lvbealr/gorent/internal/xlog"
)

// StabiliseInterval is how often a node re-checks its successor pointer
// and successor list.
const StabiliseInterval = 5 * time.Second

// FindSuccessor locates the node responsible for keyID, forwarding to the
// closest preceding finger over RPC when it isn't n or n's successor.
func (n *Node) FindSuccessor(keyID uint64) (string, error) {
	n.mu.Lock()
	selfSuccessor := n.successors[0]
	selfAddr := n.Addr
	selfID := n.id
	n.mu.Unlock()

	if selfAddr == selfSuccessor {
		// single-node ring
		return selfAddr, nil
	}

	successorID := n.idOf(selfSuccessor)
	if isBetween(keyID, selfID, successorID) {
		return selfSuccessor, nil
	}

	closest := n.closestPrecedingNode(keyID)
	successor, err := n.rpc.FindSuccessor(closest, keyID)
	if err != nil {
		return "", xerrors.Wrap(xerrors.KindRing, err, "find_successor: forward")
	}
	return successor, nil
}

// closestPrecedingNode scans the finger table from m-1 down to 0 and
// returns the first finger whose id lies in (n, keyID]; falls back to n
// itself if none qualifies.
func (n *Node) closestPrecedingNode(keyID uint64) string {
	n.mu.Lock()
	fingers := append([]string(nil), n.fingerTable...)
	selfID := n.id
	selfAddr := n.Addr
	n.mu.Unlock()

	for i := len(fingers) - 1; i >= 0; i-- {
		f := fingers[i]
		if f == "" {
			continue
		}
		if isBetween(n.idOf(f), selfID, keyID) {
			return f
		}
	}
	return selfAddr
}

// FindPredecessor locates the predecessor of keyID, the symmetric
// counterpart to FindSuccessor used by update_others.
func (n *Node) FindPredecessor(keyID uint64) (string, error) {
	n.mu.Lock()
	selfSuccessor := n.successors[0]
	selfAddr := n.Addr
	selfID := n.id
	n.mu.Unlock()

	if selfAddr == selfSuccessor {
		return selfAddr, nil
	}

	successorID := n.idOf(selfSuccessor)
	if isBetween(keyID, selfID, successorID) {
		return selfAddr, nil
	}

	closest := n.closestPrecedingNode(keyID)
	predecessor, err := n.rpc.FindPredecessor(closest, keyID)
	if err != nil {
		return "", xerrors.Wrap(xerrors.KindRing, err, "find_predecessor: forward")
	}
	return predecessor, nil
}

// Notify tells n that candidate might be its predecessor. n accepts it
// when it has no predecessor yet, or candidate's id lies in the arc
// (current predecessor, n] on the ring.
func (n *Node) Notify(candidate string) {
	candidateID := n.idOf(candidate)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.predecessor == "" {
		n.predecessor = candidate
		return
	}
	predecessorID := n.idOf(n.predecessor)
	if isBetween(candidateID, predecessorID, n.id) {
		n.predecessor = candidate
	}
}

// Stabilise corrects n's successor pointer and refreshes its k=2
// successor list against the successor's own view. Call it periodically
// (see RunStabiliser); transient RPC failures are logged and swallowed,
// since the next pass will retry.
func (n *Node) Stabilise() {
	n.mu.Lock()
	successor := n.successors[0]
	n.mu.Unlock()

	if successor == "" {
		return
	}

	predecessorOfSuccessor, err := n.rpc.GetPredecessor(successor)
	if err != nil {
		xlog.L.WithField("successor", successor).WithField("error", err).Warn("stabilise: get_predecessor failed")
		return
	}

	if predecessorOfSuccessor != "" {
		predID := n.idOf(predecessorOfSuccessor)
		n.mu.Lock()
		succID := n.idOf(n.successors[0])
		selfID := n.id
		if isBetween(predID, selfID, succID) {
			n.successors[0] = predecessorOfSuccessor
			successor = predecessorOfSuccessor
		}
		n.mu.Unlock()
	}

	if err := n.rpc.Notify(successor, n.Addr); err != nil {
		xlog.L.WithField("successor", successor).WithField("error", err).Warn("stabilise: notify failed")
		return
	}

	newSuccessors, err := n.rpc.GetSuccessors(successor)
	if err != nil {
		xlog.L.WithField("successor", successor).WithField("error", err).Warn("stabilise: get_successors failed")
		return
	}

	n.mu.Lock()
	n.successors[0] = successor
	if len(newSuccessors) > 0 {
		n.successors[1] = newSuccessors[0]
	} else {
		n.successors[1] = ""
	}
	n.mu.Unlock()
}

// RunStabiliser runs Stabilise every StabiliseInterval until done is
// closed.
func (n *Node) RunStabiliser(done <-chan struct{}) {
	ticker := time.NewTicker(StabiliseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			n.Stabilise()
		}
	}
}

// updateOthers notifies the predecessors of (self.id - 2^(i-1)) mod 2^m,
// for i = 1..M, that their finger table's i-th entry may now be n.
func (n *Node) updateOthers() error {
	ring := ringSize(n.M)
	for i := 1; i <= n.M; i++ {
		offset := uint64(1) << uint(i-1)
		keyID := (n.id - offset%ring + ring) % ring

		predecessorAddr, err := n.FindPredecessor(keyID)
		if err != nil {
			xlog.L.WithField("index", i).WithField("error", err).Warn("update_others: find_predecessor failed")
			continue
		}
		if err := n.rpc.UpdateFingerTable(predecessorAddr, n.Addr, i, n.Addr); err != nil {
			xlog.L.WithField("target", predecessorAddr).WithField("error", err).Warn("update_others: update_finger_table failed")
		}
	}
	return nil
}

// UpdateFingerTable is the RPC-facing handler: if nodeAddr is now a
// better match for n's i-th finger, install it, then forward the update
// to n's predecessor unless that predecessor is the origin (terminates
// the recursion started by updateOthers).
func (n *Node) UpdateFingerTable(nodeAddr string, i int, origin string) {
	n.mu.Lock()
	start := (n.id + (uint64(1) << uint(i-1))) % ringSize(n.M)
	var currentID uint64
	currentAddr := ""
	if i-1 < len(n.fingerTable) {
		currentAddr = n.fingerTable[i-1]
	}
	if currentAddr != "" {
		currentID = n.idOf(currentAddr)
	}
	nodeID := n.idOf(nodeAddr)

	changed := currentAddr == "" || isBetween(nodeID, start, currentID)
	if changed {
		if i-1 < len(n.fingerTable) {
			n.fingerTable[i-1] = nodeAddr
		}
	}
	predecessor := n.predecessor
	selfAddr := n.Addr
	n.mu.Unlock()

	if !changed {
		return
	}
	if predecessor == "" || predecessor == selfAddr || predecessor == origin {
		return
	}

	if err := n.rpc.UpdateFingerTable(predecessor, nodeAddr, i, selfAddr); err != nil {
		xlog.L.WithField("target", predecessor).WithField("error", err).Warn("update_finger_table: forward failed")
	}
}
