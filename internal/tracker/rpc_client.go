package tracker

import (
	"encoding/json"
	"net"
	"time"

	"github.com/lvbealr/gorent/internal/xerrors"
)

// ConnectTimeout bounds how long dialing a ring peer may take.
const ConnectTimeout = 5 * time.Second

// RPCClient implements chord.RPCClient over the framed JSON transport,
// dialing a fresh connection per call the way
// original_source/src/tracker/tracker.py's send_message does.
type RPCClient struct{}

func (RPCClient) call(addr string, req interface{}, resp interface{}) error {
	conn, err := net.DialTimeout("tcp", addr, ConnectTimeout)
	if err != nil {
		return xerrors.Wrapf(xerrors.KindConnect, err, "dialing %s", addr)
	}
	defer conn.Close()

	body, err := json.Marshal(req)
	if err != nil {
		return xerrors.Wrap(xerrors.KindFrame, err, "marshalling rpc request")
	}
	if err := writeFrame(conn, body); err != nil {
		return err
	}

	respBody, err := readFrame(conn)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, resp); err != nil {
		return xerrors.Wrap(xerrors.KindFrame, err, "decoding rpc response")
	}
	return nil
}

func (c RPCClient) FindSuccessor(addr string, keyID uint64) (string, error) {
	var resp struct {
		Successor string `json:"successor"`
	}
	err := c.call(addr, rawRequest{Type: "find_successor", KeyID: keyID}, &resp)
	return resp.Successor, err
}

func (c RPCClient) FindPredecessor(addr string, keyID uint64) (string, error) {
	var resp struct {
		Predecessor string `json:"predecessor"`
	}
	err := c.call(addr, rawRequest{Type: "find_predecessor", KeyID: keyID}, &resp)
	return resp.Predecessor, err
}

func (c RPCClient) Notify(addr, candidate string) error {
	return c.call(addr, rawRequest{Type: "notify", IP: candidate}, nil)
}

func (c RPCClient) GetPredecessor(addr string) (string, error) {
	var resp struct {
		Predecessor string `json:"predecessor"`
	}
	err := c.call(addr, rawRequest{Type: "get_predecessor"}, &resp)
	return resp.Predecessor, err
}

func (c RPCClient) GetSuccessors(addr string) ([]string, error) {
	var resp struct {
		Successors []string `json:"successors"`
	}
	err := c.call(addr, rawRequest{Type: "get_successors"}, &resp)
	return resp.Successors, err
}

func (c RPCClient) UpdateFingerTable(addr, nodeAddr string, index int, origin string) error {
	return c.call(addr, rawRequest{
		Type:   "update_finger_table",
		NodeIP: nodeAddr,
		Index:  index,
		Origin: origin,
	}, nil)
}
