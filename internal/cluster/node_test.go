package cluster

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryNodeApply(t *testing.T) {
	fsm := NewFSM()
	n, err := NewNode(NodeOptions{NodeID: "n1", RaftAddr: "n1", FSM: fsm, InMemory: true})
	require.NoError(t, err)
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.WaitForLeader(ctx))
	require.Eventually(t, n.IsLeader, 5*time.Second, 10*time.Millisecond)

	idx, err := n.Apply(ctx, Mutation{Type: MutationSet, Key: "a.b", Value: json.RawMessage(`true`)})
	require.NoError(t, err)
	require.NotZero(t, idx)

	v, ok := fsm.Get("a.b")
	require.True(t, ok)
	require.Equal(t, true, v)

	_, err = n.Apply(ctx, Mutation{Type: "bogus", Key: "a"})
	require.Error(t, err)

	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
}

func TestNewNodeValidatesOptions(t *testing.T) {
	_, err := NewNode(NodeOptions{NodeID: "n1", RaftAddr: "n1", FSM: NewFSM()})
	require.Error(t, err)
}
