package memorydag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yehielamor/orbis-ethica/internal/storage"
)

func TestAppendRequiresKnownParents(t *testing.T) {
	dag := New(storage.NewMemDB())
	_, err := dag.Append(KindProposal, []string{"missing"}, "", map[string]string{"x": "y"}, 1)
	assert.Error(t, err)
}

func TestAppendAndChildren(t *testing.T) {
	dag := New(storage.NewMemDB())
	root, err := dag.Append(KindProposal, nil, "", map[string]string{"title": "p1"}, 1)
	require.NoError(t, err)

	child, err := dag.Append(KindRound, []string{root.ID}, "seeker", map[string]int{"round": 1}, 2)
	require.NoError(t, err)

	children, err := dag.Children(root.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID}, children)
}

func TestAncestorsOrderedByTime(t *testing.T) {
	dag := New(storage.NewMemDB())
	root, err := dag.Append(KindProposal, nil, "", "root", 1)
	require.NoError(t, err)
	mid, err := dag.Append(KindRound, []string{root.ID}, "", "mid", 2)
	require.NoError(t, err)
	leaf, err := dag.Append(KindAggregate, []string{mid.ID}, "", "leaf", 3)
	require.NoError(t, err)

	ancestors, err := dag.Ancestors(leaf.ID)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	assert.Equal(t, root.ID, ancestors[0].ID)
	assert.Equal(t, mid.ID, ancestors[1].ID)
}
