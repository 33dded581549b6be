package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yehielamor/orbis-ethica/internal/identity"
)

func TestSeenCacheDedupesAndEvicts(t *testing.T) {
	c := newSeenCache(2)
	assert.False(t, c.SeenOrMark("a"))
	assert.True(t, c.SeenOrMark("a"))
	assert.False(t, c.SeenOrMark("b"))
	assert.False(t, c.SeenOrMark("c")) // evicts "a"
	assert.False(t, c.SeenOrMark("a")) // re-admitted after eviction
}

func TestGreylistMarkBarsPeer(t *testing.T) {
	g := newGreylist()
	assert.False(t, g.IsBarred("p1"))
	g.Mark("p1")
	assert.True(t, g.IsBarred("p1"))
}

func TestAddressBookMergeDedupes(t *testing.T) {
	b := newAddressBook()
	b.Merge([]PeerAddr{{NodeID: "n1", Addr: "a:1"}, {NodeID: "n1", Addr: "a:2"}})
	snap := b.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "a:2", snap[0].Addr)
}

func TestEnvelopeSignAndVerify(t *testing.T) {
	priv, _, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	env := Envelope{Type: MsgPing, MessageID: "m1", Payload: []byte(`{"x":1}`)}
	env.Sign(priv)
	assert.NoError(t, env.Verify())

	env.HopCount = 1
	assert.Error(t, env.Verify(), "signature must not validate after the envelope is mutated")
}
