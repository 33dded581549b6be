package governance

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Genesis.Validators = []string{"aa" + strings.Repeat("00", 31)}
	cfg.Genesis.Treasury = "treasury"
	err := cfg.Validate()
	require.NoError(t, err)
}

func TestStoreActivationLatency(t *testing.T) {
	cfg := DefaultConfig()
	store := NewStore(cfg)
	assert.Equal(t, 256, store.MaxTxPerBlock())

	raw, err := json.Marshal(128)
	require.NoError(t, err)
	require.NoError(t, store.ApplyGovernanceTx(KeyMaxTxPerBlock, raw, 100, 10))

	store.SetHeight(105)
	assert.Equal(t, 256, store.MaxTxPerBlock(), "change not yet active before height 110")

	store.SetHeight(110)
	assert.Equal(t, 128, store.MaxTxPerBlock(), "change active at height 110")
}

func TestStoreIgnoresUnknownKey(t *testing.T) {
	cfg := DefaultConfig()
	store := NewStore(cfg)
	err := store.ApplyGovernanceTx("authority", json.RawMessage(`["a"]`), 1, 1)
	require.NoError(t, err)
	store.SetHeight(100)
	assert.Equal(t, cfg.MaxTxPerBlock, store.MaxTxPerBlock())
}
