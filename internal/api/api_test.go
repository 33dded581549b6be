package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yehielamor/orbis-ethica/internal/council"
	"github.com/Yehielamor/orbis-ethica/internal/deliberation"
	"github.com/Yehielamor/orbis-ethica/internal/eventbus"
	"github.com/Yehielamor/orbis-ethica/internal/identity"
	"github.com/Yehielamor/orbis-ethica/internal/ledger"
	"github.com/Yehielamor/orbis-ethica/internal/memorydag"
	"github.com/Yehielamor/orbis-ethica/internal/mesh"
	"github.com/Yehielamor/orbis-ethica/internal/storage"
)

type fixedParams struct{}

func (fixedParams) MaxTxPerBlock() int              { return 256 }
func (fixedParams) AuthorityLatency() int64         { return 10 }
func (fixedParams) DeliberationQuorum() float64     { return 0.1 }
func (fixedParams) SafetyFloor() float64            { return 0.0 }
func (fixedParams) MaxRounds() int                  { return 1 }
func (fixedParams) RoundTimeoutSeconds() int        { return 5 }
func (fixedParams) MintRewardPerDecision() uint64   { return 10 }
func (fixedParams) Threshold(category string) float64 { return 0.5 }

func newTestServer(t *testing.T) (*Server, identity.PrivateKey) {
	t.Helper()
	priv, _, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	validator := priv.Public().Hex()

	store := storage.NewMemBlockStore()
	mempool := ledger.NewMempool()
	bus := eventbus.New()
	chain := ledger.NewBlockchain(store, mempool, fixedParams{}, bus, []string{validator})

	genesis := ledger.BuildGenesisBlock(priv, []string{validator}, validator)
	_, err = chain.AcceptBlock(genesis)
	require.NoError(t, err)

	dag := memorydag.New(storage.NewMemDB())
	agents := council.NewCouncil(council.NewMockCapability())
	engine := deliberation.New(agents, dag, fixedParams{}, bus)

	node := mesh.NewNode(priv, "127.0.0.1:0", chain, bus)
	srv := NewServer(":0", chain, engine, node, bus)
	return srv, priv
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLedgerBlocksEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/ledger/blocks?limit=10", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitTxRequiresSignatureHeaders(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/tx", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWalletEndpointDefaultsToNotFoundWithoutAddress(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/wallet", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPeersEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/peers", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
