// Command orbisnode runs an Orbis Ethica validator: ledger, deliberation
// engine, gossip mesh, and HTTP API in one process.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Yehielamor/orbis-ethica/internal/api"
	"github.com/Yehielamor/orbis-ethica/internal/council"
	"github.com/Yehielamor/orbis-ethica/internal/deliberation"
	"github.com/Yehielamor/orbis-ethica/internal/eventbus"
	"github.com/Yehielamor/orbis-ethica/internal/governance"
	"github.com/Yehielamor/orbis-ethica/internal/identity"
	"github.com/Yehielamor/orbis-ethica/internal/ledger"
	"github.com/Yehielamor/orbis-ethica/internal/memorydag"
	"github.com/Yehielamor/orbis-ethica/internal/mesh"
	"github.com/Yehielamor/orbis-ethica/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "./data/.keys/node_identity.sk", "path to the encrypted identity keystore")
	genKey := flag.Bool("genkey", false, "generate a new identity keypair and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit")
	flag.Parse()

	password := os.Getenv("KEY_PASSWORD")

	if *genKey {
		runGenKey(*keyPath, password)
		return
	}
	if *genCerts != "" {
		runGenCerts(*genCerts, *keyPath, password)
		return
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fatal(1, "config: %v", err)
	}
	applyEnvOverrides(cfg)

	priv := identity.LoadOrFatal(*keyPath, password, true, fatal)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fatal(1, "mkdir data dir: %v", err)
	}

	chainDB, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		fatal(1, "open chain db: %v", err)
	}
	defer chainDB.Close()
	blockStore := storage.NewLevelBlockStore(chainDB)

	memoryDB, err := storage.NewLevelDB(cfg.DataDir + "/memory")
	if err != nil {
		fatal(1, "open memory db: %v", err)
	}
	defer memoryDB.Close()
	dag := memorydag.New(memoryDB)

	govStore := governance.NewStore(cfg)
	bus := eventbus.New()
	mempool := ledger.NewMempool()

	chain := ledger.NewBlockchain(blockStore, mempool, govStore, bus, cfg.Genesis.Validators)
	if err := chain.Init(cfg.Genesis.Validators); err != nil {
		fatal(3, "ledger integrity failure on replay: %v", err)
	}
	if chain.Tip() == nil {
		genesis := ledger.BuildGenesisBlock(priv, cfg.Genesis.Validators, cfg.Genesis.Treasury)
		if _, err := chain.AcceptBlock(genesis); err != nil {
			fatal(1, "commit genesis: %v", err)
		}
		log.Printf("genesis block committed: %s", genesis.Hash)
	}

	// Keep the governance store's height-latched parameter activation in
	// step with the chain it governs.
	bus.OnEvent(eventbus.EventBlockCommit, func(eventbus.Event) {
		govStore.SetHeight(chain.Height())
	})

	capability := council.NewMockCapability()
	if cfg.GenerativeProvider != "mock" {
		log.Printf("generative provider %q requested but no external backend is wired; falling back to mock", cfg.GenerativeProvider)
	}
	agents := council.NewCouncil(capability)
	engine := deliberation.New(agents, dag, govStore, bus)

	p2pAddr := fmt.Sprintf("%s:%d", nodeHost(), cfg.P2PPort)
	node := mesh.NewNode(priv, p2pAddr, chain, bus)

	tlsConfig, err := governance.LoadTLSConfig(cfg.TLS)
	if err != nil {
		fatal(1, "tls config: %v", err)
	}

	apiAddr := fmt.Sprintf("%s:%d", nodeHost(), cfg.APIPort)
	server := api.NewServer(apiAddr, chain, engine, node, bus)
	if tlsConfig != nil {
		server.SetTLSConfig(tlsConfig)
		node.SetTLSConfig(tlsConfig)
		log.Println("mesh mTLS enabled")
	}
	if err := server.Start(); err != nil {
		fatal(1, "api start: %v", err)
	}
	defer server.Stop()
	log.Printf("api listening on %s", apiAddr)

	for _, seed := range cfg.SeedPeers {
		node.AddSeed(seed.Addr)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runProposerLoop(chain, server, node, priv, done)
	}()
	log.Printf("validator running: %s", priv.Public().Hex())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down...")
	close(done)
	wg.Wait()
	log.Println("shutdown complete")
}

// runProposerLoop periodically seals a new block from mempool plus any
// system transactions handed off by completed deliberations (§4.2, §4.3).
func runProposerLoop(chain *ledger.Blockchain, server *api.Server, node *mesh.Node, priv identity.PrivateKey, done <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			systemTxs := server.DrainSystemTxs()
			block, err := chain.ProposeBlock(priv, priv.Public().Hex(), systemTxs...)
			if err != nil {
				log.Printf("propose block: %v (dropped %d system txs)", err, len(systemTxs))
				continue
			}
			if block == nil {
				continue
			}
			if err := node.BroadcastBlock(block); err != nil {
				log.Printf("broadcast block: %v", err)
			}
		}
	}
}

func runGenKey(keyPath, password string) {
	priv, _, err := identity.GenerateKeyPair()
	if err != nil {
		fatal(1, "generate key: %v", err)
	}
	if password == "" {
		fatal(1, "KEY_PASSWORD must be set to seal the new key")
	}
	if err := os.MkdirAll(dirOf(keyPath), 0o755); err != nil {
		fatal(1, "mkdir: %v", err)
	}
	if err := identity.StoreEncrypted(keyPath, password, priv); err != nil {
		fatal(1, "store key: %v", err)
	}
	fmt.Printf("generated identity. public key: %s\n", priv.Public().Hex())
	fmt.Printf("saved to: %s\n", keyPath)
}

// runGenCerts generates a self-signed CA and a node certificate bound to
// this node's identity public key, for the mesh transport's optional mTLS
// mode (§4.5). It requires an existing identity keystore so the cert's
// CommonName matches the node's gossip identity.
func runGenCerts(dir, keyPath, password string) {
	priv, err := identity.LoadEncrypted(keyPath, password)
	if err != nil {
		fatal(1, "gencerts: load identity at %s (run -genkey first): %v", keyPath, err)
	}
	nodeID := priv.Public().Hex()
	if err := identity.GenerateMeshCerts(dir, nodeID, nil); err != nil {
		fatal(1, "gencerts: %v", err)
	}
	fmt.Printf("generated CA + node cert for %s into %s\n", nodeID, dir)
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return "."
}

func loadConfig(path string) (*governance.Config, error) {
	cfg, err := governance.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("config file not found at %s, writing defaults", path)
			cfg = governance.DefaultConfig()
			if err := governance.Save(cfg, path); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("wrote default config to %s; set genesis.validators and genesis.treasury before restarting", path)
		}
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *governance.Config) {
	if v := os.Getenv("NODE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.APIPort = n
		}
	}
	if v := os.Getenv("P2P_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.P2PPort = n
		}
	}
	if v := os.Getenv("SEED_NODES"); v != "" {
		cfg.SeedPeers = nil
		for _, addr := range strings.Split(v, ",") {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			cfg.SeedPeers = append(cfg.SeedPeers, governance.SeedPeer{Addr: addr})
		}
	}
	if v := os.Getenv("GENERATIVE_PROVIDER"); v != "" {
		cfg.GenerativeProvider = v
	}
	cfg.ProviderAPIKey = os.Getenv("PROVIDER_API_KEY")
}

func nodeHost() string {
	if v := os.Getenv("NODE_HOST"); v != "" {
		return v
	}
	return "0.0.0.0"
}

// fatal logs and exits with the §6 exit-code taxonomy: 1 config, 2 unlock
// failure, 3 integrity failure on replay.
func fatal(code int, format string, args ...any) {
	log.Printf(format, args...)
	os.Exit(code)
}
