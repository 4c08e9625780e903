package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "testnet", cfg.Node.Network)
	assert.EqualValues(t, 10000, cfg.Node.PriceMsat)
	assert.Equal(t, 10000, cfg.Node.MaxSqueaks)
	assert.Equal(t, 100, cfg.Node.MaxSqueaksPerPublicKeyPerBlock)
	assert.EqualValues(t, 604800, cfg.Node.SqueakRetentionS)
	assert.EqualValues(t, 86400, cfg.Node.SentOfferRetentionS)
	assert.EqualValues(t, 86400, cfg.Node.ReceivedOfferRetentionS)
	assert.EqualValues(t, 10, cfg.Node.OfferDeletionIntervalS)
	assert.EqualValues(t, 10, cfg.Node.SqueakDeletionIntervalS)
	assert.EqualValues(t, 10, cfg.Node.SubscribeInvoicesRetryS)
	assert.EqualValues(t, 2016, cfg.Node.InterestBlockInterval)
	assert.EqualValues(t, 30, cfg.Node.PeerDownloadIntervalS)
	assert.Equal(t, 8555, cfg.Server.ExternalPort)
	assert.Equal(t, "lnd", cfg.Lightning.Backend)
	assert.Equal(t, "memory", cfg.OfferCache.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "squeaknode.yaml")
	body := []byte("node:\n  network: regtest\n  priceMsat: 5000\nlightning:\n  backend: clightning\n  clightningRpcFile: /tmp/lightning-rpc\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))
	t.Setenv("SQUEAKNODE_NODE_MAXSQUEAKS", "42")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "regtest", cfg.Node.Network)
	assert.EqualValues(t, 5000, cfg.Node.PriceMsat)
	assert.Equal(t, 42, cfg.Node.MaxSqueaks)
	assert.Equal(t, "clightning", cfg.Lightning.Backend)
	assert.Equal(t, "/tmp/lightning-rpc", cfg.Lightning.CLightningRPCFile)
}

func TestLoadPerBackendKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "squeaknode.yaml")
	body := []byte("lnd:\n  rpcHost: lnd.internal\n  rpcPort: 10010\n  macaroonPath: /secrets/admin.macaroon\n" +
		"lightning:\n  clightning:\n    rpcFile: /run/lightning-rpc\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "lnd.internal", cfg.Lightning.LNDRPCHost)
	assert.Equal(t, 10010, cfg.Lightning.LNDRPCPort)
	assert.Equal(t, "/secrets/admin.macaroon", cfg.Lightning.LNDMacaroonPath)
	assert.Equal(t, "/run/lightning-rpc", cfg.Lightning.CLightningRPCFile)
	assert.Equal(t, "", cfg.Lightning.LNDTLSCertPath)
}

func TestFlatLightningKeyWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "squeaknode.yaml")
	body := []byte("lnd:\n  rpcHost: ignored\nlightning:\n  lndRpcHost: flat.internal\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "flat.internal", cfg.Lightning.LNDRPCHost)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"network":  func(c *Config) { c.Node.Network = "moonnet" },
		"backend":  func(c *Config) { c.Lightning.Backend = "eclair" },
		"port":     func(c *Config) { c.Server.Port = 70000 },
		"interval": func(c *Config) { c.Node.OfferDeletionIntervalS = 0 },
		"price":    func(c *Config) { c.Node.PriceMsat = -1 },
		"status":   func(c *Config) { c.Status.Enabled = true },
		"cache":    func(c *Config) { c.OfferCache.Backend = "disk" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDumpRoundTrips(t *testing.T) {
	cfg := Default()
	out, err := cfg.Dump()
	require.NoError(t, err)
	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, cfg.Node, back.Node)
	assert.Contains(t, string(out), "priceMsat: 10000")
}

func TestTorProxyAddr(t *testing.T) {
	assert.Equal(t, "", TorConfig{}.TorProxyAddr())
	assert.Equal(t, "127.0.0.1:9050", TorConfig{ProxyIP: "127.0.0.1", ProxyPort: 9050}.TorProxyAddr())
}
