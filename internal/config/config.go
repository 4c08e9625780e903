package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SQUEAKNODE"

// Config is the full node configuration. Keys mirror the dotted option names
// (node.priceMsat, lightning.backend, ...).
type Config struct {
	Node       NodeConfig       `mapstructure:"node" yaml:"node"`
	Bitcoin    BitcoinConfig    `mapstructure:"bitcoin" yaml:"bitcoin"`
	Lightning  LightningConfig  `mapstructure:"lightning" yaml:"lightning"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Tor        TorConfig        `mapstructure:"tor" yaml:"tor"`
	DB         DBConfig         `mapstructure:"db" yaml:"db"`
	Journal    JournalConfig    `mapstructure:"journal" yaml:"journal"`
	OfferCache OfferCacheConfig `mapstructure:"offerCache" yaml:"offerCache"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	PeerClient PeerClientConfig `mapstructure:"peerClient" yaml:"peerClient"`
	Status     StatusConfig     `mapstructure:"status" yaml:"status"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	UI         UIConfig         `mapstructure:"ui" yaml:"ui"`
}

type NodeConfig struct {
	Network                        string `mapstructure:"network" yaml:"network"`
	Username                       string `mapstructure:"username" yaml:"username"`
	PriceMsat                      int64  `mapstructure:"priceMsat" yaml:"priceMsat"`
	MaxSqueaks                     int    `mapstructure:"maxSqueaks" yaml:"maxSqueaks"`
	MaxSqueaksPerPublicKeyPerBlock int    `mapstructure:"maxSqueaksPerPublicKeyPerBlock" yaml:"maxSqueaksPerPublicKeyPerBlock"`
	SqueakRetentionS               int64  `mapstructure:"squeakRetentionS" yaml:"squeakRetentionS"`
	SentOfferRetentionS            int64  `mapstructure:"sentOfferRetentionS" yaml:"sentOfferRetentionS"`
	ReceivedOfferRetentionS        int64  `mapstructure:"receivedOfferRetentionS" yaml:"receivedOfferRetentionS"`
	OfferDeletionIntervalS         int64  `mapstructure:"offerDeletionIntervalS" yaml:"offerDeletionIntervalS"`
	SqueakDeletionIntervalS        int64  `mapstructure:"squeakDeletionIntervalS" yaml:"squeakDeletionIntervalS"`
	SubscribeInvoicesRetryS        int64  `mapstructure:"subscribeInvoicesRetryS" yaml:"subscribeInvoicesRetryS"`
	InterestBlockInterval          int32  `mapstructure:"interestBlockInterval" yaml:"interestBlockInterval"`
	PeerDownloadIntervalS          int64  `mapstructure:"peerDownloadIntervalS" yaml:"peerDownloadIntervalS"`
	InvoiceExpiryS                 int64  `mapstructure:"invoiceExpiryS" yaml:"invoiceExpiryS"`
}

type BitcoinConfig struct {
	RPCHost string `mapstructure:"rpcHost" yaml:"rpcHost"`
	RPCPort int    `mapstructure:"rpcPort" yaml:"rpcPort"`
	RPCUser string `mapstructure:"rpcUser" yaml:"rpcUser"`
	RPCPass string `mapstructure:"rpcPass" yaml:"rpcPass"`
	UseSSL  bool   `mapstructure:"useSsl" yaml:"useSsl"`
	SSLCert string `mapstructure:"sslCert" yaml:"sslCert"`
}

type LightningConfig struct {
	Backend           string `mapstructure:"backend" yaml:"backend"`
	LNDRPCHost        string `mapstructure:"lndRpcHost" yaml:"lndRpcHost"`
	LNDRPCPort        int    `mapstructure:"lndRpcPort" yaml:"lndRpcPort"`
	LNDTLSCertPath    string `mapstructure:"lndTlsCertPath" yaml:"lndTlsCertPath"`
	LNDMacaroonPath   string `mapstructure:"lndMacaroonPath" yaml:"lndMacaroonPath"`
	CLightningRPCFile string `mapstructure:"clightningRpcFile" yaml:"clightningRpcFile"`
	ExternalHost      string `mapstructure:"externalHost" yaml:"externalHost"`
	ExternalPort      int    `mapstructure:"externalPort" yaml:"externalPort"`
}

type ServerConfig struct {
	Host                  string `mapstructure:"host" yaml:"host"`
	Port                  int    `mapstructure:"port" yaml:"port"`
	ExternalAddress       string `mapstructure:"externalAddress" yaml:"externalAddress"`
	ExternalPort          int    `mapstructure:"externalPort" yaml:"externalPort"`
	MaxConcurrentRequests int    `mapstructure:"maxConcurrentRequests" yaml:"maxConcurrentRequests"`
}

type TorConfig struct {
	ProxyIP   string `mapstructure:"proxyIp" yaml:"proxyIp"`
	ProxyPort int    `mapstructure:"proxyPort" yaml:"proxyPort"`
}

type DBConfig struct {
	URL          string `mapstructure:"url" yaml:"url"`
	MaxOpenConns int    `mapstructure:"maxOpenConns" yaml:"maxOpenConns"`
}

type JournalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type OfferCacheConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type PeerClientConfig struct {
	RequestsPerSecond int   `mapstructure:"requestsPerSecond" yaml:"requestsPerSecond"`
	TimeoutS          int64 `mapstructure:"timeoutS" yaml:"timeoutS"`
}

type StatusConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	Username       string   `mapstructure:"username" yaml:"username"`
	PasswordHash   string   `mapstructure:"passwordHash" yaml:"passwordHash"`
	TokenSecret    string   `mapstructure:"tokenSecret" yaml:"tokenSecret"`
	AllowedOrigins []string `mapstructure:"allowedOrigins" yaml:"allowedOrigins"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

type UIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SetDefaults registers every recognised option with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("node.network", "testnet")
	v.SetDefault("node.username", "default")
	v.SetDefault("node.priceMsat", 10000)
	v.SetDefault("node.maxSqueaks", 10000)
	v.SetDefault("node.maxSqueaksPerPublicKeyPerBlock", 100)
	v.SetDefault("node.squeakRetentionS", 604800)
	v.SetDefault("node.sentOfferRetentionS", 86400)
	v.SetDefault("node.receivedOfferRetentionS", 86400)
	v.SetDefault("node.offerDeletionIntervalS", 10)
	v.SetDefault("node.squeakDeletionIntervalS", 10)
	v.SetDefault("node.subscribeInvoicesRetryS", 10)
	v.SetDefault("node.interestBlockInterval", 2016)
	v.SetDefault("node.peerDownloadIntervalS", 30)
	v.SetDefault("node.invoiceExpiryS", 3600)

	v.SetDefault("bitcoin.rpcHost", "localhost")
	v.SetDefault("bitcoin.rpcPort", 18334)
	v.SetDefault("bitcoin.rpcUser", "")
	v.SetDefault("bitcoin.rpcPass", "")
	v.SetDefault("bitcoin.useSsl", false)
	v.SetDefault("bitcoin.sslCert", "")

	v.SetDefault("lightning.backend", "lnd")
	v.SetDefault("lightning.lndRpcHost", "localhost")
	v.SetDefault("lightning.lndRpcPort", 10009)
	v.SetDefault("lightning.lndTlsCertPath", "")
	v.SetDefault("lightning.lndMacaroonPath", "")
	v.SetDefault("lightning.clightningRpcFile", "")
	v.SetDefault("lightning.externalHost", "")
	v.SetDefault("lightning.externalPort", 0)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8555)
	v.SetDefault("server.externalAddress", "")
	v.SetDefault("server.externalPort", 8555)
	v.SetDefault("server.maxConcurrentRequests", 64)

	v.SetDefault("tor.proxyIp", "")
	v.SetDefault("tor.proxyPort", 0)

	v.SetDefault("db.url", "")
	v.SetDefault("db.maxOpenConns", 10)

	v.SetDefault("journal.path", "squeaknode-journal.db")

	v.SetDefault("offerCache.backend", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("peerClient.requestsPerSecond", 20)
	v.SetDefault("peerClient.timeoutS", 10)

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.host", "127.0.0.1")
	v.SetDefault("status.port", 8995)
	v.SetDefault("status.username", "admin")
	v.SetDefault("status.passwordHash", "")
	v.SetDefault("status.tokenSecret", "")
	v.SetDefault("status.allowedOrigins", []string{"http://localhost:8995"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("ui.enabled", false)
}

// NewViper returns a viper instance with defaults and environment binding.
// A non-empty path is read as the config file.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "config.NewViper.ReadInConfig: ")
		}
	}
	applyBackendKeys(v)
	return v, nil
}

// backendKeys maps the per-backend option names (lnd.rpcHost, also nested as
// lightning.lnd.rpcHost) onto the flat lightning keys.
var backendKeys = map[string]string{
	"lnd.rpcHost":                  "lightning.lndRpcHost",
	"lnd.rpcPort":                  "lightning.lndRpcPort",
	"lnd.tlsCertPath":              "lightning.lndTlsCertPath",
	"lnd.macaroonPath":             "lightning.lndMacaroonPath",
	"clightning.rpcFile":           "lightning.clightningRpcFile",
	"lightning.lnd.rpcHost":        "lightning.lndRpcHost",
	"lightning.lnd.rpcPort":        "lightning.lndRpcPort",
	"lightning.lnd.tlsCertPath":    "lightning.lndTlsCertPath",
	"lightning.lnd.macaroonPath":   "lightning.lndMacaroonPath",
	"lightning.clightning.rpcFile": "lightning.clightningRpcFile",
}

// applyBackendKeys copies per-backend options onto their flat keys unless
// the config file sets the flat key itself.
func applyBackendKeys(v *viper.Viper) {
	for from, to := range backendKeys {
		if !v.IsSet(from) || v.InConfig(to) {
			continue
		}
		v.Set(to, v.Get(from))
	}
}

// ParseConfig unmarshals v into a validated Config.
func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "config.ParseConfig.Unmarshal: ")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads defaults, the optional config file and the environment.
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(v)
}

// Default returns the configuration with every default applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return &c
}

func (c *Config) Validate() error {
	switch c.Node.Network {
	case "mainnet", "testnet", "regtest", "simnet", "signet":
	default:
		return fmt.Errorf("invalid network: %s", c.Node.Network)
	}
	if c.Node.Username == "" {
		return fmt.Errorf("node.username is required")
	}
	if c.Node.PriceMsat < 0 {
		return fmt.Errorf("node.priceMsat must not be negative")
	}
	if c.Node.MaxSqueaks <= 0 || c.Node.MaxSqueaksPerPublicKeyPerBlock <= 0 {
		return fmt.Errorf("squeak limits must be positive")
	}
	for name, val := range map[string]int64{
		"node.squeakRetentionS":        c.Node.SqueakRetentionS,
		"node.sentOfferRetentionS":     c.Node.SentOfferRetentionS,
		"node.receivedOfferRetentionS": c.Node.ReceivedOfferRetentionS,
		"node.invoiceExpiryS":          c.Node.InvoiceExpiryS,
	} {
		if val < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	for name, val := range map[string]int64{
		"node.offerDeletionIntervalS":  c.Node.OfferDeletionIntervalS,
		"node.squeakDeletionIntervalS": c.Node.SqueakDeletionIntervalS,
		"node.subscribeInvoicesRetryS": c.Node.SubscribeInvoicesRetryS,
	} {
		if val <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	switch c.Lightning.Backend {
	case "lnd", "clightning":
	default:
		return fmt.Errorf("invalid lightning backend: %s (must be 'lnd' or 'clightning')", c.Lightning.Backend)
	}
	for name, port := range map[string]int{
		"bitcoin.rpcPort":        c.Bitcoin.RPCPort,
		"lightning.lndRpcPort":   c.Lightning.LNDRPCPort,
		"lightning.externalPort": c.Lightning.ExternalPort,
		"server.port":            c.Server.Port,
		"server.externalPort":    c.Server.ExternalPort,
		"tor.proxyPort":          c.Tor.ProxyPort,
		"status.port":            c.Status.Port,
	} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid %s: %d", name, port)
		}
	}
	if c.OfferCache.Backend != "memory" && c.OfferCache.Backend != "redis" {
		return fmt.Errorf("invalid offer cache backend: %s (must be 'memory' or 'redis')", c.OfferCache.Backend)
	}
	if c.OfferCache.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when offer cache backend is 'redis'")
	}
	if c.Status.Enabled && c.Status.TokenSecret == "" {
		return fmt.Errorf("status.tokenSecret is required when the status server is enabled")
	}
	return nil
}

// Dump renders the effective configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

func seconds(s int64) time.Duration { return time.Duration(s) * time.Second }

func (n NodeConfig) SqueakRetention() time.Duration { return seconds(n.SqueakRetentionS) }
func (n NodeConfig) OfferDeletionInterval() time.Duration {
	return seconds(n.OfferDeletionIntervalS)
}
func (n NodeConfig) SqueakDeletionInterval() time.Duration {
	return seconds(n.SqueakDeletionIntervalS)
}
func (n NodeConfig) SubscribeInvoicesRetry() time.Duration {
	return seconds(n.SubscribeInvoicesRetryS)
}
func (n NodeConfig) PeerDownloadInterval() time.Duration {
	return seconds(n.PeerDownloadIntervalS)
}

func (p PeerClientConfig) Timeout() time.Duration { return seconds(p.TimeoutS) }

// ListenAddr is the peer server bind address.
func (s ServerConfig) ListenAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

func (s StatusConfig) ListenAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// TorProxyAddr returns the SOCKS5 address, empty when tor is not configured.
func (t TorConfig) TorProxyAddr() string {
	if t.ProxyIP == "" || t.ProxyPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", t.ProxyIP, t.ProxyPort)
}
