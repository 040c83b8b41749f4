// config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config is built once at startup and passed to constructors.
type Config struct {
	AppEnv   string
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Security SecurityConfig
	Pin      PinConfig
	Chains   ChainsConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	URL        string
	MaxConns   int32
	MinConns   int32
	MaxRetries int
}

type RedisConfig struct {
	Enabled    bool
	Addrs      []string
	Password   string
	DB         int
	UseCluster bool
}

type SecurityConfig struct {
	VaultProvider string // "env" or "file"
	FileVaultDir  string
	FileVaultKey  string
	JWTSecret     string
	JWTIssuer     string
	PinHashCost   int
}

type PinConfig struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	GrantTTL        time.Duration
}

type EVMChainConfig struct {
	Enabled       bool
	Network       string
	RPCURL        string
	ChainID       int64
	MaxGasPrice   int64 // in Gwei
	Confirmations int64
}

type TronConfig struct {
	Enabled     bool
	APIKey      string
	Network     string
	HTTPUrl     string
	GRPCUrl     string
	FeeLimitSun int64
}

type BitcoinConfig struct {
	Enabled       bool
	Network       string // mainnet, testnet, regtest
	APIURL        string
	FeeURL        string
	RPCURL        string
	APIKey        string
	Confirmations int64
}

type ChainsConfig struct {
	RPCTimeout time.Duration
	Ethereum   EVMChainConfig
	BSC        EVMChainConfig
	Polygon    EVMChainConfig
	Tron       TronConfig
	Bitcoin    BitcoinConfig
}

type WorkerConfig struct {
	Enabled              bool
	ConfirmationSchedule string
	BatchSize            int
}

func Load(logger *zap.Logger) (*Config, error) {
	// ============================================================================
	// TRON Configuration
	// ============================================================================
	tronNetwork := getEnv("TRON_NETWORK", "shasta")

	var tronHTTPUrl, tronGRPCUrl string
	switch tronNetwork {
	case "mainnet":
		tronHTTPUrl = "https://api.trongrid.io"
		tronGRPCUrl = "grpc.trongrid.io:50051"
	case "shasta":
		tronHTTPUrl = "https://api.shasta.trongrid.io"
		tronGRPCUrl = "grpc.shasta.trongrid.io:50051"
	case "nile":
		tronHTTPUrl = "https://api.nile.trongrid.io"
		tronGRPCUrl = "grpc.nile.trongrid.io:50051"
	}
	tronHTTPUrl = getEnv("TRON_HTTP_URL", tronHTTPUrl)
	tronGRPCUrl = getEnv("TRON_GRPC_URL", tronGRPCUrl)

	// ============================================================================
	// Bitcoin Configuration
	// ============================================================================
	btcNetwork := getEnv("BTC_NETWORK", "testnet")
	btcAPIURL := getEnv("BTC_API_URL", "")

	// Use default public endpoints if not specified
	if btcAPIURL == "" {
		switch btcNetwork {
		case "mainnet":
			btcAPIURL = "https://blockstream.info/api"
		case "testnet":
			btcAPIURL = "https://blockstream.info/testnet/api"
		}
	}
	btcFeeURL := getEnv("BTC_FEE_URL", "")
	if btcFeeURL == "" {
		switch btcNetwork {
		case "mainnet":
			btcFeeURL = "https://mempool.space/api/v1/fees/recommended"
		case "testnet":
			btcFeeURL = "https://mempool.space/testnet/api/v1/fees/recommended"
		}
	}

	// ============================================================================
	// EVM Configuration
	// ============================================================================
	ethereum := loadEVM("ETHEREUM", "sepolia", 12, map[string]evmNetwork{
		"mainnet": {chainID: 1, rpcURL: "https://ethereum-rpc.publicnode.com"},
		"sepolia": {chainID: 11155111, rpcURL: "https://ethereum-sepolia-rpc.publicnode.com"},
	})
	bsc := loadEVM("BSC", "testnet", 15, map[string]evmNetwork{
		"mainnet": {chainID: 56, rpcURL: "https://bsc-dataseed.bnbchain.org"},
		"testnet": {chainID: 97, rpcURL: "https://data-seed-prebsc-1-s1.bnbchain.org:8545"},
	})
	polygon := loadEVM("POLYGON", "amoy", 64, map[string]evmNetwork{
		"mainnet": {chainID: 137, rpcURL: "https://polygon-rpc.com"},
		"amoy":    {chainID: 80002, rpcURL: "https://rpc-amoy.polygon.technology"},
	})

	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			URL:        databaseURL(),
			MaxConns:   int32(getEnvAsInt64("DB_MAX_CONNS", 20)),
			MinConns:   int32(getEnvAsInt64("DB_MIN_CONNS", 2)),
			MaxRetries: int(getEnvAsInt64("DB_MAX_RETRIES", 5)),
		},
		Redis: RedisConfig{
			Enabled:    getEnvAsBool("REDIS_ENABLED", true),
			Addrs:      getEnvAsList("REDIS_ADDRS", []string{"localhost:6379"}),
			Password:   os.Getenv("REDIS_PASSWORD"),
			DB:         int(getEnvAsInt64("REDIS_DB", 0)),
			UseCluster: getEnvAsBool("REDIS_CLUSTER", false),
		},
		Security: SecurityConfig{
			VaultProvider: getEnv("VAULT_PROVIDER", "env"),
			FileVaultDir:  getEnv("FILE_VAULT_DIR", "./vault"),
			FileVaultKey:  os.Getenv("FILE_VAULT_KEY"),
			JWTSecret:     os.Getenv("JWT_SECRET"),
			JWTIssuer:     getEnv("JWT_ISSUER", ""),
			PinHashCost:   int(getEnvAsInt64("PIN_HASH_COST", 12)),
		},
		Pin: PinConfig{
			MaxAttempts:     int(getEnvAsInt64("PIN_MAX_ATTEMPTS", 10)),
			LockoutDuration: getEnvAsDuration("PIN_LOCKOUT_DURATION", 24*time.Hour),
			GrantTTL:        getEnvAsDuration("PIN_GRANT_TTL", 5*time.Minute),
		},
		Chains: ChainsConfig{
			RPCTimeout: getEnvAsDuration("CHAIN_RPC_TIMEOUT", 20*time.Second),
			Ethereum:   ethereum,
			BSC:        bsc,
			Polygon:    polygon,
			Tron: TronConfig{
				Enabled:     getEnvAsBool("TRON_ENABLED", true),
				APIKey:      getEnv("TRON_API_KEY", ""),
				Network:     tronNetwork,
				HTTPUrl:     tronHTTPUrl,
				GRPCUrl:     tronGRPCUrl,
				FeeLimitSun: getEnvAsInt64("TRON_FEE_LIMIT_SUN", 100_000_000),
			},
			Bitcoin: BitcoinConfig{
				Enabled:       getEnvAsBool("BTC_ENABLED", true),
				Network:       btcNetwork,
				APIURL:        btcAPIURL,
				FeeURL:        btcFeeURL,
				RPCURL:        getEnv("BTC_RPC_URL", ""),
				APIKey:        getEnv("BTC_API_KEY", ""),
				Confirmations: getEnvAsInt64("BTC_CONFIRMATIONS", 1),
			},
		},
		Worker: WorkerConfig{
			Enabled:              getEnvAsBool("CONFIRMATION_WORKER_ENABLED", true),
			ConfirmationSchedule: getEnv("CONFIRMATION_SCHEDULE", "@every 30s"),
			BatchSize:            int(getEnvAsInt64("CONFIRMATION_BATCH_SIZE", 50)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("app_env", cfg.AppEnv),
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("ethereum", cfg.Chains.Ethereum.Enabled),
		zap.Bool("bsc", cfg.Chains.BSC.Enabled),
		zap.Bool("polygon", cfg.Chains.Polygon.Enabled),
		zap.Bool("tron", cfg.Chains.Tron.Enabled),
		zap.String("tron_network", tronNetwork),
		zap.Bool("bitcoin", cfg.Chains.Bitcoin.Enabled),
		zap.String("btc_network", btcNetwork))

	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Pin.MaxAttempts <= 0 {
		errs = append(errs, errors.New("PIN_MAX_ATTEMPTS must be positive"))
	}
	if c.Pin.LockoutDuration <= 0 {
		errs = append(errs, errors.New("PIN_LOCKOUT_DURATION must be positive"))
	}
	if c.Pin.GrantTTL <= 0 {
		errs = append(errs, errors.New("PIN_GRANT_TTL must be positive"))
	}
	if c.Chains.RPCTimeout <= 0 {
		errs = append(errs, errors.New("CHAIN_RPC_TIMEOUT must be positive"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL or DB_* settings are required"))
	}
	switch c.Security.VaultProvider {
	case "env":
	case "file":
		if c.Security.FileVaultKey == "" {
			errs = append(errs, errors.New("FILE_VAULT_KEY is required for the file vault"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported VAULT_PROVIDER %q", c.Security.VaultProvider))
	}
	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Redis.Enabled && len(c.Redis.Addrs) == 0 {
		errs = append(errs, errors.New("REDIS_ADDRS is required when redis is enabled"))
	}
	if c.Chains.Tron.Enabled && (c.Chains.Tron.GRPCUrl == "" || c.Chains.Tron.HTTPUrl == "") {
		errs = append(errs, fmt.Errorf("no TronGrid endpoints for network %q", c.Chains.Tron.Network))
	}
	if c.Chains.Bitcoin.Enabled && c.Chains.Bitcoin.APIURL == "" {
		errs = append(errs, fmt.Errorf("BTC_API_URL is required for network %q", c.Chains.Bitcoin.Network))
	}
	for name, evm := range map[string]EVMChainConfig{
		"ETHEREUM": c.Chains.Ethereum,
		"BSC":      c.Chains.BSC,
		"POLYGON":  c.Chains.Polygon,
	} {
		if evm.Enabled && evm.RPCURL == "" {
			errs = append(errs, fmt.Errorf("%s_RPC_URL is required", name))
		}
	}

	return errors.Join(errs...)
}

type evmNetwork struct {
	chainID int64
	rpcURL  string
}

func loadEVM(prefix, defaultNetwork string, confirmations int64, networks map[string]evmNetwork) EVMChainConfig {
	network := getEnv(prefix+"_NETWORK", defaultNetwork)
	known := networks[network]

	return EVMChainConfig{
		Enabled:       getEnvAsBool(prefix+"_ENABLED", true),
		Network:       network,
		RPCURL:        getEnv(prefix+"_RPC_URL", known.rpcURL),
		ChainID:       getEnvAsInt64(prefix+"_CHAIN_ID", known.chainID),
		MaxGasPrice:   getEnvAsInt64(prefix+"_MAX_GAS_PRICE", 100),
		Confirmations: getEnvAsInt64(prefix+"_CONFIRMATIONS", confirmations),
	}
}

func databaseURL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD")),
		Host:     host + ":" + getEnv("DB_PORT", "5432"),
		Path:     os.Getenv("DB_NAME"),
		RawQuery: "sslmode=" + getEnv("DB_SSLMODE", "disable"),
	}
	return u.String()
}

// ============================================================================
// Helper Functions
// ============================================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
