package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// FileConfig models the optional JSON settings file (config.json).
type FileConfig struct {
	Chain struct {
		RPCURL        string `json:"rpcUrl"`
		ReceiptPollMs int    `json:"receiptPollMs"`
	} `json:"chain"`
	Contract struct {
		ArtifactPath string            `json:"artifactPath"`
		Deployments  map[string]string `json:"deployments"`
	} `json:"contract"`
	Service struct {
		HTTPPort              int    `json:"httpPort"`
		HMACSecret            string `json:"hmacSecret"`
		HMACSignatureHeader   string `json:"hmacSignatureHeader"`
		HMACTimestampHeader   string `json:"hmacTimestampHeader"`
		IdempotencyWindowSecs int    `json:"idempotencyWindowSeconds"`
		IdempotencyStorePath  string `json:"idempotencyStorePath"`
	} `json:"service"`
	Log struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
}

// AppConfig is the resolved configuration: file values overridden by the
// environment.
type AppConfig struct {
	Chain    ChainConfig
	Contract ContractConfig
	Service  ServiceConfig
	Log      LogConfig
}

type ChainConfig struct {
	RPCURL              string
	PrivateKeys         []string
	KeystoreDir         string
	KeystorePassphrase  string
	ReceiptPollInterval time.Duration
}

// HasWallet reports whether any signer source is configured.
func (c ChainConfig) HasWallet() bool {
	return len(c.PrivateKeys) > 0 || c.KeystoreDir != ""
}

type ContractConfig struct {
	ArtifactPath string
	// Deployments maps network id -> contract address, overlaying the artifact.
	Deployments map[string]string
}

type ServiceConfig struct {
	HTTPPort             int
	HMACSecret string
	// Header names for request signing; empty means the hmacauth defaults.
	HMACSignatureHeader string
	HMACTimestampHeader string
	HMACClockSkew       time.Duration
	IdempotencyWindow   time.Duration
	// IdempotencyStorePath selects the file store; empty keeps records in memory
	// unless PostgresDSN is set.
	IdempotencyStorePath string
	PostgresDSN          string
	Demo                 bool
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	defaultConfigPath = "config.json"
	defaultRPCURL     = "http://127.0.0.1:7545"
)

// Load aggregates configuration from .env, the settings file and environment.
func Load() (*AppConfig, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load(envOr("DOTENV_PATH", ".env"))

	file, err := loadFile(envOr("CONFIG_PATH", defaultConfigPath))
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}

	deployments, err := parseDeployments(os.Getenv("MORTGAGE_DEPLOYMENTS"))
	if err != nil {
		return nil, err
	}
	for id, addr := range file.Contract.Deployments {
		if _, ok := deployments[id]; !ok {
			deployments[id] = addr
		}
	}

	rpcURL := file.Chain.RPCURL
	if rpcURL == "" {
		rpcURL = defaultRPCURL
	}
	pollMs := file.Chain.ReceiptPollMs
	if pollMs <= 0 {
		pollMs = 1000
	}
	port := file.Service.HTTPPort
	if port == 0 {
		port = 3000
	}
	window := file.Service.IdempotencyWindowSecs
	if window <= 0 {
		window = 600
	}
	level := file.Log.Level
	if level == "" {
		level = "info"
	}
	format := file.Log.Format
	if format == "" {
		format = "text"
	}

	return &AppConfig{
		Chain: ChainConfig{
			RPCURL:              envOr("CHAIN_RPC_URL", rpcURL),
			PrivateKeys:         splitList(os.Getenv("CHAIN_PRIVATE_KEY")),
			KeystoreDir:         envOr("KEYSTORE_DIR", ""),
			KeystorePassphrase:  envOr("KEYSTORE_PASSPHRASE", ""),
			ReceiptPollInterval: time.Duration(envOrInt("RECEIPT_POLL_MS", pollMs)) * time.Millisecond,
		},
		Contract: ContractConfig{
			ArtifactPath: envOr("ARTIFACT_PATH", file.Contract.ArtifactPath),
			Deployments:  deployments,
		},
		Service: ServiceConfig{
			HTTPPort:             envOrInt("API_HTTP_PORT", port),
			HMACSecret:           envOr("API_HMAC_SECRET", file.Service.HMACSecret),
			HMACSignatureHeader:  envOr("HMAC_SIGNATURE_HEADER", file.Service.HMACSignatureHeader),
			HMACTimestampHeader:  envOr("HMAC_TIMESTAMP_HEADER", file.Service.HMACTimestampHeader),
			HMACClockSkew:        time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			IdempotencyWindow:    time.Duration(envOrInt("IDEMPOTENCY_WINDOW_SECONDS", window)) * time.Second,
			IdempotencyStorePath: envOr("IDEMPOTENCY_STORE_PATH", file.Service.IdempotencyStorePath),
			PostgresDSN:          envOr("POSTGRES_DSN", ""),
			Demo:                 envOrBool("DEMO_MODE", false),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", level),
			Format: envOr("LOG_FORMAT", format),
		},
	}, nil
}

func loadFile(path string) (*FileConfig, error) {
	var cfg FileConfig
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseDeployments reads "5777=0xabc,1337=0xdef".
func parseDeployments(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, entry := range splitList(raw) {
		id, addr, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(addr) == "" {
			return nil, fmt.Errorf("invalid MORTGAGE_DEPLOYMENTS entry %q", entry)
		}
		out[strings.TrimSpace(id)] = strings.TrimSpace(addr)
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}
