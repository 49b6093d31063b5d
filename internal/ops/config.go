package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/schema"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Gateway     GatewayConfig   `json:"gateway"`
	Stream      StreamConfig    `json:"stream"`
	Orders      OrdersConfig    `json:"orders"`
	Instruments []string        `json:"instruments"`
	Journal     JournalConfig   `json:"journal"`
	Profiling   ProfilingConfig `json:"profiling"`
}

// GatewayConfig describes the desktop gateway TCP endpoint.
type GatewayConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ClientID       int    `json:"clientId"`
	DialTimeoutSec int    `json:"dialTimeoutSec"`
}

// StreamConfig describes the streaming broker HTTPS endpoint.
// The API key is read from the environment variable named by ApiKeyEnv,
// never from the file itself.
type StreamConfig struct {
	BaseURL   string `json:"baseUrl"`
	AccountID string `json:"accountId"`
	ApiKeyEnv string `json:"apiKeyEnv"`
}

// OrdersConfig describes the order submission endpoint. When BaseURL is
// empty the stream endpoint settings are reused.
type OrdersConfig struct {
	BaseURL   string `json:"baseUrl"`
	AccountID string `json:"accountId"`
	ApiKeyEnv string `json:"apiKeyEnv"`
}

// JournalConfig describes the optional PostgreSQL order journal.
type JournalConfig struct {
	Enabled     bool   `json:"enabled"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	PasswordEnv string `json:"passwordEnv"`
	Database    string `json:"database"`
	SSLMode     string `json:"sslMode"`
}

// ProfilingConfig captures optional continuous profiling settings.
type ProfilingConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
	AppName       string `json:"appName"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Gateway     GatewaySpec
	Stream      StreamSpec
	Orders      StreamSpec
	Instruments []schema.Instrument
	Journal     JournalConfig
	Profiling   ProfilingConfig
}

// GatewaySpec is the resolved desktop gateway endpoint.
type GatewaySpec struct {
	Host        string
	Port        int
	ClientID    int
	DialTimeout time.Duration
}

// StreamSpec is the resolved streaming endpoint with its API key pulled
// from the environment.
type StreamSpec struct {
	BaseURL   string
	AccountID string
	APIKey    string
}

// Load reads a JSON config file and resolves endpoints, instruments and
// secrets.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	gateway, err := resolveGateway(cfg.Gateway)
	if err != nil {
		return Loaded{}, err
	}
	stream, err := resolveStream(cfg.Stream)
	if err != nil {
		return Loaded{}, err
	}
	orders, err := resolveOrders(cfg.Orders, stream)
	if err != nil {
		return Loaded{}, err
	}
	instruments, err := parseInstruments(cfg.Instruments)
	if err != nil {
		return Loaded{}, err
	}
	if err := validateJournal(cfg.Journal); err != nil {
		return Loaded{}, err
	}
	return Loaded{
		Gateway:     gateway,
		Stream:      stream,
		Orders:      orders,
		Instruments: instruments,
		Journal:     cfg.Journal,
		Profiling:   cfg.Profiling,
	}, nil
}

// JournalPassword resolves the journal database password from the
// environment variable named in the config.
func (l Loaded) JournalPassword() string {
	if l.Journal.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(l.Journal.PasswordEnv)
}

func resolveGateway(cfg GatewayConfig) (GatewaySpec, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port <= 0 {
		return GatewaySpec{}, fmt.Errorf("gateway port must be > 0")
	}
	timeout := time.Duration(cfg.DialTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return GatewaySpec{
		Host:        cfg.Host,
		Port:        cfg.Port,
		ClientID:    cfg.ClientID,
		DialTimeout: timeout,
	}, nil
}

func resolveStream(cfg StreamConfig) (StreamSpec, error) {
	if cfg.AccountID == "" {
		return StreamSpec{}, fmt.Errorf("stream accountId is empty")
	}
	if cfg.ApiKeyEnv == "" {
		return StreamSpec{}, fmt.Errorf("stream apiKeyEnv is empty")
	}
	key := os.Getenv(cfg.ApiKeyEnv)
	if key == "" {
		return StreamSpec{}, fmt.Errorf("environment variable %s is not set", cfg.ApiKeyEnv)
	}
	return StreamSpec{
		BaseURL:   cfg.BaseURL,
		AccountID: cfg.AccountID,
		APIKey:    key,
	}, nil
}

func resolveOrders(cfg OrdersConfig, stream StreamSpec) (StreamSpec, error) {
	if cfg.BaseURL == "" && cfg.AccountID == "" && cfg.ApiKeyEnv == "" {
		return stream, nil
	}
	resolved := StreamSpec{
		BaseURL:   cfg.BaseURL,
		AccountID: cfg.AccountID,
		APIKey:    stream.APIKey,
	}
	if resolved.AccountID == "" {
		resolved.AccountID = stream.AccountID
	}
	if cfg.ApiKeyEnv != "" {
		key := os.Getenv(cfg.ApiKeyEnv)
		if key == "" {
			return StreamSpec{}, fmt.Errorf("environment variable %s is not set", cfg.ApiKeyEnv)
		}
		resolved.APIKey = key
	}
	return resolved, nil
}

func parseInstruments(pairs []string) ([]schema.Instrument, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("instruments list is empty")
	}
	out := make([]schema.Instrument, 0, len(pairs))
	seen := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		ins, err := schema.ParsePair(pair)
		if err != nil {
			return nil, fmt.Errorf("invalid instrument %q: %w", pair, err)
		}
		if _, ok := seen[ins.Pair()]; ok {
			return nil, fmt.Errorf("duplicate instrument %q", pair)
		}
		seen[ins.Pair()] = struct{}{}
		out = append(out, ins)
	}
	return out, nil
}

func validateJournal(cfg JournalConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Database == "" {
		return fmt.Errorf("journal database is empty")
	}
	if cfg.User == "" {
		return fmt.Errorf("journal user is empty")
	}
	return nil
}
