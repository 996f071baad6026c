package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config é a configuração do coordenador.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Rental      RentalConfig      `yaml:"rental"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig guarda os registros de idempotência. Driver "memory" só para desenvolvimento.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres" ou "memory"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

type LedgerConfig struct {
	Driver      string        `yaml:"driver"` // "solana", "fabric" ou "memory"
	CallTimeout time.Duration `yaml:"call_timeout"`
	Solana      SolanaConfig  `yaml:"solana"`
	Fabric      FabricConfig  `yaml:"fabric"`
}

type SolanaConfig struct {
	RPCURL             string `yaml:"rpc_url"`
	ProgramID          string `yaml:"program_id"`
	FeePayerPrivateKey string `yaml:"fee_payer_private_key"`
	PaymentMint        string `yaml:"payment_mint"`
	Commitment         string `yaml:"commitment"`
}

type FabricConfig struct {
	PeerEndpoint string `yaml:"peer_endpoint"`
	GatewayPeer  string `yaml:"gateway_peer"`
	TLSCertPath  string `yaml:"tls_cert_path"`
	CertPath     string `yaml:"cert_path"`
	KeyPath      string `yaml:"key_path"`
	MSPID        string `yaml:"msp_id"`
	Channel      string `yaml:"channel"`
	Chaincode    string `yaml:"chaincode"`
}

// MarketplaceConfig aponta para a Integration API do Sharetribe.
type MarketplaceConfig struct {
	BaseURL      string        `yaml:"base_url"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type RentalConfig struct {
	// MinDuration zero desativa a política de duração mínima.
	MinDuration            time.Duration `yaml:"min_duration"`
	CompletionPollAttempts int           `yaml:"completion_poll_attempts"`
	CompletionPollInterval time.Duration `yaml:"completion_poll_interval"`
}

type ReconcilerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Schedule        string        `yaml:"schedule"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	InclusionWindow time.Duration `yaml:"inclusion_window"`
	BatchSize       int           `yaml:"batch_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load lê o YAML em configPath, aplica variáveis de ambiente e valida.
// Um caminho vazio usa apenas padrões e ambiente.
func Load(configPath string) (*Config, error) {
	var cfg Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("falha ao ler arquivo de configuração: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("falha ao interpretar arquivo de configuração: %w", err)
		}
	}

	cfg.overrideWithEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuração inválida: %w", err)
	}
	return &cfg, nil
}

func (c *Config) overrideWithEnv() {
	setString := func(dst *string, key string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(dst *int, key string) {
		if val := os.Getenv(key); val != "" {
			fmt.Sscanf(val, "%d", dst)
		}
	}

	setString(&c.Server.Host, "SERVER_HOST")
	setInt(&c.Server.Port, "SERVER_PORT")

	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.Host, "DB_HOST")
	setInt(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Database, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSL_MODE")

	setString(&c.Ledger.Driver, "LEDGER_DRIVER")
	setString(&c.Ledger.Solana.RPCURL, "SOLANA_RPC_URL")
	setString(&c.Ledger.Solana.ProgramID, "SOLANA_PROGRAM_ID")
	setString(&c.Ledger.Solana.FeePayerPrivateKey, "SOLANA_FEE_PAYER_PRIVATE_KEY")
	setString(&c.Ledger.Solana.PaymentMint, "SOLANA_PAYMENT_MINT")
	setString(&c.Ledger.Fabric.PeerEndpoint, "FABRIC_PEER_ENDPOINT")
	setString(&c.Ledger.Fabric.MSPID, "FABRIC_MSP_ID")
	setString(&c.Ledger.Fabric.CertPath, "FABRIC_CERT_PATH")
	setString(&c.Ledger.Fabric.KeyPath, "FABRIC_KEY_PATH")
	setString(&c.Ledger.Fabric.TLSCertPath, "FABRIC_TLS_CERT_PATH")

	setString(&c.Marketplace.BaseURL, "INTEGRATION_API_URL")
	setString(&c.Marketplace.ClientID, "INTEGRATION_API_ID")
	setString(&c.Marketplace.ClientSecret, "INTEGRATION_API_SECRET")

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "solana"
	}
	if c.Ledger.CallTimeout == 0 {
		c.Ledger.CallTimeout = 60 * time.Second
	}
	if c.Ledger.Solana.Commitment == "" {
		c.Ledger.Solana.Commitment = "confirmed"
	}
	if c.Marketplace.BaseURL == "" {
		c.Marketplace.BaseURL = "https://flex-integ-api.sharetribe.com"
	}
	if c.Marketplace.TokenURL == "" {
		c.Marketplace.TokenURL = strings.TrimRight(c.Marketplace.BaseURL, "/") + "/v1/auth/token"
	}
	if c.Marketplace.Timeout == 0 {
		c.Marketplace.Timeout = 10 * time.Second
	}
	if c.Marketplace.MaxAttempts == 0 {
		c.Marketplace.MaxAttempts = 3
	}
	if c.Rental.CompletionPollAttempts == 0 {
		c.Rental.CompletionPollAttempts = 5
	}
	if c.Rental.CompletionPollInterval == 0 {
		c.Rental.CompletionPollInterval = 2 * time.Second
	}
	if c.Reconciler.Schedule == "" {
		c.Reconciler.Schedule = "0 */1 * * * *" // a cada minuto
	}
	if c.Reconciler.StaleAfter == 0 {
		c.Reconciler.StaleAfter = 2 * time.Minute
	}
	if c.Reconciler.InclusionWindow == 0 {
		c.Reconciler.InclusionWindow = 15 * time.Minute
	}
	if c.Reconciler.BatchSize == 0 {
		c.Reconciler.BatchSize = 50
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate verifica se a configuração é utilizável.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("porta do servidor inválida: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("host do banco é obrigatório")
		}
		if c.Database.User == "" {
			return fmt.Errorf("usuário do banco é obrigatório")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("nome do banco é obrigatório")
		}
	case "memory":
	default:
		return fmt.Errorf("driver de banco desconhecido: %s", c.Database.Driver)
	}

	switch c.Ledger.Driver {
	case "solana":
		s := c.Ledger.Solana
		if s.RPCURL == "" || s.ProgramID == "" || s.FeePayerPrivateKey == "" {
			return fmt.Errorf("solana exige rpc_url, program_id e fee_payer_private_key")
		}
	case "fabric":
		f := c.Ledger.Fabric
		if f.PeerEndpoint == "" || f.MSPID == "" || f.CertPath == "" || f.KeyPath == "" {
			return fmt.Errorf("fabric exige peer_endpoint, msp_id, cert_path e key_path")
		}
		if f.Channel == "" || f.Chaincode == "" {
			return fmt.Errorf("fabric exige channel e chaincode")
		}
	case "memory":
	default:
		return fmt.Errorf("driver de ledger desconhecido: %s", c.Ledger.Driver)
	}

	if c.Marketplace.ClientID == "" || c.Marketplace.ClientSecret == "" {
		return fmt.Errorf("INTEGRATION_API_ID e INTEGRATION_API_SECRET são obrigatórios")
	}
	if c.Marketplace.MaxAttempts < 1 || c.Marketplace.MaxAttempts > 3 {
		return fmt.Errorf("marketplace.max_attempts deve estar entre 1 e 3: %d", c.Marketplace.MaxAttempts)
	}
	if c.Rental.CompletionPollAttempts < 1 {
		return fmt.Errorf("rental.completion_poll_attempts deve ser positivo")
	}
	return nil
}

// GetDatabaseConnectionString monta a DSN do PostgreSQL.
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress devolve host:porta do servidor HTTP.
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
