package config

import (
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"strings"
	"time"

	"github.com/joho/godotenv" // For loading .env files
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Config holds the application configuration
type Config struct {
	AppPort    string // Application port
	DBUser     string // Database user
	DBPassword string // Database password
	DBHost     string // Database host
	DBPort     string // Database port
	DBName     string // Database name
	JWTSecret  string // JWT secret key
	RedisAddr  string // Redis server address
	RedisPass  string // Redis password
	RedisDB    int    // Redis database number
	IsProd     bool   // Is production environment

	Network        string // Chain network tag expected in signed intents
	TreasuryWallet string // Deposit destination watched on chain
	TokenMint      string // Premium-currency token mint
	ChainRPCURL    string // Parsing sidecar base URL
	CustodialURL   string // Signer sidecar base URL; empty selects the in-memory fake
	UnlockHash     string // bcrypt hash of the custodial unlock shared secret

	MinDeposit          int64           // Pebbles
	MinWithdrawal       int64           // Pebbles
	RakeBps             int64           // Withdrawal rake in basis points
	ChainUnitsPerPebble decimal.Decimal // Conversion to smallest on-chain units
	LiquidityBuffer     decimal.Decimal // Safety margin kept in the custodial wallet, chain units

	RateLimit       int           // Verification calls per identity per window
	RateWindow      time.Duration // Rate limit window
	SweepInterval   time.Duration // Withdrawal queue drain period
	SweepBatch      int           // Max withdrawals per sweep
	KafkaBrokers    []string      // Operational event brokers; empty disables publishing
}

// LoadConfig loads configuration from environment variables. Missing
// required values are fatal: the bridge fails closed rather than run
// misconfigured.
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))

	cfg := &Config{
		AppPort:    getEnv("APP_PORT", "8080"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBName:     os.Getenv("DB_NAME"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		RedisAddr:  getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:  os.Getenv("REDIS_PASS"),
		RedisDB:    redisDB,
		IsProd:     os.Getenv("IS_PROD") == "true",

		Network:        getEnv("CHAIN_NETWORK", "mainnet"),
		TreasuryWallet: os.Getenv("TREASURY_WALLET"),
		TokenMint:      os.Getenv("TOKEN_MINT"),
		ChainRPCURL:    os.Getenv("CHAIN_RPC_URL"),
		CustodialURL:   os.Getenv("CUSTODIAL_URL"),
		UnlockHash:     os.Getenv("CUSTODIAL_UNLOCK_HASH"),

		MinDeposit:          getEnvInt64("MIN_DEPOSIT", 100),
		MinWithdrawal:       getEnvInt64("MIN_WITHDRAWAL", 1000),
		RakeBps:             getEnvInt64("RAKE_BPS", 500),
		ChainUnitsPerPebble: getEnvDecimal("CHAIN_UNITS_PER_PEBBLE", "1000"),
		LiquidityBuffer:     getEnvDecimal("LIQUIDITY_BUFFER", "100000"),

		RateLimit:     int(getEnvInt64("RATE_LIMIT", 10)),
		RateWindow:    time.Duration(getEnvInt64("RATE_WINDOW_SECONDS", 60)) * time.Second,
		SweepInterval: time.Duration(getEnvInt64("SWEEP_INTERVAL_SECONDS", 30)) * time.Second,
		SweepBatch:    int(getEnvInt64("SWEEP_BATCH", 10)),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	// CONFIG_ERROR: required external configuration fails closed.
	for name, val := range map[string]string{
		"DB_USER":         cfg.DBUser,
		"DB_PASSWORD":     cfg.DBPassword,
		"DB_NAME":         cfg.DBName,
		"JWT_SECRET":      cfg.JWTSecret,
		"TREASURY_WALLET": cfg.TreasuryWallet,
		"TOKEN_MINT":      cfg.TokenMint,
		"CHAIN_RPC_URL":   cfg.ChainRPCURL,
	} {
		if val == "" {
			logrus.Fatalf("CONFIG_ERROR: %s is required", name)
		}
	}
	return cfg
}

// DSN builds the MySQL connection string.
func (c *Config) DSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?parseTime=true"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logrus.Fatalf("CONFIG_ERROR: %s must be an integer", key)
	}
	return n
}

func getEnvDecimal(key, def string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		logrus.Fatalf("CONFIG_ERROR: %s must be a decimal", key)
	}
	return d
}

