// Package config loads process configuration from the environment, with an
// optional AWS Secrets Manager overlay for sensitive fields.
package config

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AppConfig is the root configuration, composed of per-concern sub-configs.
type AppConfig struct {
	Binance   BinanceConfig
	CoinGecko CoinGeckoConfig
	Database  DatabaseConfig
	Ingestion IngestionConfig
	AWS       AWSConfig
}

type BinanceConfig struct {
	APIURL    string
	APIKey    string
	APISecret string
}

type CoinGeckoConfig struct {
	APIURL string
}

type DatabaseConfig struct {
	DSN string
}

// IngestionConfig carries every tunable named in the external-interfaces
// section: default universe fallback, batching/backoff knobs, and
// qualification thresholds.
type IngestionConfig struct {
	DefaultSymbols        []string
	DefaultTimeframe      string
	SymbolLimit           int
	MarketDataLimit       int
	CoinGeckoMinMarketCap float64
	CoinGeckoMinVolume24h float64

	WSBatchSize         int
	WSBatchTimeout      time.Duration
	WSMaxReconnectDelay time.Duration
	WSPingInterval      time.Duration
	WSPingTimeout       time.Duration
	DBBatchSize         int
}

type AWSConfig struct {
	Region          string
	EventBusQueURL  string
	SecretName      string
}

// awsSecretData is the JSON shape of the Secrets Manager payload this
// process expects; any field left unset by the secret is ignored.
type awsSecretData struct {
	DBHost     string `json:"DB_HOST"`
	DBPort     string `json:"DB_PORT"`
	DBUser     string `json:"DB_USER"`
	DBPassword string `json:"DB_PASSWORD"`
	DBName     string `json:"DB_NAME"`
	BinanceKey string `json:"BINANCE_API_KEY"`
	BinanceSec string `json:"BINANCE_SECRET_KEY"`
}

func LoadConfig() *AppConfig {
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "postgres")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbName := getEnv("DB_NAME", "trading")

	cfg := &AppConfig{
		Binance: BinanceConfig{
			APIURL:    getEnv("BINANCE_API_URL", "https://fapi.binance.com"),
			APIKey:    getEnv("BINANCE_API_KEY", ""),
			APISecret: getEnv("BINANCE_API_SECRET", ""),
		},
		CoinGecko: CoinGeckoConfig{
			APIURL: getEnv("COINGECKO_API_URL", "https://api.coingecko.com/api/v3"),
		},
		Ingestion: IngestionConfig{
			DefaultSymbols:        splitCSV(getEnv("DEFAULT_SYMBOLS", "BTCUSDT,ETHUSDT,SOLUSDT")),
			DefaultTimeframe:      getEnv("DEFAULT_TIMEFRAME", "15m"),
			SymbolLimit:           getEnvAsInt("SYMBOL_LIMIT", 1500),
			MarketDataLimit:       getEnvAsInt("MARKET_DATA_LIMIT", 250),
			CoinGeckoMinMarketCap: getEnvAsFloat("COINGECKO_MIN_MARKET_CAP", 0),
			CoinGeckoMinVolume24h: getEnvAsFloat("COINGECKO_MIN_VOLUME_24H", 0),
			WSBatchSize:           getEnvAsInt("WS_BATCH_SIZE", 100),
			WSBatchTimeout:        getEnvAsDuration("WS_BATCH_TIMEOUT", 2*time.Second),
			WSMaxReconnectDelay:   getEnvAsDuration("WS_MAX_RECONNECT_DELAY", 60*time.Second),
			WSPingInterval:        getEnvAsDuration("WS_PING_INTERVAL", 20*time.Second),
			WSPingTimeout:         getEnvAsDuration("WS_PING_TIMEOUT", 10*time.Second),
			DBBatchSize:           getEnvAsInt("DB_BATCH_SIZE", 500),
		},
		AWS: AWSConfig{
			Region:         getEnv("AWS_REGION", "us-east-1"),
			EventBusQueURL: getEnv("EVENT_BUS_QUEUE_URL", ""),
			SecretName:     getEnv("AWS_SECRET_NAME", ""),
		},
	}

	if cfg.AWS.SecretName != "" {
		secrets := fetchAwsSecrets(cfg.AWS.SecretName)
		if secrets.DBHost != "" {
			dbHost = secrets.DBHost
		}
		if secrets.DBPort != "" {
			dbPort = secrets.DBPort
		}
		if secrets.DBUser != "" {
			dbUser = secrets.DBUser
		}
		if secrets.DBPassword != "" {
			dbPassword = secrets.DBPassword
		}
		if secrets.DBName != "" {
			dbName = secrets.DBName
		}
		if secrets.BinanceKey != "" {
			cfg.Binance.APIKey = secrets.BinanceKey
		}
		if secrets.BinanceSec != "" {
			cfg.Binance.APISecret = secrets.BinanceSec
		}
	} else {
		log.Println("Warning: AWS_SECRET_NAME not set. Using environment variables only.")
	}

	cfg.Database.DSN = "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName

	return cfg
}

func fetchAwsSecrets(secretName string) awsSecretData {
	awsCfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("Unable to load SDK config: %v", err)
	}

	svc := secretsmanager.NewFromConfig(awsCfg)

	result, err := svc.GetSecretValue(context.TODO(), &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		log.Fatalf("Failed to retrieve secret '%s': %v", secretName, err)
	}

	var secretData awsSecretData
	if result.SecretString != nil {
		if err := json.Unmarshal([]byte(*result.SecretString), &secretData); err != nil {
			log.Fatalf("Failed to unmarshal secret JSON: %v", err)
		}
	}

	return secretData
}

func splitCSV(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if secs, err := strconv.Atoi(valueStr); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
