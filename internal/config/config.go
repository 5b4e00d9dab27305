package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the fw24ctl configuration
type Config struct {
	Table  TableConfig
	Store  StoreConfig
	AWS    AWSConfig
	Log    LogConfig
	Schema SchemaConfig
}

// TableConfig represents the DynamoDB single-table layout
type TableConfig struct {
	Name          string
	ListIndex     string
	KeyDelimiter  string
	PaginationTTL time.Duration
}

// StoreConfig selects the persistence driver
type StoreConfig struct {
	Driver string // dynamodb or local
	Path   string // badger directory for the local driver; empty means in-memory
}

// AWSConfig represents the DynamoDB client configuration
type AWSConfig struct {
	Region   string
	Endpoint string // e.g. http://localhost:8000 for DynamoDB Local
}

type LogConfig struct {
	Level       string
	Development bool
}

type SchemaConfig struct {
	Path string // glob of entity schema YAML files
}

const (
	DriverDynamoDB = "dynamodb"
	DriverLocal    = "local"
)

// InitConfig initializes viper configuration
// env: environment name (dev, test, prod)
// paths: directories searched for .env.<env>; defaults to the working directory
func InitConfig(env string, paths ...string) error {
	if env == "" {
		env = "dev"
	}
	if len(paths) == 0 {
		paths = []string{"."}
	}

	viper.SetConfigName(fmt.Sprintf(".env.%s", env))
	viper.SetConfigType("env")
	for _, p := range paths {
		viper.AddConfigPath(p)
	}

	// Read config file (optional, ignore error if not found)
	_ = viper.ReadInConfig()

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	viper.SetDefault("TABLE_NAME", "fw24")
	viper.SetDefault("TABLE_LIST_INDEX", "list-index")
	viper.SetDefault("KEY_DELIMITER", "#")
	viper.SetDefault("PAGINATION_TTL", "24h")
	viper.SetDefault("STORE_DRIVER", DriverLocal)
	viper.SetDefault("STORE_PATH", "")
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("DYNAMODB_ENDPOINT", "")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_DEVELOPMENT", env == "dev")
	viper.SetDefault("SCHEMA_PATH", "schemas/*.yaml")

	return nil
}

// Load loads configuration from viper
func Load() (*Config, error) {
	driver := strings.ToLower(viper.GetString("STORE_DRIVER"))
	if driver != DriverDynamoDB && driver != DriverLocal {
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverDynamoDB, DriverLocal, driver)
	}

	tableName := viper.GetString("TABLE_NAME")
	if driver == DriverDynamoDB && tableName == "" {
		return nil, fmt.Errorf("TABLE_NAME is required for the dynamodb driver")
	}

	return &Config{
		Table: TableConfig{
			Name:          tableName,
			ListIndex:     viper.GetString("TABLE_LIST_INDEX"),
			KeyDelimiter:  viper.GetString("KEY_DELIMITER"),
			PaginationTTL: viper.GetDuration("PAGINATION_TTL"),
		},
		Store: StoreConfig{
			Driver: driver,
			Path:   viper.GetString("STORE_PATH"),
		},
		AWS: AWSConfig{
			Region:   viper.GetString("AWS_REGION"),
			Endpoint: viper.GetString("DYNAMODB_ENDPOINT"),
		},
		Log: LogConfig{
			Level:       viper.GetString("LOG_LEVEL"),
			Development: viper.GetBool("LOG_DEVELOPMENT"),
		},
		Schema: SchemaConfig{
			Path: viper.GetString("SCHEMA_PATH"),
		},
	}, nil
}
