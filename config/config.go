package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ServiceBus ServiceBusConfig
	NewRelic   NewRelicConfig
	Broadcast  BroadcastConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port int
	Mode string // debug, release, test
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ServiceBusConfig holds the Azure Service Bus configuration
type ServiceBusConfig struct {
	ConnectionString string
	SampleQueueName  string
	AlertQueueName   string
}

// NewRelicConfig holds the New Relic configuration
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// BroadcastConfig holds the tuning knobs for the broadcast pipeline
type BroadcastConfig struct {
	MovingInterval  time.Duration
	StoppedInterval time.Duration
	ParkedInterval  time.Duration
	Workers         int
	QueueSize       int
	ResolverTTL     time.Duration
}

// InitConfig initializes the configuration using Viper
func InitConfig(cfgFile string) error {
	setDefaults()

	// Use config file from the flag if provided
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/telemetry-service")
		viper.SetConfigName("config")
	}

	// Enable automatic environment variable binding, e.g.
	// FLEETWATCH_SERVER_PORT overrides server.port
	viper.SetEnvPrefix("FLEETWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("No config file found, using defaults and environment variables")
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8094)
	viper.SetDefault("server.mode", "debug")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "telemetry")
	viper.SetDefault("database.password", "telemetry")
	viper.SetDefault("database.dbname", "telemetry_service_db")
	viper.SetDefault("database.sslmode", "disable")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Service Bus defaults - no default connection string for security
	viper.SetDefault("servicebus.samplequeuename", "device-samples")
	viper.SetDefault("servicebus.alertqueuename", "device-alerts")

	// New Relic defaults
	viper.SetDefault("newrelic.appname", "Telemetry Service Local")
	viper.SetDefault("newrelic.enabled", false)

	// Broadcast defaults: moving vehicles refresh often, parked ones barely
	viper.SetDefault("broadcast.movinginterval", "30s")
	viper.SetDefault("broadcast.stoppedinterval", "120s")
	viper.SetDefault("broadcast.parkedinterval", "600s")
	viper.SetDefault("broadcast.workers", 0) // 0 = derive from CPU count
	viper.SetDefault("broadcast.queuesize", 10000)
	viper.SetDefault("broadcast.resolverttl", "24h")
}

// Load loads the configuration
func Load() (*Config, error) {
	serverConfig := ServerConfig{
		Port: viper.GetInt("server.port"),
		Mode: viper.GetString("server.mode"),
	}

	dbConfig := DatabaseConfig{
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.dbname"),
		SSLMode:  viper.GetString("database.sslmode"),
	}

	redisConfig := RedisConfig{
		Host:     viper.GetString("redis.host"),
		Port:     viper.GetInt("redis.port"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	}

	serviceBusConfig := ServiceBusConfig{
		ConnectionString: viper.GetString("servicebus.connectionstring"),
		SampleQueueName:  viper.GetString("servicebus.samplequeuename"),
		AlertQueueName:   viper.GetString("servicebus.alertqueuename"),
	}

	newRelicConfig := NewRelicConfig{
		AppName:    viper.GetString("newrelic.appname"),
		LicenseKey: viper.GetString("newrelic.licensekey"),
		Enabled:    viper.GetBool("newrelic.enabled"),
	}

	broadcastConfig := BroadcastConfig{
		MovingInterval:  viper.GetDuration("broadcast.movinginterval"),
		StoppedInterval: viper.GetDuration("broadcast.stoppedinterval"),
		ParkedInterval:  viper.GetDuration("broadcast.parkedinterval"),
		Workers:         viper.GetInt("broadcast.workers"),
		QueueSize:       viper.GetInt("broadcast.queuesize"),
		ResolverTTL:     viper.GetDuration("broadcast.resolverttl"),
	}

	return &Config{
		Server:     serverConfig,
		Database:   dbConfig,
		Redis:      redisConfig,
		ServiceBus: serviceBusConfig,
		NewRelic:   newRelicConfig,
		Broadcast:  broadcastConfig,
	}, nil
}
