package config

import (
    "fmt"
    "strings"
    "time"

    "github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
    App         AppConfig         `mapstructure:"app"`
    Database    DatabaseConfig    `mapstructure:"database"`
    Redis       RedisConfig       `mapstructure:"redis"`
    HTTP        HTTPConfig        `mapstructure:"http"`
    Reservation ReservationConfig `mapstructure:"reservation"`
    Correlator  CorrelatorConfig  `mapstructure:"correlator"`
    Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
    Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
    Security    SecurityConfig    `mapstructure:"security"`
    Notify      NotifyConfig      `mapstructure:"notify"`
}

// NotifyConfig points at the chat gateway's notification push endpoint.
type NotifyConfig struct {
    GatewayBaseURL string `mapstructure:"gateway_base_url"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
    Name        string `mapstructure:"name"`
    Version     string `mapstructure:"version"`
    Environment string `mapstructure:"environment"`
    Debug       bool   `mapstructure:"debug"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
    Driver          string        `mapstructure:"driver"`
    Host            string        `mapstructure:"host"`
    Port            int           `mapstructure:"port"`
    Username        string        `mapstructure:"username"`
    Password        string        `mapstructure:"password"`
    Database        string        `mapstructure:"database"`
    MaxOpenConns    int           `mapstructure:"max_open_conns"`
    MaxIdleConns    int           `mapstructure:"max_idle_conns"`
    ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
    RetryAttempts   int           `mapstructure:"retry_attempts"`
    RetryDelay      time.Duration `mapstructure:"retry_delay"`
    Charset         string        `mapstructure:"charset"`
}

// RedisConfig holds Redis cache/lock configuration.
type RedisConfig struct {
    Host         string        `mapstructure:"host"`
    Port         int           `mapstructure:"port"`
    Password     string        `mapstructure:"password"`
    DB           int           `mapstructure:"db"`
    PoolSize     int           `mapstructure:"pool_size"`
    MinIdleConns int           `mapstructure:"min_idle_conns"`
    MaxRetries   int           `mapstructure:"max_retries"`
    DialTimeout  time.Duration `mapstructure:"dial_timeout"`
    ReadTimeout  time.Duration `mapstructure:"read_timeout"`
    WriteTimeout time.Duration `mapstructure:"write_timeout"`
    LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

// HTTPConfig holds the inbound-message / health HTTP server configuration.
type HTTPConfig struct {
    ListenAddress   string        `mapstructure:"listen_address"`
    Port            int           `mapstructure:"port"`
    ReadTimeout     time.Duration `mapstructure:"read_timeout"`
    WriteTimeout    time.Duration `mapstructure:"write_timeout"`
    ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ReservationConfig holds reservation-engine tunables (spec.md §6).
type ReservationConfig struct {
    TimeoutMinutes        int `mapstructure:"timeout_minutes"`         // RESERVATION_TIMEOUT_MIN
    PageSize              int `mapstructure:"page_size"`               // PAGE_SIZE
    NumberRetirementUsers int `mapstructure:"number_retirement_users"` // NUMBER_RETIREMENT_USERS
    MaxRetries            int `mapstructure:"max_retries"`
}

// CorrelatorConfig holds inbound-message correlator tunables.
type CorrelatorConfig struct {
    PollIntervalSec int    `mapstructure:"poll_interval_sec"` // POLL_INTERVAL_SEC
    HMACSecret      string `mapstructure:"hmac_secret"`       // HMAC_SECRET
}

// SchedulerConfig holds the background scheduler's periods (spec.md §4.7).
type SchedulerConfig struct {
    ExpirySweepInterval    time.Duration `mapstructure:"expiry_sweep_interval"`
    AutoSearchInitialDelay time.Duration `mapstructure:"auto_search_initial_delay"`
    AutoSearchPollInterval time.Duration `mapstructure:"auto_search_poll_interval"`
    AutoSearchMaxDuration  time.Duration `mapstructure:"auto_search_max_duration"`
    CleanupIntervalHours   int           `mapstructure:"cleanup_interval_hours"`   // CLEANUP_INTERVAL_HOURS
    MessageRetentionDays   int           `mapstructure:"message_retention_days"`   // MESSAGE_RETENTION_DAYS
    OrphanRetentionHours   int           `mapstructure:"orphan_retention_hours"`   // ORPHAN_RETENTION_HOURS
    BlockedRetentionHours  int           `mapstructure:"blocked_retention_hours"`  // BLOCKED_RETENTION_HOURS
}

// MonitoringConfig holds monitoring and observability configuration.
type MonitoringConfig struct {
    Metrics MetricsConfig `mapstructure:"metrics"`
    Health  HealthConfig  `mapstructure:"health"`
    Logging LoggingConfig `mapstructure:"logging"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
    Enabled   bool   `mapstructure:"enabled"`
    Port      int    `mapstructure:"port"`
    Path      string `mapstructure:"path"`
    Namespace string `mapstructure:"namespace"`
}

// HealthConfig holds health check configuration.
type HealthConfig struct {
    Enabled       bool   `mapstructure:"enabled"`
    Port          int    `mapstructure:"port"`
    LivenessPath  string `mapstructure:"liveness_path"`
    ReadinessPath string `mapstructure:"readiness_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
    Level  string                 `mapstructure:"level"`
    Format string                 `mapstructure:"format"`
    Output string                 `mapstructure:"output"`
    File   FileLogConfig          `mapstructure:"file"`
    Fields map[string]interface{} `mapstructure:"fields"`
}

// FileLogConfig holds file-based logging configuration.
type FileLogConfig struct {
    Enabled    bool   `mapstructure:"enabled"`
    Path       string `mapstructure:"path"`
    MaxSize    int    `mapstructure:"max_size"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAge     int    `mapstructure:"max_age"`
    Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
    API APIConfig `mapstructure:"api"`
}

// APIConfig holds the HMAC-protected webhook configuration (SPEC_FULL.md §C.2).
type APIConfig struct {
    RequireHMAC bool `mapstructure:"require_hmac"`
}

// Load loads configuration from file and environment: environment
// variables override the config file, which overrides the defaults.
func Load(configFile string) (*Config, error) {
    if configFile != "" {
        viper.SetConfigFile(configFile)
    } else {
        viper.SetConfigName("config")
        viper.SetConfigType("yaml")
        viper.AddConfigPath("./configs")
        viper.AddConfigPath("/etc/reservation-engine")
        viper.AddConfigPath(".")
    }

    viper.SetEnvPrefix("RESERVATION")
    viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
    viper.AutomaticEnv()

    setDefaults()

    if err := viper.ReadInConfig(); err != nil {
        if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
            return nil, fmt.Errorf("failed to read config file: %w", err)
        }
    }

    var config Config
    if err := viper.Unmarshal(&config); err != nil {
        return nil, fmt.Errorf("failed to unmarshal config: %w", err)
    }

    if err := config.Validate(); err != nil {
        return nil, fmt.Errorf("invalid configuration: %w", err)
    }

    return &config, nil
}

func setDefaults() {
    // App defaults
    viper.SetDefault("app.name", "reservation-engine")
    viper.SetDefault("app.version", "1.0.0")
    viper.SetDefault("app.environment", "development")
    viper.SetDefault("app.debug", false)

    // Database defaults
    viper.SetDefault("database.driver", "mysql")
    viper.SetDefault("database.host", "localhost")
    viper.SetDefault("database.port", 3306)
    viper.SetDefault("database.username", "reservation")
    viper.SetDefault("database.password", "reservation")
    viper.SetDefault("database.database", "reservation_engine")
    viper.SetDefault("database.max_open_conns", 25)
    viper.SetDefault("database.max_idle_conns", 5)
    viper.SetDefault("database.conn_max_lifetime", "5m")
    viper.SetDefault("database.retry_attempts", 3)
    viper.SetDefault("database.retry_delay", "200ms")
    viper.SetDefault("database.charset", "utf8mb4")

    // Redis defaults
    viper.SetDefault("redis.host", "localhost")
    viper.SetDefault("redis.port", 6379)
    viper.SetDefault("redis.db", 0)
    viper.SetDefault("redis.pool_size", 20)
    viper.SetDefault("redis.min_idle_conns", 5)
    viper.SetDefault("redis.max_retries", 3)
    viper.SetDefault("redis.dial_timeout", "5s")
    viper.SetDefault("redis.read_timeout", "3s")
    viper.SetDefault("redis.write_timeout", "3s")
    viper.SetDefault("redis.lock_ttl", "5s")

    // HTTP defaults
    viper.SetDefault("http.listen_address", "0.0.0.0")
    viper.SetDefault("http.port", 8090)
    viper.SetDefault("http.read_timeout", "10s")
    viper.SetDefault("http.write_timeout", "10s")
    viper.SetDefault("http.shutdown_timeout", "15s")

    // Reservation defaults
    viper.SetDefault("reservation.timeout_minutes", 20)
    viper.SetDefault("reservation.page_size", 10)
    viper.SetDefault("reservation.number_retirement_users", 3)
    viper.SetDefault("reservation.max_retries", 3)

    // Correlator defaults
    viper.SetDefault("correlator.poll_interval_sec", 2)
    viper.SetDefault("correlator.hmac_secret", "")

    // Scheduler defaults
    viper.SetDefault("scheduler.expiry_sweep_interval", "30s")
    viper.SetDefault("scheduler.auto_search_initial_delay", "5s")
    viper.SetDefault("scheduler.auto_search_poll_interval", "2s")
    viper.SetDefault("scheduler.auto_search_max_duration", "5m")
    viper.SetDefault("scheduler.cleanup_interval_hours", 6)
    viper.SetDefault("scheduler.message_retention_days", 3)
    viper.SetDefault("scheduler.orphan_retention_hours", 24)
    viper.SetDefault("scheduler.blocked_retention_hours", 24)

    // Monitoring defaults
    viper.SetDefault("monitoring.metrics.enabled", true)
    viper.SetDefault("monitoring.metrics.port", 9090)
    viper.SetDefault("monitoring.metrics.path", "/metrics")
    viper.SetDefault("monitoring.metrics.namespace", "reservation")
    viper.SetDefault("monitoring.health.enabled", true)
    viper.SetDefault("monitoring.health.port", 8080)
    viper.SetDefault("monitoring.health.liveness_path", "/health/live")
    viper.SetDefault("monitoring.health.readiness_path", "/health/ready")
    viper.SetDefault("monitoring.logging.level", "info")
    viper.SetDefault("monitoring.logging.format", "json")
    viper.SetDefault("monitoring.logging.output", "stdout")

    // Security defaults
    viper.SetDefault("security.api.require_hmac", false)

    // Notify defaults
    viper.SetDefault("notify.gateway_base_url", "http://localhost:8091")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
    if c.Database.Host == "" {
        return fmt.Errorf("database host is required")
    }
    if c.Database.Port <= 0 || c.Database.Port > 65535 {
        return fmt.Errorf("invalid database port: %d", c.Database.Port)
    }
    if c.Database.Username == "" {
        return fmt.Errorf("database username is required")
    }
    if c.Database.Database == "" {
        return fmt.Errorf("database name is required")
    }

    if c.Redis.Host != "" {
        if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
            return fmt.Errorf("invalid Redis port: %d", c.Redis.Port)
        }
    }

    if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
        return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
    }

    if c.Reservation.TimeoutMinutes <= 0 {
        return fmt.Errorf("reservation timeout must be positive")
    }
    if c.Reservation.NumberRetirementUsers <= 0 {
        return fmt.Errorf("number retirement threshold must be positive")
    }

    if c.Monitoring.Metrics.Enabled {
        if c.Monitoring.Metrics.Port <= 0 || c.Monitoring.Metrics.Port > 65535 {
            return fmt.Errorf("invalid metrics port: %d", c.Monitoring.Metrics.Port)
        }
    }
    if c.Monitoring.Health.Enabled {
        if c.Monitoring.Health.Port <= 0 || c.Monitoring.Health.Port > 65535 {
            return fmt.Errorf("invalid health port: %d", c.Monitoring.Health.Port)
        }
    }

    return nil
}

// GetDSN returns the database connection string.
func (c *DatabaseConfig) GetDSN() string {
    charset := c.Charset
    if charset == "" {
        charset = "utf8mb4"
    }

    return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=Local",
        c.Username,
        c.Password,
        c.Host,
        c.Port,
        c.Database,
        charset,
    )
}

// GetRedisAddr returns the Redis address.
func (c *RedisConfig) GetRedisAddr() string {
    return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetHTTPAddr returns the HTTP listen address.
func (c *HTTPConfig) GetHTTPAddr() string {
    return fmt.Sprintf("%s:%d", c.ListenAddress, c.Port)
}

// IsProduction returns true if running in production environment.
func (c *AppConfig) IsProduction() bool {
    return strings.ToLower(c.Environment) == "production"
}

// IsDevelopment returns true if running in development environment.
func (c *AppConfig) IsDevelopment() bool {
    return strings.ToLower(c.Environment) == "development"
}
