// Package config loads finlake configuration from config.yaml, a .env file
// and FINLAKE_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/cvm"
)

// Config holds the full application configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Company CompanyConfig `yaml:"company" mapstructure:"company"`
	CVM     CVMConfig     `yaml:"cvm" mapstructure:"cvm"`
	ETL     ETLConfig     `yaml:"etl" mapstructure:"etl"`
	RunLog  RunLogConfig  `yaml:"runlog" mapstructure:"runlog"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StorageConfig configures the S3-compatible object store.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Region    string `yaml:"region" mapstructure:"region"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	PathStyle bool   `yaml:"path_style" mapstructure:"path_style"`
}

// CacheConfig configures Redis publication and the distributed folder lock.
type CacheConfig struct {
	RedisURL        string `yaml:"redis_url" mapstructure:"redis_url"`
	TTLSecs         int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	DistributedLock bool   `yaml:"distributed_lock" mapstructure:"distributed_lock"`
	LockTTLSecs     int    `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
}

// TTL returns the cache record TTL. Zero means no expiry.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSecs) * time.Second }

// LockTTL returns the folder lock expiry.
func (c CacheConfig) LockTTL() time.Duration { return time.Duration(c.LockTTLSecs) * time.Second }

// CompanyConfig identifies the tracked legal entity.
type CompanyConfig struct {
	CNPJ string `yaml:"cnpj" mapstructure:"cnpj"`
}

// CVMConfig configures retrieval from the CVM open data portal.
type CVMConfig struct {
	ITRLandingURL  string `yaml:"itr_landing_url" mapstructure:"itr_landing_url"`
	ITRDownloadURL string `yaml:"itr_download_url" mapstructure:"itr_download_url"`
	DFPLandingURL  string `yaml:"dfp_landing_url" mapstructure:"dfp_landing_url"`
	DFPDownloadURL string `yaml:"dfp_download_url" mapstructure:"dfp_download_url"`
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// Timeout returns the per-request download timeout.
func (c CVMConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSecs) * time.Second }

// Datasets returns the ITR and DFP datasets with configured URLs.
func (c CVMConfig) Datasets() []cvm.Dataset {
	ds := cvm.DefaultDatasets()
	for i := range ds {
		switch ds[i].Doc {
		case catalog.DocITR:
			ds[i].LandingURL, ds[i].DownloadURL = c.ITRLandingURL, c.ITRDownloadURL
		case catalog.DocDFP:
			ds[i].LandingURL, ds[i].DownloadURL = c.DFPLandingURL, c.DFPDownloadURL
		}
	}
	return ds
}

// ETLConfig configures the financial statement pipeline.
type ETLConfig struct {
	YearsToFetch int                `yaml:"years_to_fetch" mapstructure:"years_to_fetch"`
	Concurrency  int                `yaml:"concurrency" mapstructure:"concurrency"`
	ScaleUnits   map[string]float64 `yaml:"scale_units" mapstructure:"scale_units"`
}

// ScaleTable returns the configured currency scale table. Keys are
// upper-cased because viper lowercases map keys.
func (c ETLConfig) ScaleTable() catalog.ScaleTable {
	if len(c.ScaleUnits) == 0 {
		return catalog.DefaultScaleTable()
	}
	t := make(catalog.ScaleTable, len(c.ScaleUnits))
	for unit, mult := range c.ScaleUnits {
		t[strings.ToUpper(unit)] = mult
	}
	return t
}

// RunLogConfig selects the run log backend.
type RunLogConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. A .env file in the
// working directory is loaded into the environment first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FINLAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	itr, dfp := cvm.DefaultDatasets()[0], cvm.DefaultDatasets()[1]
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.bucket", "finlake")
	v.SetDefault("storage.path_style", true)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl_secs", 0)
	v.SetDefault("cache.distributed_lock", false)
	v.SetDefault("cache.lock_ttl_secs", 120)
	v.SetDefault("company.cnpj", "")
	v.SetDefault("cvm.itr_landing_url", itr.LandingURL)
	v.SetDefault("cvm.itr_download_url", itr.DownloadURL)
	v.SetDefault("cvm.dfp_landing_url", dfp.LandingURL)
	v.SetDefault("cvm.dfp_download_url", dfp.DownloadURL)
	v.SetDefault("cvm.user_agent", "finlake/1.0")
	v.SetDefault("cvm.timeout_secs", 300)
	v.SetDefault("cvm.max_retries", 3)
	v.SetDefault("etl.years_to_fetch", 3)
	v.SetDefault("etl.concurrency", 1)
	v.SetDefault("runlog.driver", "sqlite")
	v.SetDefault("runlog.dsn", "finlake.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs: "etl", "bucket",
// "serve" or "runs".
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "etl":
		if _, err := cvm.FormatCNPJ(c.Company.CNPJ); err != nil {
			errs = append(errs, "company.cnpj: "+err.Error())
		}
		errs = append(errs, c.validateStorage()...)
		errs = append(errs, c.validateRunLog()...)
		if c.ETL.YearsToFetch < 1 {
			errs = append(errs, "etl.years_to_fetch must be at least 1")
		}
		if c.ETL.Concurrency < 1 || c.ETL.Concurrency > 32 {
			errs = append(errs, "etl.concurrency must be between 1 and 32")
		}
		for unit, mult := range c.ETL.ScaleUnits {
			if mult <= 0 {
				errs = append(errs, "etl.scale_units."+unit+" must be positive")
			}
		}
		if c.Cache.DistributedLock && c.Cache.RedisURL == "" {
			errs = append(errs, "cache.distributed_lock requires cache.redis_url")
		}
	case "bucket":
		errs = append(errs, c.validateStorage()...)
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Cache.RedisURL == "" {
			errs = append(errs, "cache.redis_url is required")
		}
		errs = append(errs, c.validateRunLog()...)
	case "runs":
		errs = append(errs, c.validateRunLog()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStorage() []string {
	if c.Storage.Bucket == "" {
		return []string{"storage.bucket is required"}
	}
	return nil
}

func (c *Config) validateRunLog() []string {
	switch c.RunLog.Driver {
	case "none":
		return nil
	case "sqlite", "postgres":
		if c.RunLog.DSN == "" {
			return []string{"runlog.dsn is required for driver " + c.RunLog.Driver}
		}
		return nil
	default:
		return []string{"runlog.driver must be postgres, sqlite or none"}
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
