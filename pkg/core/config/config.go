// Package config loads the single configuration value that is passed into every
// pipeline stage and the API server. Sources, lowest priority first: built-in
// defaults, the YAML file, the .env file, and the process environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v2"
)

const (
	DefaultBaseURL     = "https://dadosabertos.ans.gov.br/FTP/PDA/"
	DefaultRegistryURL = "https://dadosabertos.ans.gov.br/FTP/PDA/operadoras_de_plano_de_saude_ativas/"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the root configuration.
type Config struct {
	Portal   Portal   `yaml:"portal"`
	Files    Files    `yaml:"files"`
	Join     Join     `yaml:"join"`
	Database Database `yaml:"database"`
	API      API      `yaml:"api"`
	Log      Log      `yaml:"log"`
}

// Portal configures access to the ANS open-data portal.
type Portal struct {
	BaseURL           string        `yaml:"base_url"`
	RegistryURL       string        `yaml:"registry_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables throttling
	UserAgent         string        `yaml:"user_agent"`
	Quarters          int           `yaml:"quarters"`
}

// Files names the intermediate and report files exchanged between stages.
type Files struct {
	WorkDir           string `yaml:"work_dir"`
	Expenses          string `yaml:"expenses"`
	Enriched          string `yaml:"enriched"`
	Aggregated        string `yaml:"aggregated"`
	AggregatedParquet string `yaml:"aggregated_parquet"` // empty skips the parquet report
}

// Join tunes registry matching.
type Join struct {
	IgnoreLeadingZeros bool `yaml:"ignore_leading_zeros"`
}

// Database configures the relational store.
type Database struct {
	Driver       string `yaml:"driver"`
	URL          string `yaml:"url"`
	CreateSchema bool   `yaml:"create_schema"`
	BatchSize    int    `yaml:"batch_size"`
}

// API configures the query server.
type API struct {
	Addr         string `yaml:"addr"`
	DefaultLimit int    `yaml:"default_limit"`
	MaxLimit     int    `yaml:"max_limit"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Default returns the configuration used when no file or environment is present.
// Values mirror the portal layout as published by ANS.
func Default() Config {
	return Config{
		Portal: Portal{
			BaseURL:           DefaultBaseURL,
			RegistryURL:       DefaultRegistryURL,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 2,
			UserAgent:         "ans-transparency/1.0",
			Quarters:          3,
		},
		Files: Files{
			WorkDir:           ".",
			Expenses:          "resultado_final.csv",
			Enriched:          "dados_enriquecidos_validados.csv",
			Aggregated:        "relatorio_agregado.csv",
			AggregatedParquet: "relatorio_agregado.parquet",
		},
		Join: Join{IgnoreLeadingZeros: true},
		Database: Database{
			Driver:    DriverPostgres,
			BatchSize: 500,
		},
		API: API{
			Addr:         ":8080",
			DefaultLimit: 10,
			MaxLimit:     100,
		},
		Log: Log{Level: "info", Format: "console"},
	}
}

// Load builds the configuration from the YAML file at path (optional), the .env
// file in the working directory (optional) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, eris.Wrapf(err, "config: parse %s", path)
			}
		case os.IsNotExist(err):
			fmt.Fprintf(os.Stderr, "[WARNING] config file %s not found, using defaults\n", path)
		default:
			return cfg, eris.Wrapf(err, "config: read %s", path)
		}
	}

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Portal.BaseURL, "ANS_BASE_URL")
	setString(&c.Portal.RegistryURL, "ANS_REGISTRY_URL")
	setString(&c.Portal.UserAgent, "ANS_USER_AGENT")
	setString(&c.Files.WorkDir, "ANS_WORK_DIR")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Database.Driver, "ANS_DB_DRIVER")
	setString(&c.API.Addr, "ANS_API_ADDR")
	setString(&c.Log.Level, "ANS_LOG_LEVEL")
	setString(&c.Log.Format, "ANS_LOG_FORMAT")

	if v := os.Getenv("ANS_QUARTERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return eris.Wrapf(err, "config: ANS_QUARTERS=%q", v)
		}
		c.Portal.Quarters = n
	}
	if v := os.Getenv("ANS_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return eris.Wrapf(err, "config: ANS_HTTP_TIMEOUT=%q", v)
		}
		c.Portal.Timeout = d
	}
	if v := os.Getenv("ANS_DB_CREATE_SCHEMA"); v != "" {
		c.Database.CreateSchema = v == "true" || v == "1"
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Validate rejects configurations no stage can run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Portal.BaseURL) == "" {
		return eris.New("config: portal.base_url is required")
	}
	if strings.TrimSpace(c.Portal.RegistryURL) == "" {
		return eris.New("config: portal.registry_url is required")
	}
	if c.Portal.Timeout <= 0 {
		return eris.New("config: portal.timeout must be positive")
	}
	if c.Portal.Quarters <= 0 {
		return eris.New("config: portal.quarters must be positive")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return eris.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	if c.API.DefaultLimit <= 0 || c.API.MaxLimit < c.API.DefaultLimit {
		return eris.New("config: api limits must satisfy 0 < default_limit <= max_limit")
	}
	return nil
}

// Path resolves an intermediate file name against the work directory.
func (f Files) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(f.WorkDir, name)
}
