package acquire

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/vigie/acquire/internal/devices"
	"github.com/hazyhaar/vigie/acquire/internal/overpass"
)

// Config holds all vigie configuration.
type Config struct {
	DataDir    string `yaml:"data_dir"`
	LedgerPath string `yaml:"ledger_path"`
	// Credentials are device-search API keys, front first. Usually taken
	// from SHODAN_API_KEY rather than the file.
	Credentials []string        `yaml:"credentials"`
	Resources   ResourcesConfig `yaml:"resources"`
	Devices     DevicesConfig   `yaml:"devices"`
	Overpass    OverpassConfig  `yaml:"overpass"`
	Fetch       FetchConfig     `yaml:"fetch"`
}

// ResourceConfig locates one downloadable file.
type ResourceConfig struct {
	URL          string `yaml:"url"`
	AlternateURL string `yaml:"alternate_url"`
}

// ResourcesConfig lists the three downloaded datasets.
type ResourcesConfig struct {
	Communes ResourceConfig `yaml:"communes"`
	Crimes   ResourceConfig `yaml:"crimes"`
	Geometry ResourceConfig `yaml:"geometry"`
}

// DevicesConfig controls the device search.
type DevicesConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Query        string        `yaml:"query"`
	PageSize     int           `yaml:"page_size"`
	MaxRetries   int           `yaml:"max_retries"` // 0 means 3; negative disables retries
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	StartPage    int           `yaml:"start_page"`
}

// OverpassConfig controls the geographic query.
type OverpassConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Query    string        `yaml:"query"`
	Post     bool          `yaml:"post"`
	Timeout  time.Duration `yaml:"timeout"`
}

// FetchConfig controls resource downloads.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	// AllowPrivateHosts disables the private-address guard, for local mirrors.
	AllowPrivateHosts bool `yaml:"allow_private_hosts"`
}

// Default dataset locations.
const (
	DefaultCommunesURL = "https://www.insee.fr/fr/statistiques/fichier/7766585/v_commune_2024.csv"
	DefaultCrimesURL   = "https://static.data.gouv.fr/resources/bases-statistiques-communale-departementale-et-regionale-de-la-delinquance-enregistree-par-la-police-et-la-gendarmerie-nationales/20240718-150309/donnee-data.gouv-2023-geographie2024-produit-le2024-07-05.csv.gz"
	DefaultCrimesAltURL   = "https://www.data.gouv.fr/fr/datasets/r/3f51212c-f7d2-4aec-b899-06be6cdd1030"
	DefaultGeometryURL    = "https://static.data.gouv.fr/resources/contours-des-communes-de-france-simplifie-avec-regions-et-departement-doutre-mer-rapproches/20220219-095144/a-com2022.json"
	DefaultGeometryAltURL = "https://www.data.gouv.fr/fr/datasets/r/fb3580f6-e875-408d-809a-ad22fc418581"
)

func (c *Config) defaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(c.DataDir, "vigie.db")
	}
	if c.Resources.Communes.URL == "" {
		c.Resources.Communes.URL = DefaultCommunesURL
	}
	if c.Resources.Crimes.URL == "" {
		c.Resources.Crimes.URL = DefaultCrimesURL
		if c.Resources.Crimes.AlternateURL == "" {
			c.Resources.Crimes.AlternateURL = DefaultCrimesAltURL
		}
	}
	if c.Resources.Geometry.URL == "" {
		c.Resources.Geometry.URL = DefaultGeometryURL
		if c.Resources.Geometry.AlternateURL == "" {
			c.Resources.Geometry.AlternateURL = DefaultGeometryAltURL
		}
	}
	if c.Devices.BaseURL == "" {
		c.Devices.BaseURL = devices.DefaultBaseURL
	}
	if c.Devices.Query == "" {
		c.Devices.Query = devices.DefaultQuery
	}
	if c.Devices.PageSize <= 0 {
		c.Devices.PageSize = 100
	}
	if c.Devices.MaxRetries == 0 {
		c.Devices.MaxRetries = 3
	}
	if c.Devices.StartPage <= 0 {
		c.Devices.StartPage = 1
	}
	if c.Overpass.Endpoint == "" {
		c.Overpass.Endpoint = overpass.DefaultEndpoint
	}
	if c.Overpass.Query == "" {
		c.Overpass.Query = overpass.DefaultQuery
	}
	if c.Overpass.Timeout <= 0 {
		c.Overpass.Timeout = 3 * time.Minute
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 5 * time.Minute
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "vigie/1.0"
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("acquire: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("acquire: parse config: %w", err)
	}
	return cfg, nil
}
