package types

// ServerConfig holds HTTP listener settings for the harness itself.
type ServerConfig struct {
	Addr           string `yaml:"addr" json:"addr"`
	MaxRequestBody int64  `yaml:"maxRequestBody,omitempty" json:"maxRequestBody,omitempty"`
}

// ReferenceServerConfig points at the utility server under proxy and its
// admin API.
type ReferenceServerConfig struct {
	// URL is the base URL client requests are forwarded to.
	URL string `yaml:"url" json:"url"`
	// AdminURL is the base URL of the admin API used by DER-mutating actions.
	AdminURL string `yaml:"adminUrl" json:"adminUrl"`
	// AdminAPIKey authenticates admin API requests, if required.
	AdminAPIKey string `yaml:"adminApiKey,omitempty" json:"adminApiKey,omitempty"`
}

// DatabaseConfig holds connection settings for the reference server's
// Postgres database.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`
	// QueryTimeout bounds individual read queries, e.g. "5s".
	QueryTimeout string `yaml:"queryTimeout,omitempty" json:"queryTimeout,omitempty"`
}

// EngineConfig holds test-engine settings.
type EngineConfig struct {
	// TickInterval is how often wait listeners are polled, e.g. "1s".
	TickInterval string `yaml:"tickInterval,omitempty" json:"tickInterval,omitempty"`
}

// ProjectConfig represents the top-level banksia.yaml configuration.
type ProjectConfig struct {
	Server          *ServerConfig          `yaml:"server,omitempty"`
	ReferenceServer *ReferenceServerConfig `yaml:"referenceServer"`
	Database        *DatabaseConfig        `yaml:"database"`
	Engine          *EngineConfig          `yaml:"engine,omitempty"`
	// ProcedureDirs are directories scanned for test-procedure YAML files.
	ProcedureDirs []string `yaml:"procedureDirs"`
	// SkipAuthorization disables the client-certificate check on proxied
	// requests. Development use only.
	SkipAuthorization bool `yaml:"skipAuthorization,omitempty"`
}
