package config

// Config is the root configuration structure for appaudit.
// Serialised to ~/.appaudit/config.json.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Results  ResultsConfig  `mapstructure:"results"  json:"results"`
	Cache    CacheConfig    `mapstructure:"cache"    json:"cache"`
	Profiles ProfilesConfig `mapstructure:"profiles" json:"profiles"`
	Gateway  GatewayConfig  `mapstructure:"gateway"  json:"gateway"`
}

// DatabaseConfig controls the authoritative relational backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
}

// ResultsConfig controls the filesystem mirror of stored results.
type ResultsConfig struct {
	// Dir is the root directory under which per-task result trees are written.
	Dir string `mapstructure:"dir" json:"dir"`
}

// CacheConfig controls the in-memory result cache.
type CacheConfig struct {
	// TTLMinutes is how long a cached result stays valid. Default: 30.
	TTLMinutes int `mapstructure:"ttl_minutes" json:"ttl_minutes"`
	// SweepSchedule is a cron expression for the periodic stale-entry sweep
	// run by the gateway. Default: "@hourly".
	SweepSchedule string `mapstructure:"sweep_schedule" json:"sweep_schedule"`
	// SweepMaxAgeHours is the cutoff age used by the scheduled sweep. Default: 24.
	SweepMaxAgeHours int `mapstructure:"sweep_max_age_hours" json:"sweep_max_age_hours"`
}

// ProfilesConfig controls where user analysis profiles live.
type ProfilesConfig struct {
	// Dir is the directory holding user-defined profile markdown files.
	Dir string `mapstructure:"dir" json:"dir"`
}

// GatewayConfig controls the REST control plane.
type GatewayConfig struct {
	// Port is the localhost HTTP port the gateway listens on (default: 6090).
	Port int `mapstructure:"port" json:"port"`
}
