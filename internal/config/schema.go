package config

import "time"

// Config holds casetrace configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Analysis AnalysisCfg `mapstructure:"analysis" yaml:"analysis"`
	Engine   EngineCfg   `mapstructure:"engine" yaml:"engine"`
	Jobs     JobsCfg     `mapstructure:"jobs" yaml:"jobs"`
	Server   ServerCfg   `mapstructure:"server" yaml:"server"`
}

// AnalysisCfg configures the analysis gateway (the LLM backend).
type AnalysisCfg struct {
	Model          string        `mapstructure:"model" yaml:"model"`                     // Model name
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`                 // API key (supports ${ENV_VAR} syntax)
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`               // Optional API base URL override
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // Per-call ceiling
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`         // Transient-failure retries
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`         // Fixed delay between retries
}

// EngineCfg configures the chunked analysis engine. These are tunables,
// not protocol constants; the defaults match the original deployment.
type EngineCfg struct {
	AnalyzeBatchSize int `mapstructure:"analyze_batch_size" yaml:"analyze_batch_size"` // Documents per analysis batch
	ExtractBatchSize int `mapstructure:"extract_batch_size" yaml:"extract_batch_size"` // Documents per extraction step
	ExtractFanOut    int `mapstructure:"extract_fan_out" yaml:"extract_fan_out"`       // Concurrent extractions within a step
}

// JobsCfg configures generic job lifecycle handling.
type JobsCfg struct {
	StuckThreshold time.Duration `mapstructure:"stuck_threshold" yaml:"stuck_threshold"` // Running jobs older than this are stuck
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`     // WaitForCompletion poll interval
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisCfg{
			Model:          "gpt-4o",
			APIKey:         "${OPENAI_API_KEY}",
			RequestTimeout: 120 * time.Second,
			MaxRetries:     2,
			RetryDelay:     2 * time.Second,
		},
		Engine: EngineCfg{
			AnalyzeBatchSize: 25,
			ExtractBatchSize: 10,
			ExtractFanOut:    5,
		},
		Jobs: JobsCfg{
			StuckThreshold: 2 * time.Hour,
			PollInterval:   2 * time.Second,
		},
		Server: ServerCfg{
			Host: "localhost",
			Port: "8080",
		},
	}
}
