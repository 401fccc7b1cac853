package config

import (
	"time"
)

// Config represents the main Vocalis configuration
type Config struct {
	// Providers lists realtime model provider profiles
	Providers []ProviderProfile `json:"providers" mapstructure:"providers"`

	// Realtime holds model session settings shared across providers
	Realtime RealtimeConfig `json:"realtime" mapstructure:"realtime"`

	// Definitions configures the agent definition store
	Definitions DefinitionsConfig `json:"definitions" mapstructure:"definitions"`

	// Sessions configures the session manager
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Tools configures the tool invocation gateway
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Intent configures the transition condition classifier
	Intent IntentConfig `json:"intent" mapstructure:"intent"`

	// Gateway configures the client websocket server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing configures the OpenTelemetry tracer provider
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// DataDir is the base directory for state (checkpoints, logs, audit)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderProfile identifies one realtime model provider endpoint
type ProviderProfile struct {
	ID         string `json:"id" mapstructure:"id"`
	Kind       string `json:"kind" mapstructure:"kind"` // azure_openai, ai_foundry
	Endpoint   string `json:"endpoint" mapstructure:"endpoint"`
	APIKey     string `json:"api_key" mapstructure:"api_key"`
	Deployment string `json:"deployment" mapstructure:"deployment"`
	APIVersion string `json:"api_version" mapstructure:"api_version"`
}

// RealtimeConfig holds model session settings
type RealtimeConfig struct {
	Model              string `json:"model" mapstructure:"model"`
	TranscriptionModel string `json:"transcription_model" mapstructure:"transcription_model"`
	Voice              string `json:"voice" mapstructure:"voice"`

	// EventBuffer bounds the per-session provider event queue; when the
	// orchestrator falls this far behind, the connection fails fast.
	EventBuffer int `json:"event_buffer" mapstructure:"event_buffer"`

	ReconnectMaxAttempts int           `json:"reconnect_max_attempts" mapstructure:"reconnect_max_attempts"`
	ReconnectBaseDelay   time.Duration `json:"reconnect_base_delay" mapstructure:"reconnect_base_delay"`
	ConnectTimeout       time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
}

// DefinitionsConfig configures the agent definition store
type DefinitionsConfig struct {
	Dir         string `json:"dir" mapstructure:"dir"`
	WatchReload bool   `json:"watch_reload" mapstructure:"watch_reload"`
}

// SessionsConfig configures the session manager
type SessionsConfig struct {
	MaxActive      int           `json:"max_active" mapstructure:"max_active"`
	IdleTimeout    time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	SweepSchedule  string        `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron expression
	CheckpointPath string        `json:"checkpoint_path" mapstructure:"checkpoint_path"`
}

// ToolsConfig configures tool execution
type ToolsConfig struct {
	InvokeTimeout time.Duration    `json:"invoke_timeout" mapstructure:"invoke_timeout"`
	MCPServers    []MCPServerEntry `json:"mcp_servers" mapstructure:"mcp_servers"`
}

// MCPServerEntry describes one MCP server process
type MCPServerEntry struct {
	ID      string   `json:"id" mapstructure:"id"`
	Command string   `json:"command" mapstructure:"command"`
	Args    []string `json:"args" mapstructure:"args"`
}

// IntentConfig selects the transition condition classifier
type IntentConfig struct {
	Classifier string `json:"classifier" mapstructure:"classifier"` // keyword, openai, anthropic
	Model      string `json:"model" mapstructure:"model"`
	APIKey     string `json:"api_key" mapstructure:"api_key"`
}

// GatewayConfig holds the client websocket server configuration
type GatewayConfig struct {
	Host              string `json:"host" mapstructure:"host"`
	Port              int    `json:"port" mapstructure:"port"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int    `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// TracingConfig controls span recording
type TracingConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// SampleRatio is the fraction of new traces recorded, clamped to [0, 1]
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`

	// StdoutExport writes finished spans to stderr; development only
	StdoutExport bool `json:"stdout_export" mapstructure:"stdout_export"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			Model:                "gpt-realtime",
			TranscriptionModel:   "gpt-4o-transcribe",
			Voice:                "alloy",
			EventBuffer:          256,
			ReconnectMaxAttempts: 5,
			ReconnectBaseDelay:   500 * time.Millisecond,
			ConnectTimeout:       15 * time.Second,
		},
		Definitions: DefinitionsConfig{
			Dir:         "agents",
			WatchReload: true,
		},
		Sessions: SessionsConfig{
			MaxActive:     256,
			IdleTimeout:   5 * time.Minute,
			SweepSchedule: "*/1 * * * *",
		},
		Tools: ToolsConfig{
			InvokeTimeout: 30 * time.Second,
		},
		Intent: IntentConfig{
			Classifier: "keyword",
		},
		Gateway: GatewayConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			RequestsPerMinute: 120,
			MaxConcurrent:     16,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}
