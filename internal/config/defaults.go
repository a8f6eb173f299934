package config

// Persona authoring source kinds.
const (
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

const (
	defaultDataDir               = "~/.local/share/ensemble"
	defaultLogDir                = "~/.local/share/ensemble/logs"
	defaultGatewayBind           = "127.0.0.1:9643"
	defaultHeartbeatInterval     = 15
	defaultHeartbeatTimeout      = 300
	defaultPersonasDir           = "~/.config/ensemble/personas"
	defaultPersonaCacheTTL       = 3600
	defaultSwitchSLAMillis       = 2000
	defaultSessionTTLHours       = 24
	defaultReaperIntervalSeconds = 300
	defaultAckTimeoutSeconds     = 5
	defaultPlaybackLeadMillis    = 1000
	defaultBusChannelBuffer      = 64
	defaultBusPublishRetries     = 3
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Gateway: Gateway{
			Bind:              defaultGatewayBind,
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
		},
		Personas: Personas{
			Source:          SourceFile,
			Dir:             defaultPersonasDir,
			CacheTTLSeconds: defaultPersonaCacheTTL,
			SwitchSLAMillis: defaultSwitchSLAMillis,
		},
		Sessions: Sessions{
			TTLHours:              defaultSessionTTLHours,
			ReaperIntervalSeconds: defaultReaperIntervalSeconds,
		},
		Activities: Activities{
			AckTimeoutSeconds:  defaultAckTimeoutSeconds,
			PlaybackLeadMillis: defaultPlaybackLeadMillis,
		},
		Bus: Bus{
			ChannelBuffer:  defaultBusChannelBuffer,
			PublishRetries: defaultBusPublishRetries,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
