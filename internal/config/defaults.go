package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			PublicBaseURL:   "",
			MediaTTLSeconds: 300,
		},
		WhatsApp: WhatsAppConfig{
			APIVersion: "v21.0",
		},
		Azure: AzureConfig{
			APIVersion:  "2025-04-01-preview",
			TTSVoice:    "alloy",
			TTSFormat:   "mp3",
			STTLanguage: "auto",
		},
		Knowledge: KnowledgeConfig{
			Enabled:      false,
			DataPath:     "bank.json",
			DBPath:       "~/.voicebot/knowledge.db",
			ChunkSize:    512,
			ChunkOverlap: 50,
			SearchTopK:   5,
		},
		Resolver: ResolverConfig{},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
