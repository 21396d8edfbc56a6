package config

import "time"

// applyDefaults fills in zero-valued fields with production-ready defaults,
// following the teacher's getEnvOrDefault idiom applied at the struct level
// instead of at each os.Getenv call site.
func (c *Config) applyDefaults() {
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 30 * time.Second
	}
	if c.LLM.SwitchCooldown == 0 {
		c.LLM.SwitchCooldown = 5 * time.Second
	}
	if c.LLM.KeepAlive == "" {
		c.LLM.KeepAlive = "5m"
	}
	if c.LLM.Process.StartupTimeout == 0 {
		c.LLM.Process.StartupTimeout = 60 * time.Second
	}

	if c.Memory.ShortTerm.MaxMessages == 0 {
		c.Memory.ShortTerm.MaxMessages = 20
	}
	if c.Memory.ShortTerm.ExpireAfter == 0 {
		c.Memory.ShortTerm.ExpireAfter = time.Hour
	}
	if c.Memory.LongTerm.ExtractInterval == 0 {
		c.Memory.LongTerm.ExtractInterval = 5
	}
	c.Memory.LongTermExtractInterval = c.Memory.LongTerm.ExtractInterval

	if c.Memory.Retrieval.MaxResults == 0 {
		c.Memory.Retrieval.MaxResults = 5
	}
	if c.Memory.Retrieval.Threshold == 0 {
		c.Memory.Retrieval.Threshold = 0.30
	}
	if c.Memory.Embeddings.Dimension == 0 {
		c.Memory.Embeddings.Dimension = 384
	}

	if c.Memory.Personality.PersonalityTokenBudget == 0 {
		c.Memory.Personality.PersonalityTokenBudget = 512
	}
	if c.Memory.Personality.MaxFragmentsInPrompt == 0 {
		c.Memory.Personality.MaxFragmentsInPrompt = 20
	}
	if c.Memory.Personality.CompressThreshold == 0 {
		c.Memory.Personality.CompressThreshold = 15
	}
	if c.Memory.Personality.AutoApproveThreshold == 0 {
		c.Memory.Personality.AutoApproveThreshold = 0.85
	}

	if c.Telemetry.CollectInterval == 0 {
		c.Telemetry.CollectInterval = 30 * time.Second
	}
	if c.Telemetry.RetentionDays == 0 {
		c.Telemetry.RetentionDays = 30
	}

	if c.Storage.MaxOpenConns == 0 {
		c.Storage.MaxOpenConns = 10
	}
	if c.Storage.MaxIdleConns == 0 {
		c.Storage.MaxIdleConns = 5
	}
	if c.Storage.BusyTimeout == 0 {
		c.Storage.BusyTimeout = 5 * time.Second
	}

	if c.WS.MaxConnections == 0 {
		c.WS.MaxConnections = 256
	}
}
