package stream

type configSource interface {
	GetStream() Config
}

type Config struct {
	// InlineLimit is the largest envelope (bytes) published inline; larger
	// ones are archived to the object store and replaced by a pointer.
	InlineLimit int `yaml:"inlineLimit"`
	// ArchivePrefix is the object store key prefix for archived payloads.
	ArchivePrefix string `yaml:"archivePrefix"`
	// RecoveryTopic receives entries whose publish still fails after the
	// retry policy is exhausted.
	RecoveryTopic      string `yaml:"recoveryTopic"`
	PublishMaxAttempts int    `yaml:"publishMaxAttempts"`
}

const (
	defaultInlineLimit   = 224 << 10
	defaultArchivePrefix = "events"
	defaultRecoveryTopic = "registry.recovery"
)

func (c Config) withDefaults() Config {
	if c.InlineLimit <= 0 {
		c.InlineLimit = defaultInlineLimit
	}
	if c.ArchivePrefix == "" {
		c.ArchivePrefix = defaultArchivePrefix
	}
	if c.RecoveryTopic == "" {
		c.RecoveryTopic = defaultRecoveryTopic
	}
	return c
}
