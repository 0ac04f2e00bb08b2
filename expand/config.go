package expand

type configSource interface {
	GetExpand() Config
}

type Config struct {
	Group              string `yaml:"group"`
	DeadLetterTopic    string `yaml:"deadLetterTopic"`
	FetchCount         int64  `yaml:"fetchCount"`
	ReclaimAfterSec    int    `yaml:"reclaimAfterSec"`
	PublishMaxAttempts int    `yaml:"publishMaxAttempts"`
}

func (c Config) withDefaults() Config {
	if c.Group == "" {
		c.Group = "expand"
	}
	if c.DeadLetterTopic == "" {
		c.DeadLetterTopic = "registry.deadletter"
	}
	if c.FetchCount <= 0 {
		c.FetchCount = 16
	}
	if c.ReclaimAfterSec <= 0 {
		c.ReclaimAfterSec = 60
	}
	return c
}
