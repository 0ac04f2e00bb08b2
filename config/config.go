package config

import (
	"os"

	"github.com/anyproto/any-sync/app"
	"gopkg.in/yaml.v3"

	"github.com/BIBSYSDEV/nva-publication-api-sub010/bus"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/db"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/expand"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/index"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/objectstore"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/orgresolver"
	"github.com/BIBSYSDEV/nva-publication-api-sub010/stream"
)

const CName = "config"

// NewFromFile loads the whole process configuration once; components receive
// their sections through the Get* accessors, never from the environment.
func NewFromFile(path string) (c *Config, err error) {
	c = &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return
}

type Config struct {
	Mongo       db.Mongo           `yaml:"mongo"`
	Bus         bus.Config         `yaml:"bus"`
	ObjectStore objectstore.Config `yaml:"objectStore"`
	Stream      stream.Config      `yaml:"stream"`
	Expand      expand.Config      `yaml:"expand"`
	Index       index.Config       `yaml:"index"`
	Resolver    orgresolver.Config `yaml:"orgResolver"`
}

func (c *Config) Init(a *app.App) (err error) {
	return nil
}

func (c *Config) Name() (name string) {
	return CName
}

func (c *Config) GetMongo() db.Mongo {
	return c.Mongo
}

func (c *Config) GetBus() bus.Config {
	return c.Bus
}

func (c *Config) GetObjectStore() objectstore.Config {
	return c.ObjectStore
}

func (c *Config) GetStream() stream.Config {
	return c.Stream
}

func (c *Config) GetExpand() expand.Config {
	return c.Expand
}

func (c *Config) GetIndex() index.Config {
	return c.Index
}

func (c *Config) GetResolver() orgresolver.Config {
	return c.Resolver
}
