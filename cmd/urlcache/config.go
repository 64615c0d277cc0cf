package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Default time to live for cache entries, in seconds.
	TTLSeconds int `yaml:"ttlSeconds"`
	// Timeout for origin requests, e.g. "30s". No timeout if empty.
	Timeout string `yaml:"timeout"`
	// Path of the fetch journal database. No journal if empty.
	Journal string `yaml:"journal"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

func (c Config) timeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Timeout)
}
