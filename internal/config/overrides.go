package config

import (
	"strings"
	"time"
)

// Overrides carries command-line settings that take precedence over the
// file and environment. Zero values leave the Config untouched.
type Overrides struct {
	Mode            string
	Strategies      string // comma-separated
	StartBlock      uint64
	BlockCount      uint64
	DurationSeconds uint64
	TxRate          uint64
	Visualize       bool
	Profile         bool
	ExportCSV       bool
	ExportJSON      bool
	ForkURL         string
	ForkBlock       uint64
	LoadState       string
	SaveState       string
	TickInterval    time.Duration
}

// ApplyOverrides layers o on top of c.
//
// A non-empty strategy list disables every configured strategy and enables
// only the listed names. Names with no configuration get the defaults so
// the factory can reject unknown types at initialization.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Mode != "" {
		c.Simulation.Mode = strings.ToLower(o.Mode)
	}

	if names := splitList(o.Strategies); len(names) > 0 {
		if c.Strategies == nil {
			c.Strategies = make(map[string]StrategyConfig)
		}
		for name, s := range c.Strategies {
			s.Enabled = false
			c.Strategies[name] = s
		}
		for _, name := range names {
			s, ok := c.Strategies[name]
			if !ok {
				s = DefaultStrategyConfig()
			}
			s.Enabled = true
			c.Strategies[name] = s
		}
	}

	if o.ForkURL != "" {
		c.Blockchain.Fork.Enabled = true
		c.Blockchain.Fork.URL = o.ForkURL
		c.Blockchain.Fork.BlockNumber = o.ForkBlock
	}

	if o.StartBlock > 0 {
		c.Simulation.StartBlock = o.StartBlock
	}
	if o.BlockCount > 0 {
		c.Simulation.BlockCount = o.BlockCount
	}
	if o.DurationSeconds > 0 {
		c.Simulation.Synthetic.DurationSeconds = o.DurationSeconds
	}
	if o.TxRate > 0 {
		c.Simulation.Synthetic.TransactionRate = o.TxRate
	}
	if o.TickInterval > 0 {
		c.Simulation.TickInterval.Duration = o.TickInterval
	}
	if o.Visualize {
		c.Simulation.EnableVisualization = true
	}
	if o.Profile {
		c.Simulation.EnableProfiling = true
	}

	var formats []string
	if o.ExportCSV {
		formats = append(formats, "csv")
	}
	if o.ExportJSON {
		formats = append(formats, "json")
	}
	if len(formats) > 0 {
		c.Simulation.ExportFormats = formats
	}

	if o.LoadState != "" {
		c.Simulation.LoadState = o.LoadState
	}
	if o.SaveState != "" {
		c.Simulation.StateFile = o.SaveState
	}
}
