package config

import "time"

// TargetConfig holds overrides for a single target host.
type TargetConfig struct {
	// Ports replaces the port specification for this target.
	Ports string `yaml:"ports,omitempty"`

	// ExcludePorts replaces the exclusion list for this target.
	ExcludePorts string `yaml:"excludePorts,omitempty"`
}

// Defaults holds settings applied to every run unless a CLI flag overrides
// them. Timeouts are in milliseconds, matching the flags.
type Defaults struct {
	TargetConfig `yaml:",inline"`

	ConnectTimeout int     `yaml:"connectTimeout,omitempty"`
	ReadTimeout    int     `yaml:"readTimeout,omitempty"`
	UserAgent      string  `yaml:"userAgent,omitempty"`
	Concurrency    int     `yaml:"concurrency,omitempty"`
	Rate           float64 `yaml:"rate,omitempty"`
}

// File represents the structure of the configuration file.
type File struct {
	// Defaults apply to all targets.
	Defaults Defaults `yaml:"defaults,omitempty"`

	// Targets maps a host, exactly as given on the command line, to its
	// overrides.
	Targets map[string]TargetConfig `yaml:"targets,omitempty"`
}

// ApplyDefaults copies the non-zero file defaults into c. It is called
// before CLI flags are applied so that explicit flags win.
func (cf *File) ApplyDefaults(c *Config) {
	d := cf.Defaults
	if d.ConnectTimeout > 0 {
		c.ConnectTimeout = time.Duration(d.ConnectTimeout) * time.Millisecond
	}
	if d.ReadTimeout > 0 {
		c.ReadTimeout = time.Duration(d.ReadTimeout) * time.Millisecond
	}
	if d.UserAgent != "" {
		c.UserAgent = d.UserAgent
	}
	if d.Concurrency > 0 {
		c.Concurrency = d.Concurrency
	}
	if d.Rate > 0 {
		c.Rate = d.Rate
	}
	if d.Ports != "" {
		c.Ports = d.Ports
	}
	if d.ExcludePorts != "" {
		c.ExcludePorts = d.ExcludePorts
	}
}
