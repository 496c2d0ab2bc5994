package config

import "time"

// Defaults.
const (
	DefaultServer  = "http://127.0.0.1:5480"
	DefaultOutput  = "table"
	DefaultTimeout = "10s"
)

// CLIConfig is the configuration for spanmesh-cli.
type CLIConfig struct {
	// Server is the admin endpoint or the name of an entry in Servers.
	Server string `koanf:"server" yaml:"server"`

	// Output is table, json or yaml.
	Output string `koanf:"output" yaml:"output"`

	// Timeout bounds each request, as a Go duration.
	Timeout string `koanf:"timeout" yaml:"timeout"`

	// CAFile pins the CA of an https admin endpoint. Empty trusts the
	// system roots.
	CAFile string `koanf:"ca_file" yaml:"ca_file,omitempty"`

	// CertFile and KeyFile are presented when the server asks for a
	// client certificate.
	CertFile string `koanf:"cert_file" yaml:"cert_file,omitempty"`
	KeyFile  string `koanf:"key_file" yaml:"key_file,omitempty"`

	// Servers maps names to admin endpoints.
	Servers map[string]string `koanf:"servers" yaml:"servers,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Server:  DefaultServer,
		Output:  DefaultOutput,
		Timeout: DefaultTimeout,
		Servers: make(map[string]string),
	}
}

// Resolve maps a server name to its endpoint. Anything that is not a
// known name is returned unchanged.
func (c *CLIConfig) Resolve(server string) string {
	if addr, ok := c.Servers[server]; ok {
		return addr
	}
	return server
}

// RequestTimeout parses Timeout, falling back to the default.
func (c *CLIConfig) RequestTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultTimeout)
	return d
}
