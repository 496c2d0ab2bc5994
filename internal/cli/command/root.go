package command

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/spanmesh-go/internal/cli/config"
	"github.com/yndnr/spanmesh-go/internal/cli/connection"
	"github.com/yndnr/spanmesh-go/internal/cli/output"
	"github.com/yndnr/spanmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/spanmesh-go/internal/infra/tlsroots"
)

const configKey = "cliConfig"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "spanmesh-cli",
		Usage:   "inspect and manage a span mesh node",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			StatusCommand(),
			SpansCommand(),
			ConnsCommand(),
			PingCommand(),
			RouteCommand(),
			PeersCommand(),
			ConfigCommand(),
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if c.App.Metadata == nil {
				c.App.Metadata = make(map[string]any)
			}
			c.App.Metadata[configKey] = cfg
			return nil
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "admin API address or configured server name",
			EnvVars: []string{"SPANMESH_SERVER"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "show more columns",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "request timeout",
		},
		&cli.StringFlag{
			Name:  "ca-file",
			Usage: "CA certificate for an https server",
		},
		&cli.StringFlag{
			Name:  "cert-file",
			Usage: "client certificate for an https server",
		},
		&cli.StringFlag{
			Name:  "key-file",
			Usage: "client key for an https server",
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI configuration file",
			EnvVars: []string{"SPANMESH_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
	}
}

// Settings are the effective global options: flags over the config file.
type Settings struct {
	Server  string
	Output  output.Format
	Wide    bool
	Timeout time.Duration

	CAFile   string
	CertFile string
	KeyFile  string
}

// cliConfig returns the configuration loaded by App.Before.
func cliConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[configKey].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// settings resolves the global options.
func settings(c *cli.Context) (*Settings, error) {
	cfg := cliConfig(c)
	s := &Settings{
		Server:  cfg.Server,
		Wide:    c.Bool("wide"),
		Timeout: cfg.RequestTimeout(),

		CAFile:   cfg.CAFile,
		CertFile: cfg.CertFile,
		KeyFile:  cfg.KeyFile,
	}
	if v := c.String("ca-file"); v != "" {
		s.CAFile = v
	}
	if v := c.String("cert-file"); v != "" {
		s.CertFile = v
	}
	if v := c.String("key-file"); v != "" {
		s.KeyFile = v
	}
	if (s.CertFile == "") != (s.KeyFile == "") {
		return nil, fmt.Errorf("--cert-file and --key-file must be given together")
	}
	if v := c.String("server"); v != "" {
		s.Server = v
	}
	s.Server = cfg.Resolve(s.Server)
	if v := c.Duration("timeout"); v > 0 {
		s.Timeout = v
	}
	name := cfg.Output
	if v := c.String("output"); v != "" {
		name = v
	}
	f, err := output.ParseFormat(name)
	if err != nil {
		return nil, err
	}
	s.Output = f
	return s, nil
}

// connect returns a client and a context bounded by the request timeout.
func connect(c *cli.Context) (*connection.HTTPClient, context.Context, context.CancelFunc, error) {
	s, err := settings(c)
	if err != nil {
		return nil, nil, nil, err
	}
	client := connection.NewHTTPClient(s.Server, s.Timeout)
	if s.CAFile != "" || s.CertFile != "" {
		tlsCfg, err := clientTLS(s)
		if err != nil {
			return nil, nil, nil, err
		}
		client.WithTLS(tlsCfg)
	}
	ctx, cancel := context.WithTimeout(c.Context, s.Timeout)
	return client, ctx, cancel, nil
}

func clientTLS(s *Settings) (*tls.Config, error) {
	var roots *x509.CertPool
	if s.CAFile != "" {
		pool, err := tlsroots.LoadPool(s.CAFile)
		if err != nil {
			return nil, err
		}
		roots = pool
	}
	var pair *tlsroots.Watcher
	if s.CertFile != "" {
		w, err := tlsroots.NewWatcher(s.CertFile, s.KeyFile)
		if err != nil {
			return nil, err
		}
		pair = w
	}
	return tlsroots.ClientConfig(roots, pair), nil
}

// render writes data in the selected format.
func render(c *cli.Context, data any) error {
	s, err := settings(c)
	if err != nil {
		return err
	}
	return output.NewFormatter(s.Output, s.Wide).Format(writer(c), data)
}

func writer(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func requireArgs(c *cli.Context, n int, usage string) error {
	if c.NArg() != n {
		return fmt.Errorf("usage: %s %s", c.Command.FullName(), usage)
	}
	return nil
}
