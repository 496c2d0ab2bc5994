package command

import (
	"fmt"
	"sort"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/spanmesh-go/internal/cli/config"
	"github.com/yndnr/spanmesh-go/internal/cli/output"
)

// ConfigCommand returns the config command group, which edits the CLI
// configuration file.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "show or edit the CLI configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "print the configuration",
				Action: configShow,
			},
			{
				Name:      "set",
				Usage:     "set server, output or timeout",
				ArgsUsage: "<key> <value>",
				Action:    configSet,
			},
			{
				Name:      "add-server",
				Usage:     "name an admin endpoint",
				ArgsUsage: "<name> <url>",
				Action:    configAddServer,
			},
			{
				Name:      "remove-server",
				Usage:     "forget a named endpoint",
				ArgsUsage: "<name>",
				Action:    configRemoveServer,
			},
		},
	}
}

type configView struct{ *config.CLIConfig }

func (v configView) Table(bool) *output.Table {
	t := &output.Table{Headers: []string{"KEY", "VALUE"}}
	t.AddRow("server", dash(v.Server))
	t.AddRow("output", dash(v.Output))
	t.AddRow("timeout", dash(v.Timeout))
	names := make([]string, 0, len(v.Servers))
	for name := range v.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.AddRow("servers."+name, v.Servers[name])
	}
	return t
}

func configShow(c *cli.Context) error {
	return render(c, configView{cliConfig(c)})
}

func configSet(c *cli.Context) error {
	if err := requireArgs(c, 2, "<key> <value>"); err != nil {
		return err
	}
	cfg := cliConfig(c)
	key, value := c.Args().Get(0), c.Args().Get(1)
	switch key {
	case "server":
		cfg.Server = value
	case "output":
		if _, err := output.ParseFormat(value); err != nil {
			return err
		}
		cfg.Output = value
	case "timeout":
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("invalid timeout %q", value)
		}
		cfg.Timeout = value
	default:
		return fmt.Errorf("unknown key %q (want server, output or timeout)", key)
	}
	return saveConfig(c, cfg)
}

func configAddServer(c *cli.Context) error {
	if err := requireArgs(c, 2, "<name> <url>"); err != nil {
		return err
	}
	cfg := cliConfig(c)
	cfg.Servers[c.Args().Get(0)] = c.Args().Get(1)
	return saveConfig(c, cfg)
}

func configRemoveServer(c *cli.Context) error {
	if err := requireArgs(c, 1, "<name>"); err != nil {
		return err
	}
	cfg := cliConfig(c)
	name := c.Args().First()
	if _, ok := cfg.Servers[name]; !ok {
		return fmt.Errorf("no server named %q", name)
	}
	delete(cfg.Servers, name)
	return saveConfig(c, cfg)
}

func saveConfig(c *cli.Context, cfg *config.CLIConfig) error {
	path := c.String("config")
	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	fmt.Fprintf(writer(c), "saved %s\n", path)
	return nil
}
