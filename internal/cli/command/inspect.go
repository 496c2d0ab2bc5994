package command

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/spanmesh-go/internal/server/httpserver/handler"
)

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show node identity, build and topology counts",
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := connect(c)
			if err != nil {
				return err
			}
			defer cancel()
			resp, err := client.Status(ctx)
			if err != nil {
				return err
			}
			return render(c, statusView{resp})
		},
	}
}

// SpansCommand returns the spans command.
func SpansCommand() *cli.Command {
	return &cli.Command{
		Name:    "spans",
		Aliases: []string{"tree"},
		Usage:   "show the spanning tree: every known node and its paths",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "cluster",
				Usage: "only the cluster with this label or id",
			},
		},
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := connect(c)
			if err != nil {
				return err
			}
			defer cancel()
			resp, err := client.Spans(ctx, c.String("cluster"))
			if err != nil {
				return err
			}
			return render(c, spansView{resp})
		},
	}
}

// ConnsCommand returns the conns command.
func ConnsCommand() *cli.Command {
	return &cli.Command{
		Name:    "conns",
		Aliases: []string{"links"},
		Usage:   "list the links of the node",
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := connect(c)
			if err != nil {
				return err
			}
			defer cancel()
			resp, err := client.Conns(ctx)
			if err != nil {
				return err
			}
			return render(c, connsView{resp})
		},
	}
}

// PingCommand returns the ping command.
func PingCommand() *cli.Command {
	return &cli.Command{
		Name:      "ping",
		Usage:     "measure the round trip over a link",
		ArgsUsage: "<conn-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "number of pings",
				Value:   1,
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "pause between pings",
				Value: time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1, "<conn-id>"); err != nil {
				return err
			}
			count := c.Int("count")
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}

			results := make(pingView, 0, count)
			for i := 0; i < count; i++ {
				if i > 0 {
					select {
					case <-time.After(c.Duration("interval")):
					case <-c.Context.Done():
						return c.Context.Err()
					}
				}
				res, err := pingOnce(c)
				if err != nil {
					return err
				}
				results = append(results, *res)
			}
			return render(c, results)
		},
	}
}

func pingOnce(c *cli.Context) (*handler.PingResponse, error) {
	client, ctx, cancel, err := connect(c)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return client.Ping(ctx, c.Args().First())
}

// RouteCommand returns the route command.
func RouteCommand() *cli.Command {
	return &cli.Command{
		Name:      "route",
		Usage:     "show the path a circuit toward a node takes",
		ArgsUsage: "<cluster-id> <node-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "key",
				Usage: "spread key choosing among equal-distance paths",
			},
			&cli.BoolFlag{
				Name:  "ping",
				Usage: "also send a LNK_PING over the circuit",
			},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2, "<cluster-id> <node-id>"); err != nil {
				return err
			}
			cluster, err := uuid.Parse(c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("invalid cluster id %q: %w", c.Args().Get(0), err)
			}
			node, err := uuid.Parse(c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("invalid node id %q: %w", c.Args().Get(1), err)
			}

			client, ctx, cancel, err := connect(c)
			if err != nil {
				return err
			}
			defer cancel()
			var resp *handler.RouteResponse
			if c.Bool("ping") {
				resp, err = client.PingNode(ctx, cluster, node, c.String("key"))
			} else {
				resp, err = client.Route(ctx, cluster, node, c.String("key"))
			}
			if err != nil {
				return err
			}
			return render(c, routeView{resp})
		},
	}
}

// PeersCommand returns the peers command group.
func PeersCommand() *cli.Command {
	return &cli.Command{
		Name:  "peers",
		Usage: "list dialed and discovered peers",
		Action: func(c *cli.Context) error {
			client, ctx, cancel, err := connect(c)
			if err != nil {
				return err
			}
			defer cancel()
			resp, err := client.Peers(ctx)
			if err != nil {
				return err
			}
			return render(c, peersView{resp})
		},
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "start maintaining a link to a peer",
				ArgsUsage: "<host:port>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1, "<host:port>"); err != nil {
						return err
					}
					client, ctx, cancel, err := connect(c)
					if err != nil {
						return err
					}
					defer cancel()
					addr := c.Args().First()
					if err := client.AddPeer(ctx, addr); err != nil {
						return err
					}
					fmt.Fprintf(writer(c), "dialing %s\n", addr)
					return nil
				},
			},
		},
	}
}
