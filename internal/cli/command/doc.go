// Package command defines the spanmesh-cli commands on top of urfave/cli.
//
// Every command talks to one server's admin API, chosen by --server (an
// address or a name from the CLI config file), and renders through the
// output package in the format picked by --output.
package command
