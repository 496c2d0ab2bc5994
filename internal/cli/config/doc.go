// Package config loads and saves the spanmesh-cli configuration file
// (~/.spanmesh/cli.yaml): the default admin endpoint, output format and
// request timeout, plus named endpoints usable with --server.
package config
