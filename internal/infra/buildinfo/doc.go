// Package buildinfo exposes version information injected at build time:
//
//	go build -ldflags "-X github.com/yndnr/spanmesh-go/internal/infra/buildinfo.Version=v0.3.0"
package buildinfo
