// Package main provides the entry point for spanmesh-cli.
//
// Usage:
//
//	spanmesh-cli [--server addr|name] [--output table|json|yaml] <command>
//	spanmesh-cli status
//	spanmesh-cli spans --cluster alpha
//	spanmesh-cli ping -n 3 01J9Z...
//	spanmesh-cli peers add 10.0.0.7:5420
package main
