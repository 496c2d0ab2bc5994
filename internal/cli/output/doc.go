// Package output renders spanmesh-cli results as tables, JSON or YAML.
//
// JSON and YAML share field names: YAML is produced from the JSON
// encoding, so the json struct tags of the API types apply to both.
package output
