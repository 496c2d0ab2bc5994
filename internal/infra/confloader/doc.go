// Package confloader loads configuration with koanf and watches the
// configuration file with fsnotify.
//
// Priority (highest to lowest):
//
//  1. Environment variables (SPANMESH_ prefix)
//  2. Configuration file (YAML)
//  3. Values already set on the target, usually config.Default()
package confloader
