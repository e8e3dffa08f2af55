// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and DISSECT_-prefixed environment variables.
// It covers the MCP server transport, the dissect engine defaults, the module
// loader and the session limits.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server transport: %s\n", cfg.Server.Transport)
package config
