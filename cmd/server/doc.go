// Package main is the entry point for the dissect MCP server.
//
// The server exposes dissected JavaScript modules over the Model Context
// Protocol: a client ships a module tree as a tar.gz workdir, and the server
// loads the requested module so its top-level bindings can be read, assigned
// and exercised through MCP tools. The server supports both stdio and HTTP
// transports and can serve Prometheus metrics on a separate port.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
