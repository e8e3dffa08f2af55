// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes
// dissected JavaScript modules to clients. It uses the mark3labs/mcp-go library
// to handle the protocol details. dissect_module opens a session for a module
// shipped as a tar.gz workdir; get_binding, set_binding and call_export work on
// that session until close_session discards it.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, sessions)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
