// Package cmd implements the command-line interface for slotfinder.
//
// This package provides the following commands:
//   - serve: Start the HTTP API and MCP server, or an MCP server on stdio
//   - slots: Query free slots once and print them
//   - link / unlink: Connect or disconnect a Google calendar for an identity
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
//
// Every command reads the same configuration: built-in defaults, then the
// TOML file named by --config, then .env, then the environment, then flags.
package cmd
