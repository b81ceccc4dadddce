// Package cmd implements the command-line interface for frontdesk-ai.
//
// This package provides the following commands:
//   - serve: Start the MCP tool server, dashboard API and metrics endpoint
//   - keygen: Generate a base64 AES-256 key for credential encryption
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
package cmd
