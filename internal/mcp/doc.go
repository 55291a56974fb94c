// Package mcp serves the attachment cache to an agent host over newline
// delimited JSON-RPC 2.0 on stdio.
//
// The server exposes one tool, get-attachments-list, which populates a crash
// bundle on demand, and a resource template that reads files from bundles
// already on disk. Listing and reading resources never trigger downloads.
package mcp
