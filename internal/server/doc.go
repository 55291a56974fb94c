// Package server hosts the optional Fiber HTTP gateway in front of the
// attachment cache, plus the shared upstream http.Client used for BugSplat API
// calls and archive downloads. The gateway only starts when ListenPort is set;
// the MCP stdio server remains the primary surface. Keep exports narrow and
// accept explicit dependencies so tests can inject fakes.
package server
