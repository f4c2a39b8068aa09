// Package mcp implements the server side of the Model Context Protocol (MCP) over the
// Streamable HTTP transport, plus a stdio transport for local use.
//
// A Server owns the protocol conversation of every session a ServerTransport yields:
// it answers the initialize handshake, lists tools and routes tools/call requests to
// a ToolServer. StreamableHTTPServer is the HTTP transport. It keeps the table of live
// sessions, creates a session for every initialize request that arrives without an
// Mcp-Session-Id header, and routes later POST, GET and DELETE requests on /mcp to the
// session named by that header:
//
//	transport := mcp.NewStreamableHTTPServer()
//	srv := mcp.NewServer(info, transport, mcp.WithToolServer(tools))
//	go srv.Serve()
//	http.Handle("/mcp", transport)
//
// Each session handles one request at a time. A second request sent on the same session
// while the first is still running is rejected with 409 Conflict instead of being
// interleaved with the first one's stream frames.
package mcp
