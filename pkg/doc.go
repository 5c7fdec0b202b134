// Package pkg contains the capwire building blocks.
//
// Capwire is a bidirectional RPC substrate for capability-oriented
// services: a server exposes named tools, URI-addressed resources and
// prompt templates over a newline-delimited JSON-RPC stream, and a
// client discovers and invokes them.
//
// # Client usage
//
// Spawn a server as a child process and call a tool:
//
//	session := client.New(
//	    transport.NewCommand(transport.SpawnSpec{Command: "analytics-server"}),
//	    client.WithClientInfo(protocol.ClientInfo{Name: "my-client"}),
//	)
//	if err := session.Connect(ctx); err != nil {
//	    // handle error
//	}
//	defer session.Close(ctx)
//
//	result, err := session.CallTool(ctx, "fetch_sales_data", map[string]interface{}{
//	    "region": "APAC",
//	    "year":   2024,
//	})
//
// # Server implementation
//
// Register capabilities and serve over stdio:
//
//	reg := registry.New()
//	reg.RegisterTool("fetch_sales_data", "query sales", schema, handler)
//
//	srv := server.New(transport.NewStdio(), reg,
//	    server.WithServerInfo(protocol.ServerInfo{Name: "analytics-server"}),
//	)
//	if err := srv.Serve(ctx); err != nil {
//	    // handle error
//	}
//
// Subpackages: protocol (wire model and framing), transport (stdio and
// child-process byte channels), registry (capability table and schema
// validation), server (dispatcher), client (session and capability
// cache), errors (wire error model), logging, observability (metrics
// and tracing), and config (CLI configuration).
package pkg
