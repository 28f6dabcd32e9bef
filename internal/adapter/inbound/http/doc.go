// Package http provides the agent's local status listener.
//
// The listener binds to loopback by default and serves:
//
//	GET  /health                       - component health as JSON (503 when degraded)
//	GET  /metrics                      - Prometheus metrics
//	POST /v1/observations/process      - submit a process creation
//	POST /v1/observations/file         - submit a file operation
//	POST /v1/observations/url          - submit a network destination
//	GET  /v1/access/prompts            - open justification prompts
//	POST /v1/access/prompts/{id}       - answer a justification prompt
//	GET  /v1/access/notifications      - recent access workflow outcomes
//
// OS monitors feed observations through the /v1/observations endpoints;
// a tray or CLI client presents prompts and notifications to the user.
//
// # Usage
//
//	server := http.NewStatusServer(agent,
//	    http.WithAddr("127.0.0.1:9464"),
//	    http.WithRegistry(reg),
//	    http.WithHealthChecker(health),
//	    http.WithPromptBroker(broker),
//	    http.WithLogger(logger),
//	)
//	err := server.Start(ctx)
//
// Requests carrying an Origin header are rejected unless the origin is
// explicitly allowed, so a web page cannot reach the listener through
// DNS rebinding.
package http
