// Package observability provides logging, metrics and tracing for the gateway.
//
// # Logging
//
// NewLogger builds a slog.Logger whose handler redacts bot tokens and other
// secrets from messages and string attributes. Transport errors from the Bot
// API embed the token in the request URL, so every logger handed to the
// Telegram components should come from here.
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	logger.With("account", "main").Info("polling started")
//
// # Metrics
//
// NewMetrics registers the gateway collectors on a prometheus.Registerer.
// A nil *Metrics is valid and drops every observation, which keeps tests
// free of global registry state.
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.UpdateReceived("main")
//	metrics.RecordSend("main", "text", "ok")
//
// # Tracing
//
// NewTracer exports spans over OTLP gRPC when an endpoint is configured and
// falls back to the global no-op provider otherwise. The registry opens one
// span per inbound update and one per outbound request.
package observability
