package config

// OTLPConfig holds OpenTelemetry trace exporter configuration.
//
// When Endpoint is empty, tracing stays disabled. See
// internal/observability for the exporter setup.
type OTLPConfig struct {
	// Endpoint is the OTLP/HTTP collector endpoint (e.g. localhost:4318).
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// Environment is the deployment environment tag (default: dev).
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the service name reported on traces (default: gurag).
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}
