package pubsub

import "github.com/nfrund/pairchat/internal/config"

// TracingConfigFrom extracts the bus tracing settings from the application config.
func TracingConfigFrom(cfg *config.Config) TracingConfig {
	tc := DefaultTracingConfig()
	tc.Enabled = cfg.TracingEnabled
	if cfg.TracingServiceName != "" {
		tc.ServiceName = cfg.TracingServiceName
	}
	if cfg.TracingZipkinURL != "" {
		tc.ZipkinURL = cfg.TracingZipkinURL
	}
	return tc
}
