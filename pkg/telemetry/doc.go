// Package telemetry provides observability instrumentation for scopekeeper.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), and metrics (Prometheus) behind one configuration struct.
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// The finalization engine takes the Tracer and Metrics through its options;
// core packages take the zerolog logger through their constructors and derive
// component child loggers from it. Tracing and metrics are disabled by
// default and enabled through the tool configuration file.
package telemetry
