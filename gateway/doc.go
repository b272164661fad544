// Package gateway wires popgate's subsystems into an http.Handler.
//
// A Gateway owns the job registry, the extension registry, the admission
// controller, the worker pool, and the stream broker. Its handler routes
// requests by method:
//
//   - GET serves a static file under the configured root;
//   - POP "/" creates a job and answers 201 with its identifier;
//   - POP "/<identifier>" attaches the request to that job, runs the
//     producer with the request body as input, and answers with the
//     producer's output;
//   - anything else is 405.
//
// # Building a Gateway
//
//	gw, err := gateway.New(popgate.DefaultConfig(),
//	    gateway.WithLogger(logger),
//	    gateway.WithProducer(producer.NewCommand("/usr/local/bin/scan")),
//	    gateway.WithExtension(audithook.New(audithook.NewSlogRecorder(logger))),
//	)
//	if err != nil { ... }
//	if err := gw.Start(ctx); err != nil { ... }
//	defer gw.Stop(ctx)
//	http.ListenAndServe(":8080", gw.Router())
//
// # Options
//
//   - [WithLogger]: structured logger for all subsystems
//   - [WithProducer]: the producer run for every job (default: echo)
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add middleware after the built-in chain
//   - [WithTracerProvider] / [WithMeterProvider]: OpenTelemetry providers
//   - [WithResponderOptions]: MIME and status tables for responses
package gateway
