// Package popgate is a small HTTP gateway that serves static files and
// brokers long-running producer jobs over a two-phase protocol.
//
// A client first sends a POP request to "/" and receives a job
// identifier. A later POP request to "/<identifier>" carries the job's
// input; the gateway holds that response open while the producer runs and
// answers with the producer's accumulated output.
//
// # Quick Start
//
//	gw, err := gateway.New(popgate.DefaultConfig(),
//	    gateway.WithLogger(logger),
//	    gateway.WithProducer(producer.NewCommand("scanimage", "--format=pnm")),
//	)
//	if err != nil { ... }
//	srv := &http.Server{Addr: ":8080", Handler: gw.Router()}
//
// # Architecture
//
// The root package holds Config and the sentinel errors. Subpackages own
// one concern each: id (identifier generation), respond (static responses),
// producer (external processes), job (job lifecycle and registry), gateway
// (routing and wiring), and the extension packages that observe job
// lifecycle events (observability, stream, relay_hook, audit_hook).
//
// Job state lives in process memory only and is lost on restart.
package popgate
