package gateway

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/popgate"
	"github.com/xraph/popgate/id"
	"github.com/xraph/popgate/producer"
	"github.com/xraph/popgate/respond"
)

// MethodPOP is the custom verb of the job protocol.
const MethodPOP = "POP"

const (
	msgCreated      = "Connection initialized"
	msgIncorrectURL = "Incorrect url"
)

func init() {
	chi.RegisterMethod(MethodPOP)
}

// Router returns the public handler: GET serves static files, POP drives
// the job protocol, and every other verb is refused with 405.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(g.recoverer)
	r.MethodNotAllowed(g.methodNotAllowed)
	r.Get("/*", g.serveStatic)
	r.Method(MethodPOP, "/", http.HandlerFunc(g.create))
	r.Method(MethodPOP, "/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.continueJob(w, r, chi.URLParam(r, "*"))
	}))
	return r
}

// recoverer logs a panicking handler and answers 500 so the serving
// process keeps going.
func (g *Gateway) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				g.logger.Error("request handler panicked",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
				)
				_ = g.respond(w).SendError(http.StatusInternalServerError, "") //nolint:errcheck // best effort
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", "GET, "+MethodPOP)
	_ = g.respond(w).SendError(http.StatusMethodNotAllowed, "") //nolint:errcheck // client gone
}

func (g *Gateway) respond(w http.ResponseWriter) *respond.Responder {
	return respond.New(w, g.respondOpts...)
}

func (g *Gateway) serveStatic(w http.ResponseWriter, r *http.Request) {
	err := g.respond(w).SendFile(g.cfg.Root, r.URL.Path, g.cfg.DefaultFile)
	if err != nil {
		g.logger.Warn("static response failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// create answers POP "/": it registers a pending job and returns its
// identifier. The pending cap is enforced by the registry itself, inside
// the same critical section that inserts the job.
func (g *Gateway) create(w http.ResponseWriter, r *http.Request) {
	if err := g.admission.Admit(clientHost(r)); err != nil {
		g.refuse(w, err)
		return
	}

	j, err := g.jobs.Create(r.Context())
	if err != nil {
		g.refuse(w, err)
		return
	}

	if err := g.respond(w).SendString(j.ID(), http.StatusCreated, msgCreated); err != nil {
		g.logger.Warn("create response failed",
			slog.String("job_id", j.ID()),
			slog.String("error", err.Error()),
		)
	}
}

func (g *Gateway) refuse(w http.ResponseWriter, err error) {
	code := http.StatusServiceUnavailable
	if errors.Is(err, popgate.ErrRateLimited) {
		code = http.StatusTooManyRequests
	}
	g.logger.Info("job creation refused", slog.String("error", err.Error()))
	_ = g.respond(w).SendError(code, "") //nolint:errcheck // client gone
}

// continueJob answers POP "/<identifier>": it attaches the response to
// the job and runs the producer with the request body.
func (g *Gateway) continueJob(w http.ResponseWriter, r *http.Request, identifier string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.cfg.MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = g.respond(w).SendError(http.StatusRequestEntityTooLarge, "") //nolint:errcheck // client gone
			return
		}
		g.badURL(w, identifier, fmt.Errorf("%w: read body: %w", popgate.ErrIOFault, err))
		return
	}

	if !id.Valid(identifier) {
		g.badURL(w, identifier, popgate.ErrMalformedIdentifier)
		return
	}
	j, ok := g.jobs.Lookup(identifier)
	if !ok {
		g.badURL(w, identifier, popgate.ErrUnknownIdentifier)
		return
	}
	if err := j.Attach(r.Context(), w); err != nil {
		g.badURL(w, identifier, err)
		return
	}

	in := producer.Input{
		JobID:       identifier,
		ContentType: r.Header.Get("Content-Type"),
		Payload:     body,
	}
	// Run answers the job itself, on success and on failure.
	if err := g.pool.Run(r.Context(), j, in); err != nil {
		g.logger.Warn("job failed",
			slog.String("job_id", identifier),
			slog.String("error", err.Error()),
		)
	}
}

func (g *Gateway) badURL(w http.ResponseWriter, identifier string, err error) {
	g.logger.Info("continuation rejected",
		slog.String("job_id", identifier),
		slog.String("error", err.Error()),
	)
	_ = g.respond(w).SendError(http.StatusBadRequest, msgIncorrectURL) //nolint:errcheck // client gone
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
