package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/primestream/api"
)

// Routes holds the streaming endpoints mounted next to the REST API.
// Nil handlers are not mounted.
type Routes struct {
	Stream    http.HandlerFunc
	Negotiate http.HandlerFunc
	SyncSSE   http.HandlerFunc
}

// LoadSwagger parses and validates the embedded OpenAPI document.
func LoadSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromData(api.OpenAPISpec)
	if err != nil {
		return nil, fmt.Errorf("loading openapi spec: %w", err)
	}
	if err := swagger.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validating openapi spec: %w", err)
	}
	swagger.Servers = nil // Allow any host
	return swagger, nil
}

func NewRouter(server *Server, routes Routes, ratePerSecond int, logger *zap.Logger) (http.Handler, error) {
	swagger, err := LoadSwagger()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	// Streaming routes take over the connection; keep them out of Compress.
	if routes.Stream != nil {
		r.Get("/ws/stream", routes.Stream)
	}
	if routes.Negotiate != nil {
		r.Get("/negotiate", routes.Negotiate)
	}
	if routes.SyncSSE != nil {
		r.Get("/sync/sse", routes.SyncSSE)
	}

	r.Group(func(docs chi.Router) {
		docs.Use(middleware.Compress(5))
		docs.Get("/openapi.yaml", openapiHandler)
	})

	// API routes with OpenAPI validation
	r.Group(func(apiRouter chi.Router) {
		apiRouter.Use(middleware.Compress(5))
		apiRouter.Use(oapimiddleware.OapiRequestValidatorWithOptions(swagger, &oapimiddleware.Options{
			ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
				writeError(w, statusCode, message)
			},
		}))

		apiRouter.Get("/health", server.GetHealth)
		apiRouter.Get("/v1/cursor", server.GetCursor)

		apiRouter.Group(func(primes chi.Router) {
			primes.Use(rateLimitMiddleware(rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond*2), logger))
			primes.Get("/v1/primes/next", server.GetNextPrime)
			primes.Get("/v1/primes/previous", server.GetPreviousPrimes)
			primes.Get("/v1/primes/check/{n}", server.CheckPrime)
		})
	})

	return r, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware rejects requests beyond the limiter's budget. Lookups
// are CPU bound, so excess callers are turned away rather than queued.
func rateLimitMiddleware(limiter *rate.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Debug("rate limited", zap.String("path", r.URL.Path))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(api.OpenAPISpec)
}
