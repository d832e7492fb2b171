// Package httpapi is the node's HTTP surface: transactions and queries
// against the access-control modules, the event log and its live stream,
// plus health, readiness and metrics endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"arkavo.org/accesscore/internal/auth"
	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/host"
	"arkavo.org/accesscore/internal/node"
	"arkavo.org/accesscore/internal/obs"
)

const serviceName = "accessd"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyFunc adapts a function to the readiness probe.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Check(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Options tunes the HTTP layer.
type Options struct {
	Version      string
	DevTokens    bool
	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
}

// API is the HTTP layer over one node.
type API struct {
	router     chi.Router
	node       *node.Node
	readyProbe readinessChecker
	version    string
	devTokens  bool
	rateBurst  int
	ratePerSec int
	maxBody    int64
}

func New(n *node.Node, opts Options) *API {
	a := &API{
		router:     chi.NewRouter(),
		node:       n,
		readyProbe: ReadyFunc(n.Ready),
		version:    opts.Version,
		devTokens:  opts.DevTokens,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSec,
		maxBody:    opts.MaxBodyBytes,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 50
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 25
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	// health/ready/info
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.withAuth)

		r.Get("/info", a.Info)
		r.Post("/auth/token", a.handleAuthToken)

		r.Get("/block", a.getBlock)
		r.With(RequireRole(auth.RoleOperator)).Post("/blocks/seal", a.sealBlock)
		r.Get("/events", a.listEvents)
		r.Get("/events/stream", a.Stream)

		a.registryRoutes(r)
		a.attributeRoutes(r)
		a.policyRoutes(r)
		a.paymentRoutes(r)
	})
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// txResponse is returned by every state-changing call.
type txResponse struct {
	Receipt host.Receipt `json:"receipt"`
	Result  any          `json:"result,omitempty"`
}

// execute runs fn as a transaction from the authenticated caller.
func (a *API) execute(w http.ResponseWriter, r *http.Request, code int, method string, fn func(c *chain.Call) (any, error)) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "", "authentication required")
		return
	}
	var result any
	rcpt, err := a.node.Host.Execute(r.Context(), caller, method, func(c *chain.Call) error {
		var err error
		result, err = fn(c)
		return err
	})
	if err != nil {
		handleChainError(w, r, err)
		return
	}
	writeJSON(w, code, txResponse{Receipt: rcpt, Result: result})
}

// query runs fn against committed state. Anonymous callers read as the zero address.
func (a *API) query(w http.ResponseWriter, r *http.Request, fn func(c *chain.Call) (any, error)) {
	caller, _ := auth.CallerFromContext(r.Context())
	var result any
	err := a.node.Host.Query(r.Context(), caller, func(c *chain.Call) error {
		var err error
		result, err = fn(c)
		return err
	})
	if err != nil {
		handleChainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	n := a.node
	writeJSON(w, http.StatusOK, map[string]any{
		"name":          serviceName,
		"time":          time.Now().UTC().Format(time.RFC3339),
		"version":       a.version,
		"deployer":      n.Deployer,
		"merkle_scheme": n.Registry.Scheme().String(),
		"fail_policy":   n.Payments.FailPolicy().String(),
		"modules": map[string]chain.Address{
			node.NameRegistry:   n.Registry.Address(),
			node.NameAttributes: n.Attributes.Address(),
			node.NamePolicy:     n.Policy.Address(),
			node.NamePayments:   n.Payments.Address(),
		},
	})
}
