package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/policy"
	"arkavo.org/accesscore/internal/registry"
)

func (a *API) policyRoutes(r chi.Router) {
	r.Post("/policies", a.createPolicy)
	r.Get("/policies/{id}", a.getPolicy)
	r.Put("/policies/{id}", a.updatePolicy)
	r.Delete("/policies/{id}", a.deletePolicy)
	r.Post("/policies/{id}/evaluate", a.evaluatePolicy)
}

func uint32Param(w http.ResponseWriter, r *http.Request, name string) (uint32, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
	if err != nil {
		badRequest(w, r, "invalid "+name)
		return 0, false
	}
	return uint32(v), true
}

type createPolicyRequest struct {
	Resource       string             `json:"resource" validate:"required,max=256"`
	Attributes     []policy.Attribute `json:"attributes" validate:"max=50,dive"`
	MinEntitlement registry.Level     `json:"min_entitlement"`
}

type policyResult struct {
	PolicyID uint32 `json:"policy_id"`
}

func (a *API) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	a.execute(w, r, http.StatusCreated, "policy.CreatePolicy", func(c *chain.Call) (any, error) {
		id, err := a.node.Policy.CreatePolicy(c, req.Resource, req.Attributes, uint8(req.MinEntitlement))
		return policyResult{PolicyID: id}, err
	})
}

type policyView struct {
	PolicyID uint32 `json:"policy_id"`
	policy.Rule
}

func (a *API) getPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := uint32Param(w, r, "id")
	if !ok {
		return
	}
	a.query(w, r, func(c *chain.Call) (any, error) {
		rule, ok, err := a.node.Policy.GetPolicy(c, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, chain.ErrPolicyNotFound
		}
		return policyView{PolicyID: id, Rule: rule}, nil
	})
}

// updatePolicyRequest replaces everything but the resource id.
type updatePolicyRequest struct {
	Attributes     []policy.Attribute `json:"attributes" validate:"max=50,dive"`
	MinEntitlement registry.Level     `json:"min_entitlement"`
	Active         *bool              `json:"active" validate:"required"`
}

func (a *API) updatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := uint32Param(w, r, "id")
	if !ok {
		return
	}
	var req updatePolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	a.execute(w, r, http.StatusOK, "policy.UpdatePolicy", func(c *chain.Call) (any, error) {
		return policyResult{PolicyID: id}, a.node.Policy.UpdatePolicy(c, id, req.Attributes, uint8(req.MinEntitlement), *req.Active)
	})
}

func (a *API) deletePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := uint32Param(w, r, "id")
	if !ok {
		return
	}
	a.execute(w, r, http.StatusOK, "policy.DeletePolicy", func(c *chain.Call) (any, error) {
		return policyResult{PolicyID: id}, a.node.Policy.DeletePolicy(c, id)
	})
}

type evaluateRequest struct {
	Account chain.Address `json:"account" validate:"required"`
}

type decisionResult struct {
	PolicyID uint32        `json:"policy_id"`
	Account  chain.Address `json:"account"`
	Allowed  bool          `json:"allowed"`
}

// evaluatePolicy runs as a transaction so the decision event lands in the log.
func (a *API) evaluatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := uint32Param(w, r, "id")
	if !ok {
		return
	}
	var req evaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	a.execute(w, r, http.StatusOK, "policy.EvaluateAccess", func(c *chain.Call) (any, error) {
		allowed, err := a.node.Policy.EvaluateAccess(c, req.Account, id)
		return decisionResult{PolicyID: id, Account: req.Account, Allowed: allowed}, err
	})
}
