package httpapi

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/config"
	"arkavo.org/accesscore/internal/registry"
)

func (a *API) registryRoutes(r chi.Router) {
	r.Get("/registry", a.getRegistry)
	r.Put("/registry/attribute-store", a.setAttributeStore)
	r.Get("/registry/roles/{role}/{account}", a.hasRole)
	r.Put("/registry/roles/{role}/{account}", a.grantRole)
	r.Delete("/registry/roles/{role}/{account}", a.revokeRole)

	r.Get("/entitlements/{account}", a.getEntitlement)
	r.Put("/entitlements/{account}", a.grantEntitlement)
	r.Delete("/entitlements/{account}", a.revokeEntitlement)

	r.Get("/scopes/{scope}", a.getScope)
	r.Put("/scopes/{scope}", a.setScope)

	r.Post("/sessions", a.createSession)
	r.Post("/sessions/request", a.requestSession)
	r.Get("/sessions/{id}", a.getSession)
	r.Delete("/sessions/{id}", a.revokeSession)
}

type registryView struct {
	Address        chain.Address `json:"address"`
	Owner          chain.Address `json:"owner"`
	AttributeStore chain.Address `json:"attribute_store"`
	Scheme         string        `json:"merkle_scheme"`
}

func (a *API) getRegistry(w http.ResponseWriter, r *http.Request) {
	reg := a.node.Registry
	a.query(w, r, func(c *chain.Call) (any, error) {
		owner, err := reg.Owner(c)
		if err != nil {
			return nil, err
		}
		store, _, err := reg.AttributeStore(c)
		if err != nil {
			return nil, err
		}
		return registryView{Address: reg.Address(), Owner: owner, AttributeStore: store, Scheme: reg.Scheme().String()}, nil
	})
}

type addressRequest struct {
	Address chain.Address `json:"address" validate:"required"`
}

func (a *API) setAttributeStore(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	a.execute(w, r, http.StatusOK, "registry.SetAttributeStore", func(c *chain.Call) (any, error) {
		return nil, a.node.Registry.SetAttributeStore(c, req.Address)
	})
}

// roleParams parses {role} and {account}, writing a 400 on failure.
func roleParams(w http.ResponseWriter, r *http.Request) (registry.Role, chain.Address, bool) {
	role, ok := registry.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		badRequest(w, r, "unknown role")
		return 0, chain.Address{}, false
	}
	account, err := pathAddress(chi.URLParam(r, "account"))
	if err != nil {
		badRequest(w, r, "invalid account address")
		return 0, chain.Address{}, false
	}
	return role, account, true
}

type roleView struct {
	Role    registry.Role `json:"role"`
	Account chain.Address `json:"account"`
	Granted bool          `json:"granted"`
}

func (a *API) hasRole(w http.ResponseWriter, r *http.Request) {
	role, account, ok := roleParams(w, r)
	if !ok {
		return
	}
	a.query(w, r, func(c *chain.Call) (any, error) {
		granted, err := a.node.Registry.HasRole(c, role, account)
		return roleView{Role: role, Account: account, Granted: granted}, err
	})
}

func (a *API) grantRole(w http.ResponseWriter, r *http.Request) {
	role, account, ok := roleParams(w, r)
	if !ok {
		return
	}
	a.execute(w, r, http.StatusOK, "registry.GrantRole", func(c *chain.Call) (any, error) {
		return nil, a.node.Registry.GrantRole(c, role, account)
	})
}

func (a *API) revokeRole(w http.ResponseWriter, r *http.Request) {
	role, account, ok := roleParams(w, r)
	if !ok {
		return
	}
	a.execute(w, r, http.StatusOK, "registry.RevokeRole", func(c *chain.Call) (any, error) {
		return nil, a.node.Registry.RevokeRole(c, role, account)
	})
}

func accountParam(w http.ResponseWriter, r *http.Request) (chain.Address, bool) {
	account, err := pathAddress(chi.URLParam(r, "account"))
	if err != nil {
		badRequest(w, r, "invalid account address")
		return chain.Address{}, false
	}
	return account, true
}

type entitlementView struct {
	Account  chain.Address   `json:"account"`
	Level    registry.Level  `json:"level"`
	Required *registry.Level `json:"required,omitempty"`
	Allowed  *bool           `json:"allowed,omitempty"`
}

func (a *API) getEntitlement(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	var required *registry.Level
	if raw := r.URL.Query().Get("required"); raw != "" {
		lvl, err := registry.ParseLevel(raw)
		if err != nil {
			handleChainError(w, r, err)
			return
		}
		required = &lvl
	}
	a.query(w, r, func(c *chain.Call) (any, error) {
		lvl, err := a.node.Registry.GetEntitlement(c, account)
		if err != nil {
			return nil, err
		}
		view := entitlementView{Account: account, Level: lvl}
		if required != nil {
			allowed := lvl.AtLeast(*required)
			view.Required, view.Allowed = required, &allowed
		}
		return view, nil
	})
}

type entitlementRequest struct {
	Level registry.Level `json:"level"`
}

func (a *API) grantEntitlement(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	var req entitlementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if kind := chain.KindOf(err); kind != "" {
			handleChainError(w, r, err)
			return
		}
		badRequest(w, r, err.Error())
		return
	}
	a.execute(w, r, http.StatusOK, "registry.GrantEntitlement", func(c *chain.Call) (any, error) {
		return nil, a.node.Registry.GrantEntitlement(c, account, req.Level)
	})
}

func (a *API) revokeEntitlement(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	a.execute(w, r, http.StatusOK, "registry.RevokeEntitlement", func(c *chain.Call) (any, error) {
		return nil, a.node.Registry.RevokeEntitlement(c, account)
	})
}

type scopeView struct {
	ScopeID chain.Hash `json:"scope_id"`
	registry.ScopeRequirement
}

// scopeParam resolves {scope} as a 0x hash or a label.
func scopeParam(w http.ResponseWriter, r *http.Request) (chain.Hash, bool) {
	id, err := config.ResolveHash(chi.URLParam(r, "scope"))
	if err != nil {
		badRequest(w, r, "invalid scope id")
		return chain.Hash{}, false
	}
	return id, true
}

func (a *API) getScope(w http.ResponseWriter, r *http.Request) {
	id, ok := scopeParam(w, r)
	if !ok {
		return
	}
	a.query(w, r, func(c *chain.Call) (any, error) {
		req, ok, err := a.node.Registry.GetScopeRequirement(c, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, chain.ErrScopeNotFound
		}
		return scopeView{ScopeID: id, ScopeRequirement: req}, nil
	})
}

// scopeRequest names required commitments as 32-byte hex or labels.
type scopeRequest struct {
	Required []string `json:"required" validate:"max=64,dive,required,hashref"`
	Active   *bool    `json:"active"`
}

func (a *API) setScope(w http.ResponseWriter, r *http.Request) {
	id, ok := scopeParam(w, r)
	if !ok {
		return
	}
	var req scopeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	gs := config.GenesisScope{Required: req.Required, Active: req.Active}
	required, err := gs.RequiredHashes()
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	a.execute(w, r, http.StatusOK, "registry.SetScopeRequirement", func(c *chain.Call) (any, error) {
		return scopeView{ScopeID: id}, a.node.Registry.SetScopeRequirement(c, id, required, gs.IsActive())
	})
}

type createSessionRequest struct {
	SessionID      chain.Hash    `json:"session_id" validate:"required"`
	EphPubKey      hexutil.Bytes `json:"eph_pub_key"`
	Scope          string        `json:"scope" validate:"required,hashref"`
	ExpiresAtBlock uint64        `json:"expires_at_block"`
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	scope, err := config.ResolveHash(req.Scope)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	a.execute(w, r, http.StatusCreated, "registry.CreateSession", func(c *chain.Call) (any, error) {
		return sessionResult{SessionID: req.SessionID}, a.node.Registry.CreateSession(c, req.SessionID, req.EphPubKey, scope, req.ExpiresAtBlock)
	})
}

type proofRequest struct {
	Attribute    string       `json:"attribute" validate:"required,hashref"`
	ProofPath    []chain.Hash `json:"proof_path" validate:"max=64"`
	ProofIndices []int        `json:"proof_indices" validate:"max=64,dive,min=0,max=1"`
}

type requestSessionRequest struct {
	EphPubKey      hexutil.Bytes  `json:"eph_pub_key"`
	Scope          string         `json:"scope" validate:"required,hashref"`
	DurationBlocks uint64         `json:"duration_blocks"`
	Proofs         []proofRequest `json:"proofs" validate:"dive"`
	Root           chain.Hash     `json:"root"`
}

type sessionResult struct {
	SessionID chain.Hash `json:"session_id"`
}

// toAttributeProofs converts request proofs. Indices must be 0 or 1; the
// validator has already rejected anything else.
func toAttributeProofs(in []proofRequest) ([]registry.AttributeProof, error) {
	out := make([]registry.AttributeProof, len(in))
	for i, p := range in {
		attr, err := config.ResolveHash(p.Attribute)
		if err != nil {
			return nil, err
		}
		idx := make([]byte, len(p.ProofIndices))
		for j, v := range p.ProofIndices {
			idx[j] = byte(v)
		}
		out[i] = registry.AttributeProof{
			AttributeHash: attr,
			ProofPath:     p.ProofPath,
			ProofIndices:  idx,
		}
	}
	return out, nil
}

func (a *API) requestSession(w http.ResponseWriter, r *http.Request) {
	var req requestSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	scope, err := config.ResolveHash(req.Scope)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	proofs, err := toAttributeProofs(req.Proofs)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	a.execute(w, r, http.StatusCreated, "registry.RequestSession", func(c *chain.Call) (any, error) {
		id, err := a.node.Registry.RequestSession(c, req.EphPubKey, scope, req.DurationBlocks, proofs, req.Root)
		return sessionResult{SessionID: id}, err
	})
}

func sessionParam(w http.ResponseWriter, r *http.Request) (chain.Hash, bool) {
	id, err := chain.ParseHash(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, r, "invalid session id")
		return chain.Hash{}, false
	}
	return id, true
}

type sessionView struct {
	SessionID chain.Hash `json:"session_id"`
	Valid     bool       `json:"valid"`
	registry.SessionGrant
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	a.query(w, r, func(c *chain.Call) (any, error) {
		grant, ok, err := a.node.Registry.GetSession(c, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, chain.ErrSessionNotFound
		}
		return sessionView{SessionID: id, Valid: grant.Valid(c.BlockNumber()), SessionGrant: grant}, nil
	})
}

func (a *API) revokeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	a.execute(w, r, http.StatusOK, "registry.RevokeSession", func(c *chain.Call) (any, error) {
		return nil, a.node.Registry.RevokeSession(c, id)
	})
}
