package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"arkavo.org/accesscore/internal/attrstore"
	"arkavo.org/accesscore/internal/chain"
)

func (a *API) attributeRoutes(r chi.Router) {
	r.Get("/attributes/publishers/{account}", a.isPublisher)
	r.Put("/attributes/publishers/{account}", a.authorizePublisher)
	r.Delete("/attributes/publishers/{account}", a.revokePublisher)

	r.Get("/attributes/{account}/root", a.getRoot)
	r.Put("/attributes/{account}/root", a.publishRoot)

	r.Get("/attributes/{account}/claims/{key}", a.hasClaim)
	r.Put("/attributes/{account}/claims/{key}", a.setClaim)
	r.Delete("/attributes/{account}/claims/{key}", a.clearClaim)
}

func (a *API) isPublisher(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	a.query(w, r, func(c *chain.Call) (any, error) {
		yes, err := a.node.Attributes.IsPublisher(c, account)
		return map[string]any{"publisher": account, "authorized": yes}, err
	})
}

func (a *API) authorizePublisher(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	a.execute(w, r, http.StatusOK, "attributes.AuthorizePublisher", func(c *chain.Call) (any, error) {
		return nil, a.node.Attributes.AuthorizePublisher(c, account)
	})
}

func (a *API) revokePublisher(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	a.execute(w, r, http.StatusOK, "attributes.RevokePublisher", func(c *chain.Call) (any, error) {
		return nil, a.node.Attributes.RevokePublisher(c, account)
	})
}

type rootView struct {
	Account chain.Address `json:"account"`
	attrstore.Record
}

func (a *API) getRoot(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	a.query(w, r, func(c *chain.Call) (any, error) {
		rec, ok, err := a.node.Attributes.GetRecord(c, account)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, chain.ErrRootNotFound
		}
		return rootView{Account: account, Record: rec}, nil
	})
}

type rootRequest struct {
	Root chain.Hash `json:"root" validate:"required"`
}

func (a *API) publishRoot(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	var req rootRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	a.execute(w, r, http.StatusOK, "attributes.PublishRoot", func(c *chain.Call) (any, error) {
		return nil, a.node.Attributes.PublishRoot(c, account, req.Root)
	})
}

type claimView struct {
	Account chain.Address `json:"account"`
	Key     string        `json:"key"`
	KeyHash chain.Hash    `json:"key_hash"`
	Holds   bool          `json:"holds"`
}

// hasClaim answers whether the account holds ?value= under the key.
func (a *API) hasClaim(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	value, present := r.URL.Query()["value"]
	if !present || len(value) == 0 {
		badRequest(w, r, "value query parameter is required")
		return
	}
	a.query(w, r, func(c *chain.Call) (any, error) {
		holds, err := a.node.Attributes.HasAttribute(c, account, key, value[0])
		return claimView{Account: account, Key: key, KeyHash: attrstore.ClaimKey(key), Holds: holds}, err
	})
}

// claimRequest carries either the plain value, hashed here, or its commitment.
type claimRequest struct {
	Value     *string    `json:"value" validate:"omitempty,max=256"`
	ValueHash chain.Hash `json:"value_hash"`
}

func (a *API) setClaim(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	commitment := req.ValueHash
	if req.Value == nil && commitment == (chain.Hash{}) {
		badRequest(w, r, "value or value_hash is required")
		return
	}
	if req.Value != nil {
		commitment = attrstore.ValueHash(*req.Value)
	}
	a.execute(w, r, http.StatusOK, "attributes.SetClaim", func(c *chain.Call) (any, error) {
		return claimView{Account: account, Key: key, KeyHash: attrstore.ClaimKey(key), Holds: true}, a.node.Attributes.SetClaim(c, account, key, commitment)
	})
}

func (a *API) clearClaim(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	a.execute(w, r, http.StatusOK, "attributes.ClearClaim", func(c *chain.Call) (any, error) {
		return nil, a.node.Attributes.ClearClaim(c, account, key)
	})
}
