package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/registry"
)

func (a *API) paymentRoutes(r chi.Router) {
	r.Post("/payments", a.recordPayment)
	r.Get("/payments/{id}", a.getPayment)
	r.Get("/payments/by-transaction/{tx}", a.getPaymentByTransaction)
	r.Post("/payments/{id}/complete", a.completePayment)
	r.Post("/payments/{id}/fail", a.failPayment)
	r.Post("/payments/{id}/refund", a.refundPayment)

	r.Get("/payments/processors/{account}", a.isProcessor)
	r.Put("/payments/processors/{account}", a.authorizeProcessor)
	r.Delete("/payments/processors/{account}", a.revokeProcessor)
}

type recordPaymentRequest struct {
	Account       chain.Address  `json:"account" validate:"required"`
	Provider      string         `json:"provider" validate:"required,max=256"`
	TransactionID string         `json:"transaction_id" validate:"required,max=256"`
	Amount        uint64         `json:"amount"`
	Level         registry.Level `json:"entitlement_level"`
}

type paymentResult struct {
	PaymentID uint32 `json:"payment_id"`
}

func (a *API) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	a.execute(w, r, http.StatusCreated, "payments.RecordPayment", func(c *chain.Call) (any, error) {
		id, err := a.node.Payments.RecordPayment(c, req.Account, req.Provider, req.TransactionID, req.Amount, uint8(req.Level))
		return paymentResult{PaymentID: id}, err
	})
}

func (a *API) getPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := uint32Param(w, r, "id")
	if !ok {
		return
	}
	a.query(w, r, func(c *chain.Call) (any, error) {
		p, ok, err := a.node.Payments.GetPayment(c, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, chain.ErrPaymentNotFound
		}
		return p, nil
	})
}

func (a *API) getPaymentByTransaction(w http.ResponseWriter, r *http.Request) {
	tx := chi.URLParam(r, "tx")
	a.query(w, r, func(c *chain.Call) (any, error) {
		id, ok, err := a.node.Payments.GetPaymentByTransaction(c, tx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, chain.ErrPaymentNotFound
		}
		p, _, err := a.node.Payments.GetPayment(c, id)
		return p, err
	})
}

func (a *API) completePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := uint32Param(w, r, "id")
	if !ok {
		return
	}
	a.execute(w, r, http.StatusOK, "payments.CompletePayment", func(c *chain.Call) (any, error) {
		return paymentResult{PaymentID: id}, a.node.Payments.CompletePayment(c, id)
	})
}

type failPaymentRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

func (a *API) failPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := uint32Param(w, r, "id")
	if !ok {
		return
	}
	var req failPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	a.execute(w, r, http.StatusOK, "payments.FailPayment", func(c *chain.Call) (any, error) {
		return paymentResult{PaymentID: id}, a.node.Payments.FailPayment(c, id, req.Reason)
	})
}

func (a *API) refundPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := uint32Param(w, r, "id")
	if !ok {
		return
	}
	a.execute(w, r, http.StatusOK, "payments.RefundPayment", func(c *chain.Call) (any, error) {
		return paymentResult{PaymentID: id}, a.node.Payments.RefundPayment(c, id)
	})
}

func (a *API) isProcessor(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	a.query(w, r, func(c *chain.Call) (any, error) {
		yes, err := a.node.Payments.IsAuthorizedProcessor(c, account)
		return map[string]any{"processor": account, "authorized": yes}, err
	})
}

func (a *API) authorizeProcessor(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	a.execute(w, r, http.StatusOK, "payments.AuthorizeProcessor", func(c *chain.Call) (any, error) {
		return nil, a.node.Payments.AuthorizeProcessor(c, account)
	})
}

func (a *API) revokeProcessor(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	a.execute(w, r, http.StatusOK, "payments.RevokeProcessor", func(c *chain.Call) (any, error) {
		return nil, a.node.Payments.RevokeProcessor(c, account)
	})
}
