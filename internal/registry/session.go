package registry

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"arkavo.org/accesscore/internal/chain"
)

// SessionID derives the id of a requested session. The nonce is the
// registry-wide session counter, so repeated requests for the same scope in
// one block yield distinct ids.
func SessionID(caller chain.Address, scopeID chain.Hash, block uint32, nonce uint64) chain.Hash {
	return chain.Blake2(caller.Bytes(), scopeID.Bytes(), chain.LE32(block), chain.LE64(nonce))
}

func checkEphKey(key []byte) error {
	if len(key) > MaxEphKeyLength {
		return fmt.Errorf("%w: ephemeral key is %d bytes (max %d)", chain.ErrInputTooLong, len(key), MaxEphKeyLength)
	}
	return nil
}

// CreateSession stores a pre-issued session. Admins and session issuers only.
// An existing id is never overwritten, so a revoked session stays revoked.
func (r *Registry) CreateSession(c *chain.Call, sessionID chain.Hash, ephPubKey []byte, scopeID chain.Hash, expiresAtBlock uint64) error {
	if err := r.requireRole(c, RoleAdmin, RoleSessionIssuer); err != nil {
		return err
	}
	if err := checkEphKey(ephPubKey); err != nil {
		return err
	}
	if ok, err := r.sessions.Has(c, sessionID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", chain.ErrSessionAlreadyExists, sessionID.Hex())
	}
	grant := SessionGrant{
		EphPubKey:      hexutil.Bytes(append([]byte{}, ephPubKey...)),
		ScopeID:        scopeID,
		ExpiresAtBlock: expiresAtBlock,
		CreatedAtBlock: c.BlockNumber(),
		Requester:      c.Caller(),
	}
	if err := r.sessions.Set(c, sessionID, grant); err != nil {
		return err
	}
	r.emit(c, EventSessionCreated, SessionCreated{SessionID: sessionID, ExpiresAtBlock: expiresAtBlock}, sessionID)
	return nil
}

// RevokeSession marks a session revoked. Revoking twice succeeds and emits
// again; the flag never goes back.
func (r *Registry) RevokeSession(c *chain.Call, sessionID chain.Hash) error {
	if err := r.requireRole(c, RoleAdmin, RoleSessionIssuer); err != nil {
		return err
	}
	grant, ok, err := r.sessions.Get(c, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", chain.ErrSessionNotFound, sessionID.Hex())
	}
	grant.IsRevoked = true
	if err := r.sessions.Set(c, sessionID, grant); err != nil {
		return err
	}
	r.emit(c, EventSessionRevoked, SessionRevoked{SessionID: sessionID}, sessionID)
	return nil
}

func (r *Registry) GetSession(c *chain.Call, sessionID chain.Hash) (SessionGrant, bool, error) {
	return r.sessions.Get(c, sessionID)
}

// IsSessionValid reports whether the session exists, is unrevoked and has not
// expired at the current block.
func (r *Registry) IsSessionValid(c *chain.Call, sessionID chain.Hash) (bool, error) {
	grant, ok, err := r.sessions.Get(c, sessionID)
	if err != nil || !ok {
		return false, err
	}
	return grant.Valid(c.BlockNumber()), nil
}

// RequestSession issues a session to the caller after checking every
// commitment the scope requires against root, and root against the caller's
// published attribute root.
func (r *Registry) RequestSession(c *chain.Call, ephPubKey []byte, scopeID chain.Hash, durationBlocks uint64, proofs []AttributeProof, root chain.Hash) (chain.Hash, error) {
	storeAddr, ok, err := r.AttributeStore(c)
	if err != nil {
		return chain.Hash{}, err
	}
	if !ok {
		return chain.Hash{}, chain.ErrAttributeStoreNotConfigured
	}
	if err := checkEphKey(ephPubKey); err != nil {
		return chain.Hash{}, err
	}

	req, ok, err := r.scopes.Get(c, scopeID)
	if err != nil {
		return chain.Hash{}, err
	}
	if !ok {
		return chain.Hash{}, fmt.Errorf("%w: %s", chain.ErrScopeNotFound, scopeID.Hex())
	}
	if !req.Active {
		return chain.Hash{}, fmt.Errorf("%w: %s", chain.ErrScopeInactive, scopeID.Hex())
	}

	if len(proofs) > MaxProofs {
		return chain.Hash{}, fmt.Errorf("%w: %d proofs (max %d)", chain.ErrTooManyAttributes, len(proofs), MaxProofs)
	}
	for _, required := range req.RequiredAttributes {
		p := findProof(proofs, required)
		if p == nil {
			return chain.Hash{}, fmt.Errorf("%w: %s", chain.ErrMissingRequiredAttribute, required.Hex())
		}
		if !VerifyMerkleProof(r.scheme, p.AttributeHash, p.ProofPath, p.ProofIndices, root) {
			return chain.Hash{}, fmt.Errorf("%w: attribute %s", chain.ErrInvalidProof, required.Hex())
		}
	}

	published, err := r.publishedRoot(c, storeAddr, c.Caller())
	if err != nil {
		return chain.Hash{}, err
	}
	if published != root {
		return chain.Hash{}, fmt.Errorf("%w: root does not match published root", chain.ErrInvalidProof)
	}

	block := c.BlockNumber()
	if durationBlocks > math.MaxUint64-block {
		return chain.Hash{}, fmt.Errorf("%w: %d blocks", chain.ErrInvalidDuration, durationBlocks)
	}
	nonce, err := r.nonce.GetOr(c, 0)
	if err != nil {
		return chain.Hash{}, err
	}
	id := SessionID(c.Caller(), scopeID, uint32(block), nonce)
	if ok, err := r.sessions.Has(c, id); err != nil {
		return chain.Hash{}, err
	} else if ok {
		return chain.Hash{}, fmt.Errorf("%w: %s", chain.ErrSessionAlreadyExists, id.Hex())
	}
	if err := r.nonce.Set(c, nonce+1); err != nil {
		return chain.Hash{}, err
	}

	grant := SessionGrant{
		EphPubKey:      hexutil.Bytes(append([]byte{}, ephPubKey...)),
		ScopeID:        scopeID,
		ExpiresAtBlock: block + durationBlocks,
		CreatedAtBlock: block,
		Requester:      c.Caller(),
	}
	if err := r.sessions.Set(c, id, grant); err != nil {
		return chain.Hash{}, err
	}
	r.emit(c, EventSessionRequested, SessionRequested{
		SessionID:      id,
		Requester:      c.Caller(),
		ScopeID:        scopeID,
		ExpiresAtBlock: grant.ExpiresAtBlock,
	}, id, chain.TopicAddress(c.Caller()))
	return id, nil
}

func findProof(proofs []AttributeProof, attr chain.Hash) *AttributeProof {
	for i := range proofs {
		if proofs[i].AttributeHash == attr {
			return &proofs[i]
		}
	}
	return nil
}

// publishedRoot reads account's root from the Attribute Store, calling it as
// the registry.
func (r *Registry) publishedRoot(c *chain.Call, storeAddr, account chain.Address) (chain.Hash, error) {
	mod, ok := c.Module(storeAddr)
	if !ok {
		return chain.Hash{}, fmt.Errorf("%w: no module at %s", chain.ErrAttributeStoreNotConfigured, storeAddr.Hex())
	}
	src, ok := mod.(RootSource)
	if !ok {
		return chain.Hash{}, fmt.Errorf("%w: %s is not an attribute store", chain.ErrAttributeStoreNotConfigured, storeAddr.Hex())
	}
	sub, err := c.As(r.addr)
	if err != nil {
		return chain.Hash{}, err
	}
	root, ok, err := src.GetRoot(sub, account)
	if err != nil {
		return chain.Hash{}, err
	}
	if !ok {
		return chain.Hash{}, fmt.Errorf("%w: %s", chain.ErrRootNotFound, account.Hex())
	}
	return root, nil
}
