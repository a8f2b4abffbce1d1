package server

import (
	"context"
	"os"
	"time"

	"github.com/njavilas2015/onbbu/pkg/core"
	"github.com/njavilas2015/onbbu/pkg/kv"
	"github.com/njavilas2015/onbbu/pkg/sign"
	"github.com/njavilas2015/onbbu/pkg/soma"
	"github.com/njavilas2015/onbbu/pkg/validate"
)

// echoContract answers with the payload it received.
type echoContract struct{ soma.Base }

func (echoContract) Name() string { return "echo" }

func (echoContract) Service(_ context.Context, payload interface{}) (interface{}, error) {
	return core.Success(payload), nil
}

// healthContract reports the worker's identity and uptime.
type healthContract struct {
	soma.Base
	subject string
	started time.Time
}

func (healthContract) Name() string { return "health" }

func (h healthContract) Service(context.Context, interface{}) (interface{}, error) {
	host, _ := os.Hostname()
	return core.Success(map[string]interface{}{
		"status":  "healthy",
		"subject": h.subject,
		"host":    host,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}), nil
}

type signRequest struct {
	Claims map[string]interface{} `json:"claims" validate:"required"`
	TTL    string                 `json:"ttl,omitempty"`
}

// signContract issues a token for the given claims.
type signContract struct {
	soma.Base
	signer *sign.Signer
}

func (signContract) Name() string { return "token.sign" }

func (signContract) Validate(ctx context.Context, payload interface{}) (interface{}, error) {
	req, err := validate.Stage[signRequest]()(ctx, payload)
	if err != nil {
		return nil, err
	}
	if ttl := req.(*signRequest).TTL; ttl != "" {
		if d, perr := time.ParseDuration(ttl); perr != nil || d <= 0 {
			return nil, core.NewValidationError("ttl must be a positive duration")
		}
	}
	return req, nil
}

func (c signContract) Service(_ context.Context, payload interface{}) (interface{}, error) {
	req := payload.(*signRequest)
	var (
		token string
		err   error
	)
	if req.TTL != "" {
		ttl, _ := time.ParseDuration(req.TTL)
		token, err = c.signer.SignTokenTTL(req.Claims, ttl)
	} else {
		token, err = c.signer.SignToken(req.Claims)
	}
	if err != nil {
		return nil, core.NewInternalError(err.Error())
	}
	return core.Success(map[string]interface{}{"token": token}), nil
}

type verifyRequest struct {
	Token string `json:"token" validate:"required"`
}

// verifyContract answers with the claims of a valid token.
type verifyContract struct {
	soma.Base
	signer *sign.Signer
}

func (verifyContract) Name() string { return "token.verify" }

func (verifyContract) Validate(ctx context.Context, payload interface{}) (interface{}, error) {
	return validate.Stage[verifyRequest]()(ctx, payload)
}

func (c verifyContract) Service(_ context.Context, payload interface{}) (interface{}, error) {
	return c.signer.VerifyToken(payload.(*verifyRequest).Token), nil
}

type storeKey struct {
	Key string `json:"key" validate:"required,max=256"`
}

type storeEntry struct {
	Key   string      `json:"key" validate:"required,max=256"`
	Value interface{} `json:"value" validate:"required"`
}

// storeSet saves a JSON value under a key of the worker's prefix.
type storeSet struct {
	soma.Base
	store *kv.Adapter[interface{}]
}

func (storeSet) Name() string { return "store.set" }

func (storeSet) Validate(ctx context.Context, payload interface{}) (interface{}, error) {
	return validate.Stage[storeEntry]()(ctx, payload)
}

func (c storeSet) Service(ctx context.Context, payload interface{}) (interface{}, error) {
	e := payload.(*storeEntry)
	v, err := c.store.Create(ctx, e.Key, e.Value)
	if err != nil {
		return nil, core.NewInternalError(err.Error())
	}
	return core.Success(v), nil
}

// storeGet answers with the value saved under a key.
type storeGet struct {
	soma.Base
	store *kv.Adapter[interface{}]
}

func (storeGet) Name() string { return "store.get" }

func (storeGet) Validate(ctx context.Context, payload interface{}) (interface{}, error) {
	return validate.Stage[storeKey]()(ctx, payload)
}

func (c storeGet) Service(ctx context.Context, payload interface{}) (interface{}, error) {
	k := payload.(*storeKey)
	v, ok, err := c.store.Read(ctx, k.Key)
	if err != nil {
		return nil, core.NewInternalError(err.Error())
	}
	if !ok {
		return nil, core.NewNotFoundError("key not found")
	}
	return core.Success(v), nil
}

// storeDelete removes a key.
type storeDelete struct {
	soma.Base
	store *kv.Adapter[interface{}]
}

func (storeDelete) Name() string { return "store.delete" }

func (storeDelete) Validate(ctx context.Context, payload interface{}) (interface{}, error) {
	return validate.Stage[storeKey]()(ctx, payload)
}

func (c storeDelete) Service(ctx context.Context, payload interface{}) (interface{}, error) {
	if err := c.store.Destroy(ctx, payload.(*storeKey).Key); err != nil {
		return nil, core.NewInternalError(err.Error())
	}
	return core.Success(map[string]interface{}{"deleted": true}), nil
}
