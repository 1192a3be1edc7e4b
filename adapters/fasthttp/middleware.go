// Package idtokenfasthttp provides a fasthttp middleware for goIDToken.
//
// The middleware extracts the ID token from an "Authorization: Bearer <token>"
// header and delegates verification to an idtoken.Validator.
//
// On success, the *idtoken.Claims are stored in the request context's user
// value under the key "idtoken". On failure, a 401 response is returned, or
// 503 when the signing keys could not be fetched.
//
// Concurrency: All exported functions are safe for concurrent use.
package idtokenfasthttp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/keksclan/goIDToken/adapters/common"
	"github.com/keksclan/goIDToken/idtoken"
	"github.com/valyala/fasthttp"
)

// ClaimsUserValueKey is the key used to store the claims in the
// fasthttp.RequestCtx user values.
const ClaimsUserValueKey = "idtoken"

// Option configures the fasthttp middleware.
type Option func(*options)

type options struct {
	common.AdapterOptions
}

// WithRequiredMetadata specifies header keys that must be present in
// incoming HTTP requests before authentication proceeds.
func WithRequiredMetadata(keys ...string) Option {
	return func(o *options) {
		o.RequiredMeta.Keys = keys
	}
}

// WithTimeout bounds each token check.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.Timeout = d
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// fasthttpMetadataExtractor adapts fasthttp request headers to the MetadataExtractor interface.
type fasthttpMetadataExtractor struct {
	ctx *fasthttp.RequestCtx
}

func (e *fasthttpMetadataExtractor) Get(key string) (string, bool) {
	val := e.ctx.Request.Header.Peek(key)
	if len(val) == 0 {
		return "", false
	}
	return string(val), true
}

// Middleware wraps next with ID token authentication.
func Middleware(v common.Checker, next fasthttp.RequestHandler, opts ...Option) fasthttp.RequestHandler {
	o := buildOptions(opts)
	return func(ctx *fasthttp.RequestCtx) {
		if err := o.RequiredMeta.Validate(&fasthttpMetadataExtractor{ctx: ctx}); err != nil {
			writeError(ctx, err)
			return
		}

		header := string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
		claims, err := common.Authenticate(context.Background(), v, header, o.AdapterOptions)
		if err != nil {
			writeError(ctx, err)
			return
		}

		ctx.SetUserValue(ClaimsUserValueKey, claims)
		next(ctx)
	}
}

// ClaimsFromCtx retrieves the claims stored by the middleware.
// Returns nil if no claims are present.
func ClaimsFromCtx(ctx *fasthttp.RequestCtx) *idtoken.Claims {
	v, _ := ctx.UserValue(ClaimsUserValueKey).(*idtoken.Claims)
	return v
}

func writeError(ctx *fasthttp.RequestCtx, err error) {
	status := common.HTTPStatus(err)
	if status == fasthttp.StatusUnauthorized {
		ctx.Response.Header.Set(fasthttp.HeaderWWWAuthenticate, `Bearer error="invalid_token"`)
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(map[string]string{"error": common.PublicMessage(err)})
	ctx.SetBody(body)
}
