// Package idtokenfiber provides a Fiber middleware for goIDToken.
//
// The middleware extracts the ID token from an "Authorization: Bearer <token>"
// header and delegates verification to an idtoken.Validator.
//
// On success, the *idtoken.Claims are stored in c.Locals("idtoken").
// On failure, a 401 JSON response is returned, or 503 when the signing keys
// could not be fetched.
//
// Concurrency: All exported functions are safe for concurrent use.
package idtokenfiber

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/keksclan/goIDToken/adapters/common"
	"github.com/keksclan/goIDToken/idtoken"
)

// ClaimsLocalsKey is the Locals key holding the verified claims.
const ClaimsLocalsKey = "idtoken"

// Option configures the Fiber middleware.
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

// fiberMetadataExtractor adapts Fiber request headers to the MetadataExtractor interface.
type fiberMetadataExtractor struct {
	c *fiber.Ctx
}

func (e *fiberMetadataExtractor) Get(key string) (string, bool) {
	// Fiber's c.Get is case-insensitive for HTTP headers.
	val := e.c.Get(key)
	if val == "" {
		return "", false
	}
	return val, true
}

// Middleware returns a Fiber middleware that authenticates requests using
// the provided validator.
func Middleware(v common.Checker, opts ...Option) fiber.Handler {
	o := buildOptions(opts)
	return func(c *fiber.Ctx) error {
		if err := o.RequiredMeta.Validate(&fiberMetadataExtractor{c: c}); err != nil {
			return reject(c, err)
		}

		claims, err := common.Authenticate(c.UserContext(), v, c.Get(fiber.HeaderAuthorization), o.AdapterOptions)
		if err != nil {
			return reject(c, err)
		}

		c.Locals(ClaimsLocalsKey, claims)
		return c.Next()
	}
}

func reject(c *fiber.Ctx, err error) error {
	status := common.HTTPStatus(err)
	if status == fiber.StatusUnauthorized {
		c.Set(fiber.HeaderWWWAuthenticate, `Bearer error="invalid_token"`)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": common.PublicMessage(err),
	})
}

// ClaimsFromLocals retrieves the claims stored by the middleware.
// Returns nil if no claims are present.
func ClaimsFromLocals(c *fiber.Ctx) *idtoken.Claims {
	v, _ := c.Locals(ClaimsLocalsKey).(*idtoken.Claims)
	return v
}
