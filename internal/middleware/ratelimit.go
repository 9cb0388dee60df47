package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/serroba/admission-go/internal/events"
	"github.com/serroba/admission-go/internal/messaging"
	"github.com/serroba/admission-go/internal/metrics"
	"github.com/serroba/admission-go/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Response headers written by Admission.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// AdmissionDeps holds the collaborators of the admission middleware.
// Metrics and the publish functions may be nil.
type AdmissionDeps struct {
	Limiter        ratelimit.Limiter
	Policies       *ratelimit.PolicyTable
	Metrics        *metrics.Admission
	OnExceeded     messaging.Publish[events.RateLimitExceeded]
	OnStoreFailure messaging.Publish[events.StoreFailure]
	Logger         *zap.Logger
	Now            func() time.Time
}

type admission struct {
	AdmissionDeps

	api  huma.API
	warn *rate.Limiter
}

// Admission returns a Huma middleware that applies the sliding window policy for the
// request path to the identity placed in the context by RequestMeta.
//
// When the counter store fails the request is admitted without being counted. The
// failure is logged and counted, never returned to the client: a limiter outage must
// not turn into an outage of the API it protects.
//
// Operations can opt out or share a window through ratelimit.EndpointConfig metadata.
func Admission(api huma.API, deps AdmissionDeps) func(ctx huma.Context, next func(huma.Context)) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	if deps.Now == nil {
		deps.Now = time.Now
	}

	a := &admission{
		AdmissionDeps: deps,
		api:           api,
		warn:          rate.NewLimiter(rate.Every(time.Second), 1),
	}

	return a.handle
}

func (a *admission) handle(ctx huma.Context, next func(huma.Context)) {
	if cfg := ratelimit.GetEndpointConfig(ctx); cfg != nil && cfg.Disabled {
		next(ctx)

		return
	}

	requestPath, bucket := ratelimit.EndpointFor(ctx)
	policy := a.Policies.Resolve(requestPath)
	key := ratelimit.Key{
		ClientID: ratelimit.IdentityFromContext(ctx.Context()).String(),
		Endpoint: bucket,
	}

	decision, err := a.Limiter.Check(ctx.Context(), key, policy)
	if err != nil {
		decision = a.failOpen(key, err)
	}

	ctx.SetHeader(HeaderLimit, strconv.FormatInt(policy.Limit, 10))
	ctx.SetHeader(HeaderRemaining, strconv.FormatInt(decision.Remaining(policy), 10))

	if decision.Allowed {
		if !decision.FailedOpen {
			a.Metrics.Decision(metrics.OutcomeAllowed)
		}

		next(ctx)

		return
	}

	ctx.SetHeader(HeaderReset, strconv.FormatInt(decision.ResetAt.Unix(), 10))
	ctx.SetHeader(HeaderRetryAfter, strconv.FormatInt(policy.WindowSeconds(), 10))

	a.Metrics.Decision(metrics.OutcomeDenied)
	a.Logger.Debug("rate limit exceeded",
		zap.String("key", key.String()),
		zap.String("method", ctx.Method()),
		zap.Int64("count", decision.Count),
		zap.Int64("limit", policy.Limit),
		zap.Time("reset_at", decision.ResetAt),
	)
	a.publishExceeded(ctx, key, policy, decision)

	_ = huma.WriteErr(a.api, ctx, http.StatusTooManyRequests, "rate limit exceeded")
}

// failOpen maps a store failure to the fail-open decision.
func (a *admission) failOpen(key ratelimit.Key, err error) ratelimit.Decision {
	var se *ratelimit.StoreError

	_ = errors.As(ratelimit.WrapStoreError(key.String(), err), &se)

	a.Metrics.Decision(metrics.OutcomeFailedOpen)

	fields := []zap.Field{
		zap.String("key", se.Key),
		zap.String("kind", string(se.Kind)),
		zap.Error(err),
	}

	if a.warn.Allow() {
		a.Logger.Warn("rate limit store failed, admitting request", fields...)
	} else {
		a.Logger.Debug("rate limit store failed, admitting request", fields...)
	}

	if a.OnStoreFailure != nil {
		_ = a.OnStoreFailure(&events.StoreFailure{
			ID:         uuid.NewString(),
			Key:        se.Key,
			Kind:       string(se.Kind),
			Error:      err.Error(),
			OccurredAt: a.Now().UTC(),
		})
	}

	return ratelimit.FailOpen(se)
}

func (a *admission) publishExceeded(
	ctx huma.Context,
	key ratelimit.Key,
	policy ratelimit.Policy,
	decision ratelimit.Decision,
) {
	if a.OnExceeded == nil {
		return
	}

	event := &events.RateLimitExceeded{
		ID:            uuid.NewString(),
		ClientID:      key.ClientID,
		Endpoint:      key.Endpoint,
		Method:        ctx.Method(),
		Limit:         policy.Limit,
		WindowSeconds: policy.WindowSeconds(),
		Count:         decision.Count,
		ResetAt:       decision.ResetAt.UTC(),
		OccurredAt:    a.Now().UTC(),
	}

	if err := a.OnExceeded(event); err != nil {
		a.Logger.Debug("rate limit event not published", zap.Error(err))
	}
}
