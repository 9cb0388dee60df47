package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/admission-go/internal/ratelimit"
	"go.uber.org/zap"
)

// UsageReader reads a window without recording a request.
type UsageReader interface {
	Usage(ctx context.Context, key ratelimit.Key, policy ratelimit.Policy) (ratelimit.Usage, error)
}

// UsageHandler reports the caller's current rate limit window for a path.
type UsageHandler struct {
	reader   UsageReader
	policies *ratelimit.PolicyTable
	logger   *zap.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(reader UsageReader, policies *ratelimit.PolicyTable, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{
		reader:   reader,
		policies: policies,
		logger:   logger,
	}
}

// GetUsage resolves the policy for the requested path and counts the caller's live
// entries. Paths served by a shared bucket are reported by path, not by bucket.
func (h *UsageHandler) GetUsage(ctx context.Context, req *UsageRequest) (*UsageResponse, error) {
	p := ratelimit.NormalizePath(req.Path)
	policy := h.policies.Resolve(p)
	id := ratelimit.IdentityFromContext(ctx)

	u, err := h.reader.Usage(ctx, ratelimit.Key{ClientID: id.String(), Endpoint: p}, policy)
	if err != nil {
		h.logger.Warn("failed to read rate limit usage", zap.String("path", p), zap.Error(err))

		return nil, huma.Error503ServiceUnavailable("rate limit store unavailable")
	}

	resp := &UsageResponse{}
	resp.Body.Identity = id.String()
	resp.Body.Path = p
	resp.Body.Limit = policy.Limit
	resp.Body.WindowSeconds = policy.WindowSeconds()
	resp.Body.Count = u.Count
	resp.Body.Remaining = max(0, policy.Limit-u.Count)

	if !u.Oldest.IsZero() {
		resp.Body.ResetAt = u.Oldest.Add(policy.Window).Unix()
	}

	return resp, nil
}
