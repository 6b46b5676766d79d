package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/provider"
)

const errorSnippetLimit = 400

// Send performs req and returns the body of a 2xx response. Non-2xx statuses
// are classified with apperr.FromStatus; vendor "resource exhausted" bodies
// count as rate limits. Context errors are returned wrapped so the gateway can
// tell timeouts apart.
func Send(ctx context.Context, client *http.Client, req *http.Request, id provider.ID) ([]byte, error) {
	op := fmt.Sprintf("%s %s", id, req.URL.Path)
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, &apperr.Error{Kind: apperr.KindTransport, Op: op, Provider: string(id), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, &apperr.Error{Kind: apperr.KindTransport, Op: op, Provider: string(id), Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		e := apperr.FromStatus(op, resp.StatusCode, truncate(string(body), errorSnippetLimit))
		e.Provider = string(id)
		if strings.Contains(string(body), "RESOURCE_EXHAUSTED") {
			e.Kind = apperr.KindRateLimit
		}
		return nil, e
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
