package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	appErrors "collabsync-backend/pkg/errors"
)

// HTTPPersister posts mutations to the document data API, which owns durable
// storage of documents, fragments and tasks.
type HTTPPersister struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPPersister creates a persister targeting the given endpoint
func NewHTTPPersister(endpoint string, logger *zap.Logger) *HTTPPersister {
	return &HTTPPersister{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// PersistMutation sends one mutation to the data API
func (p *HTTPPersister) PersistMutation(ctx context.Context, m Mutation) error {
	body, err := json.Marshal(m)
	if err != nil {
		return appErrors.NewPersistenceFailure("failed to marshal mutation", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return appErrors.NewPersistenceFailure("failed to build persistence request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return appErrors.NewPersistenceFailure("persistence request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return appErrors.NewPersistenceFailure(
			fmt.Sprintf("persistence endpoint returned status %d", resp.StatusCode), nil)
	}

	return nil
}

// NopPersister discards mutations. Used when no persistence endpoint is
// configured; live collaboration is unaffected.
type NopPersister struct{}

// PersistMutation does nothing
func (NopPersister) PersistMutation(ctx context.Context, m Mutation) error {
	return nil
}
