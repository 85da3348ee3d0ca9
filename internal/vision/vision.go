package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"pricetag/server/internal/models"
)

// ErrNotConfigured means no extraction endpoint is set; callers fall back to
// manual entry rather than failing the request path.
var ErrNotConfigured = errors.New("vision service is not configured")

// Client is a thin wrapper around the third-party price tag extraction API:
// an image goes in, structured price fields come out. It does not retry;
// the caller decides what a failed extraction means.
type Client struct {
	logger   *logrus.Logger
	client   *http.Client
	endpoint string
	apiKey   string
}

func NewClient(logger *logrus.Logger, endpoint, apiKey string) *Client {
	return &Client{
		logger:   logger,
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IsConfigured reports whether an extraction endpoint is set.
func (c *Client) IsConfigured() bool {
	return c.endpoint != ""
}

// ExtractPriceTag sends a photographed price tag or receipt line to the
// extraction service and returns the structured fields it read.
func (c *Client) ExtractPriceTag(ctx context.Context, imageURL string) (*models.Extraction, error) {
	if c.endpoint == "" {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(models.ExtractionRequest{ImageURL: imageURL})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).Error("Extraction request failed")
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Error("Extraction service returned an error")
		return nil, fmt.Errorf("extraction service returned status %d", resp.StatusCode)
	}

	var extraction models.Extraction
	if err := json.Unmarshal(body, &extraction); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"product":  extraction.ProductName,
		"price":    extraction.Price,
		"quantity": extraction.Quantity,
		"unit":     extraction.Unit,
	}).Info("Extracted price tag fields")

	return &extraction, nil
}
