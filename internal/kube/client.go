package kube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/psantana5/velero-watchdog/internal/logging"
	"github.com/psantana5/velero-watchdog/internal/models"
	"github.com/psantana5/velero-watchdog/internal/retry"
)

// Client-side request throttling, same defaults Kubernetes clients use
const (
	defaultQPS   = 5
	defaultBurst = 10
)

// Client is a minimal REST client for the velero.io/v1 Backup API. It covers
// exactly the calls the watchdog needs, which keeps the client-go dependency
// tree out of the module.
type Client struct {
	baseURL    string
	token      string
	namespace  string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
	log        *logging.Logger
}

// NewClient creates an API client for backups in the given namespace
func NewClient(cfg *RestConfig, namespace string, log *logging.Logger) *Client {
	transport := &http.Transport{}
	if cfg.TLSConfig != nil {
		transport.TLSClientConfig = cfg.TLSConfig
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.Host, "/"),
		token:     cfg.BearerToken,
		namespace: namespace,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		limiter:  rate.NewLimiter(rate.Limit(defaultQPS), defaultBurst),
		retryCfg: retry.DefaultConfig(),
		log:      log,
	}
}

// SetRetryConfig overrides the retry policy for API calls
func (c *Client) SetRetryConfig(cfg retry.Config) {
	c.retryCfg = cfg
}

func (c *Client) backupsURL() string {
	return fmt.Sprintf("%s/apis/velero.io/v1/namespaces/%s/backups", c.baseURL, c.namespace)
}

func (c *Client) addAuthHeader(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// ListBackups fetches all Backup resources in the configured namespace
func (c *Client) ListBackups(ctx context.Context) ([]models.Backup, error) {
	var list models.BackupList
	err := retry.Do(ctx, c.retryCfg, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.backupsURL(), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		c.addAuthHeader(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach API server: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return newAPIError(resp)
		}

		list = models.BackupList{}
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			return fmt.Errorf("failed to decode backup list: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug("Listed backups via API", map[string]interface{}{
		"namespace": c.namespace,
		"count":     len(list.Items),
	})
	return list.Items, nil
}

// DeleteBackup removes the Backup custom resource. A 404 counts as success
// since the record is gone either way.
func (c *Client) DeleteBackup(ctx context.Context, name string) error {
	url := c.backupsURL() + "/" + name
	return retry.Do(ctx, c.retryCfg, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		c.addAuthHeader(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach API server: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusAccepted:
			return nil
		case http.StatusNotFound:
			c.log.Debug("Backup already removed", map[string]interface{}{"backup": name})
			return nil
		default:
			return newAPIError(resp)
		}
	})
}

// APIError is a non-2xx answer from the API server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API status %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the API server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// newAPIError extracts the message from a Kubernetes Status document when the
// body carries one
func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	var status struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &status) == nil && status.Message != "" {
		msg = status.Message
	}

	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
