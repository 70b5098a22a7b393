package doris

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/datalith/doris-target/pkg/config"
	"github.com/datalith/doris-target/pkg/errors"
	"github.com/datalith/doris-target/pkg/logger"
	"github.com/datalith/doris-target/pkg/metrics"
	"github.com/datalith/doris-target/pkg/retry"
)

// LoadResult is the parsed Stream Load response
type LoadResult struct {
	Status             string `json:"Status"`
	Message            string `json:"Message"`
	ErrorURL           string `json:"ErrorURL"`
	NumberLoadedRows   int64  `json:"NumberLoadedRows"`
	NumberFilteredRows int64  `json:"NumberFilteredRows"`
}

// BulkLoader loads row batches into the target table
type BulkLoader interface {
	Load(ctx context.Context, rows []map[string]interface{}) (*LoadResult, error)
}

// StreamLoader implements BulkLoader over the frontend HTTP Stream Load
// endpoint. Deletes are not expressed through Stream Load: the DUPLICATE KEY
// model required by vector indexes has no Stream Load delete, so row
// removal always goes through SQL DELETE.
type StreamLoader struct {
	cfg    *config.TargetConfig
	client *http.Client
	policy *retry.Policy
	logger *zap.Logger
}

// NewStreamLoader creates a Stream Load client bound to the configured table
func NewStreamLoader(cfg *config.TargetConfig) *StreamLoader {
	return &StreamLoader{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Performance.StreamLoadTimeout,
			// The frontend answers the PUT with a 307 redirect to a backend;
			// re-send the body with credentials.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 0 {
					req.Header = via[0].Header.Clone()
				}
				return nil
			},
		},
		policy: &retry.Policy{
			MaxRetries:   cfg.Reliability.RetryAttempts,
			InitialDelay: cfg.Reliability.RetryDelay,
			MaxDelay:     cfg.Reliability.MaxRetryDelay,
			Multiplier:   cfg.Reliability.RetryMultiplier,
			OnRetry: func(op string, attempt int) {
				metrics.Retries.WithLabelValues(op).Inc()
			},
		},
		logger: logger.With(zap.String("component", "stream_load")),
	}
}

// newLoadLabel generates a unique label per Stream Load call
func newLoadLabel() string {
	return fmt.Sprintf("doris_target_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// loadURL builds the Stream Load endpoint URL
func (l *StreamLoader) loadURL() string {
	scheme := "http"
	if l.cfg.Connection.EnableHTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/api/%s/%s/_stream_load",
		scheme, l.cfg.Connection.FEHost, l.cfg.Connection.FEHTTPPort,
		l.cfg.Connection.Database, l.cfg.Connection.TableName)
}

// columnSuperset collects the exact sorted set of columns present across all
// rows in the batch. The header must enumerate the superset: a column absent
// from a given row is treated as null by the receiver, while a column absent
// from the header would be dropped entirely.
func columnSuperset(rows []map[string]interface{}) []string {
	set := make(map[string]struct{})
	for _, row := range rows {
		for col := range row {
			set[col] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Load sends one batch of rows through Stream Load. "Success" and "Publish
// Timeout" statuses (case-insensitive) both count as success; any other
// status is a load failure carrying the reported message, diagnostic URL and
// row counts, and is never retried by this layer.
func (l *StreamLoader) Load(ctx context.Context, rows []map[string]interface{}) (*LoadResult, error) {
	if len(rows) == 0 {
		return &LoadResult{Status: "Success"}, nil
	}

	body, err := json.Marshal(rows)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode load batch")
	}

	compressed := false
	if l.cfg.Performance.Compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err == nil && gz.Close() == nil {
			body = buf.Bytes()
			compressed = true
		}
	}

	label := newLoadLabel()
	columns := columnSuperset(rows)
	start := time.Now()

	var result *LoadResult
	err = l.policy.Execute(ctx, "stream load", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, l.loadURL(), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.SetBasicAuth(l.cfg.Connection.Username, l.cfg.Connection.Password)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("format", "json")
		req.Header.Set("strip_outer_array", "true")
		req.Header.Set("label", label)
		req.Header.Set("Expect", "100-continue")
		req.Header.Set("columns", strings.Join(columns, ", "))
		if compressed {
			req.Header.Set("compress_type", "gz")
		}

		resp, err := l.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return errors.Newf(errors.ErrorTypeAuthentication,
				"stream load authentication failed: HTTP %d", resp.StatusCode)
		}

		text, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		// Some builds return the JSON body with a wrong Content-Type;
		// parse unconditionally.
		var parsed LoadResult
		if err := json.Unmarshal(text, &parsed); err != nil {
			return &errors.StreamLoadError{
				Status:  "ParseError",
				Message: fmt.Sprintf("invalid JSON response: %.200s", string(text)),
			}
		}

		switch strings.ToUpper(parsed.Status) {
		case "SUCCESS", "PUBLISH TIMEOUT":
			result = &parsed
			return nil
		default:
			return &errors.StreamLoadError{
				Status:       parsed.Status,
				Message:      parsed.Message,
				ErrorURL:     parsed.ErrorURL,
				LoadedRows:   parsed.NumberLoadedRows,
				FilteredRows: parsed.NumberFilteredRows,
			}
		}
	})
	if err != nil {
		var loadErr *errors.StreamLoadError
		if stderrors.As(err, &loadErr) {
			return nil, errors.Wrap(err, errors.ErrorTypeLoad, "stream load rejected")
		}
		return nil, err
	}

	metrics.ObserveStreamLoad(l.cfg.Connection.TableName, int64(len(rows)), start)
	l.logger.Debug("stream load completed",
		zap.String("label", label),
		zap.Int("rows", len(rows)),
		zap.Int64("loaded_rows", result.NumberLoadedRows))
	return result, nil
}
