package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	core "github.com/supplyetl/core"
	"github.com/supplyetl/core/auth"
)

// IntelligenceClient calls the wire protocol exposed by
// cmd/intelligence-server (SPEC_FULL.md §6.1), retrying transient
// failures the same way llm.openAICompatClient.doPost does.
type IntelligenceClient struct {
	baseURL string
	client  *http.Client
	issuer  *auth.Issuer
}

func NewIntelligenceClient(baseURL string, issuer *auth.Issuer) *IntelligenceClient {
	return &IntelligenceClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		issuer:  issuer,
	}
}

type analyzeFileRequest struct {
	JobID      int64  `json:"job_id"`
	SupplierID int64  `json:"supplier_id"`
	FilePath   string `json:"file_path"`
	FileKind   string `json:"file_kind"`
}

type analyzeFileResponse struct {
	AnalysisID string `json:"analysis_id"`
}

// AnalyzeFile calls POST /analyze/file and returns the Intelligence-side
// sub-job id (spec §4.1, §6.1).
func (c *IntelligenceClient) AnalyzeFile(ctx context.Context, job core.Job, supplierID int64, filePath string, kind core.SourceKind) (string, error) {
	body, err := c.doPost(ctx, "/analyze/file", analyzeFileRequest{
		JobID: job.ID, SupplierID: supplierID, FilePath: filePath, FileKind: string(kind),
	})
	if err != nil {
		return "", core.WrapKind(core.KindAnalysisUnreachable, err)
	}
	var resp analyzeFileResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", core.WrapKind(core.KindAnalysisUnreachable, fmt.Errorf("decoding analyze/file response: %w", err))
	}
	return resp.AnalysisID, nil
}

// StatusResponse mirrors GET /analyze/status/{id} (spec §6.1).
type StatusResponse struct {
	Phase    core.Phase      `json:"phase"`
	Progress int             `json:"progress"`
	Counters StatusCounters  `json:"counters"`
	Result   *StatusResult   `json:"result,omitempty"`
}

type StatusCounters struct {
	RowsSeen      int             `json:"rows_seen"`
	RowsExtracted int             `json:"rows_extracted"`
	RowsPersisted int             `json:"rows_persisted"`
	ErrorsByKind  core.ErrorCounts `json:"errors_by_kind"`
}

type StatusResult struct {
	SupplierItemIDs []int64 `json:"supplier_item_ids"`
	ReviewIDs       []int64 `json:"review_ids"`
}

// PollStatus calls GET /analyze/status/{analysisID}.
func (c *IntelligenceClient) PollStatus(ctx context.Context, analysisID string) (StatusResponse, error) {
	body, err := c.doGet(ctx, "/analyze/status/"+analysisID)
	if err != nil {
		return StatusResponse{}, core.WrapKind(core.KindAnalysisUnreachable, err)
	}
	var resp StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return StatusResponse{}, core.WrapKind(core.KindAnalysisUnreachable, fmt.Errorf("decoding status response: %w", err))
	}
	return resp, nil
}

const (
	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
)

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func (c *IntelligenceClient) authHeader(req *http.Request) error {
	if c.issuer == nil {
		return nil
	}
	token, err := c.issuer.Issue("courier")
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *IntelligenceClient) doGet(ctx context.Context, path string) ([]byte, error) {
	return c.doRequest(ctx, http.MethodGet, path, nil)
}

func (c *IntelligenceClient) doPost(ctx context.Context, path string, body interface{}) ([]byte, error) {
	return c.doRequest(ctx, http.MethodPost, path, body)
}

// doRequest retries transient failures with the same exponential-backoff
// shape as llm.openAICompatClient.doPost, scaled down for a local service
// call instead of an external LLM API.
func (c *IntelligenceClient) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	url := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			slog.Warn("courier: retrying intelligence request", "url", url, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reqBody io.Reader
		if data != nil {
			reqBody = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if err := c.authHeader(req); err != nil {
			return nil, fmt.Errorf("signing service token: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request to %s failed: %w", url, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response body: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		lastErr = fmt.Errorf("intelligence API error %d: %s", resp.StatusCode, string(respBody))
		if !retryableStatusCode(resp.StatusCode) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
