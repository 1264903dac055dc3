package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/expert-match/internal/core/domain"
	"github.com/kirillkom/expert-match/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
	}
}

// IndexExpert upserts one point per expert. The point id is derived from the expert id so
// re-indexing replaces the previous vector.
func (c *Client) IndexExpert(ctx context.Context, profile *domain.ExpertProfile, vector []float32) error {
	if profile == nil || len(vector) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "qdrant index expert", fmt.Errorf("profile and vector are required"))
	}
	if err := c.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}

	reqBody := map[string]any{
		"points": []map[string]any{{
			"id":     pointID(profile.ID),
			"vector": vector,
			"payload": map[string]any{
				"expert_id":    profile.ID,
				"name":         profile.Name,
				"seniority":    profile.Seniority,
				"skills":       profile.Skills,
				"technologies": profile.Technologies,
				"domains":      profile.Domains,
			},
		}},
	}
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.doJSON(ctx, "upsert", http.MethodPut, url, reqBody, nil)
}

func (c *Client) SearchExperts(
	ctx context.Context,
	embedding []float32,
	maxResults int,
	minSimilarity float64,
) ([]domain.SourceHit, error) {
	if len(embedding) == 0 || maxResults <= 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector":          embedding,
		"limit":           maxResults,
		"with_payload":    true,
		"score_threshold": minSimilarity,
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.doJSON(ctx, "search", http.MethodPost, url, reqBody, &searchResp); err != nil {
		return nil, err
	}

	out := make([]domain.SourceHit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		expertID := getStringPayload(r.Payload, "expert_id")
		if expertID == "" || r.Score < minSimilarity {
			continue
		}
		out = append(out, domain.SourceHit{
			ExpertID:   expertID,
			Similarity: r.Score,
			Metadata: map[string]string{
				"name":      getStringPayload(r.Payload, "name"),
				"seniority": getStringPayload(r.Payload, "seniority"),
			},
		})
	}
	return out, nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.doJSON(ctx, "ensure_collection", http.MethodPut, url, reqBody, nil)
	if err != nil && !isConflict(err) {
		return err
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func (c *Client) doJSON(ctx context.Context, operation, method, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal qdrant %s body: %w", operation, err)
	}

	err = c.executor.Execute(ctx, "qdrant."+operation, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create qdrant %s request: %w", operation, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("qdrant %s request: %w", operation, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return &resilience.HTTPStatusError{
				Service:    "qdrant",
				Operation:  operation,
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Body:       string(raw),
			}
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode qdrant %s response: %w", operation, err)
		}
		return nil
	}, classifyQdrant)
	return resilience.WrapTemporary("qdrant "+operation, err, classifyQdrant)
}

// Existing collections answer 409 on create.
func classifyQdrant(err error) resilience.ErrorClassification {
	if isConflict(err) {
		return resilience.ErrorClassification{}
	}
	return resilience.ClassifyHTTP(err)
}

func isConflict(err error) bool {
	var statusErr *resilience.HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict
}

func pointID(expertID string) string {
	if parsed, err := uuid.Parse(expertID); err == nil {
		return parsed.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("expert:"+expertID)).String()
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
