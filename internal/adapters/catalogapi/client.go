// Package catalogapi talks to the remote parts catalog and build service.
package catalogapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/pcbuilder/internal/domain"
	"github.com/atvirokodosprendimai/pcbuilder/internal/metrics"
	"go.uber.org/zap"
)

var listPaths = map[domain.Category]string{
	domain.CategoryCPU: "/api/parts/cpus",
	domain.CategoryGPU: "/api/parts/gpus",
	domain.CategorySSD: "/api/parts/ssds",
	domain.CategoryHDD: "/api/parts/hdds",
	domain.CategoryPSU: "/api/parts/psus",
	domain.CategoryFan: "/api/parts/fans",
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithRecorder(recorder *metrics.Recorder) Option {
	return func(c *Client) { c.recorder = recorder }
}

// Client implements domain.Catalog over the catalog's REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *zap.Logger
	recorder   *metrics.Recorder
}

var _ domain.Catalog = (*Client)(nil)

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListParts(ctx context.Context, category domain.Category, brand string) ([]domain.Part, error) {
	path, ok := listPaths[category]
	if !ok {
		return nil, fmt.Errorf("%w: no list endpoint for %q", domain.ErrUnknownCategory, category)
	}
	if brand = strings.TrimSpace(brand); brand != "" && category == domain.CategoryCPU {
		path += "?brand=" + url.QueryEscape(brand)
	}

	var parts []domain.Part
	if err := c.request(ctx, "list_"+string(category), http.MethodGet, path, nil, &parts); err != nil {
		return nil, err
	}
	return stamp(parts, category), nil
}

func (c *Client) CompatibleMotherboards(ctx context.Context, cpuID, mode string) ([]domain.Part, error) {
	q := url.Values{}
	q.Set("cpuId", cpuID)
	q.Set("mode", mode)

	var out struct {
		CPU    *domain.Part  `json:"cpu"`
		Boards []domain.Part `json:"boards"`
	}
	if err := c.request(ctx, "compatible_motherboards", http.MethodGet, "/api/parts/motherboards/compatible?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return stamp(out.Boards, domain.CategoryMotherboard), nil
}

func (c *Client) CompatibleRAM(ctx context.Context, motherboardID string) ([]domain.Part, error) {
	var out struct {
		Motherboard *domain.Part  `json:"motherboard"`
		RAMs        []domain.Part `json:"rams"`
	}
	path := "/api/parts/rams/compatible?motherboardId=" + url.QueryEscape(motherboardID)
	if err := c.request(ctx, "compatible_ram", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return stamp(out.RAMs, domain.CategoryRAM), nil
}

func (c *Client) CompatibleCases(ctx context.Context, motherboardID string, gpuLengthMM int) ([]domain.Part, error) {
	q := url.Values{}
	q.Set("motherboardId", motherboardID)
	if gpuLengthMM > 0 {
		q.Set("gpuLengthMM", strconv.Itoa(gpuLengthMM))
	}

	var out struct {
		Motherboard *domain.Part  `json:"motherboard"`
		Cases       []domain.Part `json:"cases"`
	}
	if err := c.request(ctx, "compatible_cases", http.MethodGet, "/api/parts/cases/compatible?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return stamp(out.Cases, domain.CategoryCase), nil
}

// VerifyBuild reports ok unless the response carries an explicit false.
func (c *Client) VerifyBuild(ctx context.Context, req domain.VerifyRequest) (domain.Verdict, error) {
	var out struct {
		OK      *bool    `json:"ok"`
		Errors  []string `json:"errors"`
		Message string   `json:"message"`
	}
	if err := c.request(ctx, "verify", http.MethodPost, "/api/parts/builds/verify", req, &out); err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %w", domain.ErrVerificationFailed, err)
	}
	if out.OK != nil && !*out.OK {
		errs := out.Errors
		if len(errs) == 0 && strings.TrimSpace(out.Message) != "" {
			errs = []string{out.Message}
		}
		if len(errs) == 0 {
			errs = []string{"verification failed"}
		}
		return domain.Verdict{OK: false, Errors: errs}, nil
	}
	return domain.Verdict{OK: true}, nil
}

func (c *Client) CreateDraft(ctx context.Context, req domain.DraftRequest) (string, error) {
	if req.FanIDs == nil {
		req.FanIDs = []string{}
	}
	var out struct {
		OK      bool                  `json:"ok"`
		BuildID string                `json:"buildId"`
		Build   *domain.BuildSnapshot `json:"build"`
	}
	if err := c.request(ctx, "create_draft", http.MethodPost, "/api/parts/builds", req, &out); err != nil {
		return "", err
	}
	buildID := out.BuildID
	if buildID == "" && out.Build != nil {
		buildID = out.Build.BuildID
	}
	if buildID == "" {
		return "", errors.New("catalog returned no build id")
	}
	return buildID, nil
}

func (c *Client) GetBuild(ctx context.Context, buildID string) (domain.BuildSnapshot, error) {
	var out domain.BuildSnapshot
	err := c.request(ctx, "get_build", http.MethodGet, "/api/parts/builds/"+url.PathEscape(buildID), nil, &out)
	if err != nil {
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) && upstream.Status == http.StatusNotFound {
			return domain.BuildSnapshot{}, fmt.Errorf("%w: %s", domain.ErrBuildNotFound, buildID)
		}
		return domain.BuildSnapshot{}, err
	}
	if out.BuildID == "" {
		out.BuildID = buildID
	}
	return out, nil
}

func (c *Client) SubmitDraft(ctx context.Context, buildID string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.request(ctx, "submit_draft", http.MethodPost, "/api/parts/builds/"+url.PathEscape(buildID)+"/submit", nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *Client) request(ctx context.Context, op, method, path string, in any, out any) (err error) {
	start := time.Now()
	defer func() { c.recorder.RecordCatalogCall(op, err, time.Since(start)) }()

	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		upstream := decodeError(resp.StatusCode, payload)
		c.logger.Debug("catalog error response", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("message", upstream.Message))
		return upstream
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func decodeError(status int, payload []byte) *domain.UpstreamError {
	var body struct {
		Message string   `json:"message"`
		Error   string   `json:"error"`
		Errors  []string `json:"errors"`
	}
	upstream := &domain.UpstreamError{Status: status}
	if err := json.Unmarshal(payload, &body); err != nil {
		upstream.Message = strings.TrimSpace(string(payload))
		return upstream
	}
	upstream.Message = body.Message
	if upstream.Message == "" {
		upstream.Message = body.Error
	}
	upstream.Errors = body.Errors
	return upstream
}

func stamp(parts []domain.Part, category domain.Category) []domain.Part {
	out := make([]domain.Part, 0, len(parts))
	for _, p := range parts {
		p.Category = category
		out = append(out, p)
	}
	return out
}
