package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ozontrans/internal/domain"
	"ozontrans/internal/infra"
)

// Options configures the translation service client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the remote translation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// FileUpload is one input image for a batch submission.
type FileUpload struct {
	Name string
	Data io.Reader
}

// SubmitResponse acknowledges an accepted batch.
type SubmitResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// OutcomeRecord is the wire form of a per-item result.
type OutcomeRecord struct {
	OriginalName   string `json:"original_name"`
	TranslatedName string `json:"translated_name"`
	FilePath       string `json:"file_path"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// TaskStatusResponse is one poll snapshot of a batch job.
type TaskStatusResponse struct {
	TaskID    string          `json:"task_id"`
	Status    string          `json:"status"`
	Total     int             `json:"total"`
	Processed int             `json:"processed"`
	Success   int             `json:"success"`
	Failed    int             `json:"failed"`
	Images    []OutcomeRecord `json:"images"`
	Error     string          `json:"error,omitempty"`
}

// AuthResult is returned by login and register.
type AuthResult struct {
	Token   string `json:"token"`
	Credits int    `json:"credits"`
}

// Identity describes the authenticated account.
type Identity struct {
	Email   string `json:"email"`
	Credits int    `json:"credits"`
	IsAdmin bool   `json:"is_admin"`
}

// PaymentOrder is a freshly created recharge order.
type PaymentOrder struct {
	OrderID    string `json:"order_id"`
	PaymentURL string `json:"payment_url"`
}

// OrderRecord is one entry of the recharge history.
type OrderRecord struct {
	OutTradeNo string     `json:"out_trade_no"`
	Amount     float64    `json:"amount"`
	Credits    int        `json:"credits"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	PaidAt     *time.Time `json:"paid_at"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SubmitBatch uploads the files as one multipart request and returns the
// job handle. The credential travels as a bearer header; mode as a form
// field alongside the files.
func (c *Client) SubmitBatch(ctx context.Context, token string, mode domain.TranslateMode, files []FileUpload) (*SubmitResponse, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, fmt.Errorf("api: build multipart: %w", err)
		}
		if _, err := io.Copy(part, f.Data); err != nil {
			return nil, fmt.Errorf("api: encode %s: %w", f.Name, err)
		}
	}
	if err := mw.WriteField("target_mode", string(mode)); err != nil {
		return nil, fmt.Errorf("api: build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("api: build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/translate-bulk-async", body)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Request-ID", uuid.NewString())
	setBearer(req, token)

	var out SubmitResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("task_id", out.TaskID).
		Str("mode", string(mode)).
		Int("files", len(files)).
		Msg("api: batch submitted")
	return &out, nil
}

// TaskStatus fetches one status snapshot for the given job handle.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*TaskStatusResponse, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, errors.New("api: task id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/task-status/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	var out TaskStatusResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download retrieves one produced artifact by its storage path and
// returns the raw bytes plus the reported content type.
func (c *Client) Download(ctx context.Context, storagePath string) ([]byte, string, error) {
	storagePath = strings.TrimLeft(strings.TrimSpace(storagePath), "/")
	if storagePath == "" {
		return nil, "", errors.New("api: storage path is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/download/"+storagePath, nil)
	if err != nil {
		return nil, "", fmt.Errorf("api: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("api: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", c.decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("api: read artifact: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return data, contentType, nil
}

// Login exchanges credentials for an opaque bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	payload := map[string]string{"email": email, "password": password}
	var out AuthResult
	if err := c.postJSON(ctx, "/api/auth/token", "", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns its first bearer token.
func (c *Client) Register(ctx context.Context, email, password, inviteCode string) (*AuthResult, error) {
	payload := map[string]string{"email": email, "password": password}
	if inviteCode = strings.TrimSpace(inviteCode); inviteCode != "" {
		payload["invite_code"] = inviteCode
	}
	var out AuthResult
	if err := c.postJSON(ctx, "/api/auth/register", "", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me fetches the authenticated identity, including the admin flag.
func (c *Client) Me(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/auth/me", nil)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	setBearer(req, token)
	var out Identity
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance fetches the remaining credit count for the account.
func (c *Client) Balance(ctx context.Context, token string) (int, error) {
	me, err := c.Me(ctx, token)
	if err != nil {
		return 0, err
	}
	return me.Credits, nil
}

// CreateOrder starts a recharge for the given package and returns the
// external payment redirect URL.
func (c *Client) CreateOrder(ctx context.Context, token, packageID string) (*PaymentOrder, error) {
	payload := map[string]string{"package_id": packageID}
	var out PaymentOrder
	if err := c.postJSON(ctx, "/api/payments/create", token, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOrders returns the recharge history, newest first.
func (c *Client) ListOrders(ctx context.Context, token string) ([]OrderRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/payments/orders", nil)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	setBearer(req, token)
	var out []OrderRecord
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyPaymentReturn forwards the redirect query parameters verbatim,
// form-encoded, to the server's verification endpoint. The endpoint is
// assumed idempotent per trade; the client calls it at most once per
// resolved return.
func (c *Client) VerifyPaymentReturn(ctx context.Context, params url.Values) error {
	if len(params) == 0 {
		return errors.New("api: empty payment return payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/payments/notify", strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", domain.ErrPaymentVerification, resp.StatusCode, firstLine(raw))
	}
	// The gateway protocol acknowledges with a literal body.
	if body := strings.TrimSpace(string(raw)); body != "" && !strings.EqualFold(strings.Trim(body, `"`), "success") {
		return fmt.Errorf("%w: server answered %q", domain.ErrPaymentVerification, body)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("api: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setBearer(req, token)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return c.decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

// decodeError turns a non-2xx response into an error carrying the best
// available server message. 401/403 always map onto ErrAuthExpired so
// callers can invalidate the session uniformly.
func (c *Client) decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	message := ""
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
		message = detail.Detail
	} else {
		message = firstLine(raw)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if message == "" {
			return fmt.Errorf("%w: status %d", domain.ErrAuthExpired, resp.StatusCode)
		}
		return fmt.Errorf("%w: %s", domain.ErrAuthExpired, message)
	}
	if message == "" {
		return fmt.Errorf("api: status %d", resp.StatusCode)
	}
	return fmt.Errorf("api: status %d: %s", resp.StatusCode, message)
}

func setBearer(req *http.Request, token string) {
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func firstLine(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
