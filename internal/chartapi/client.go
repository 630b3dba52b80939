package chartapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/scribe/internal/dotphrase"
	"github.com/ehr/scribe/internal/platform/db"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Path string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chart api %s: status %d: %s", e.Path, e.Code, e.Body)
}

// Client reads the chart REST endpoints of a remote backend and implements
// every provider the engine needs.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	token    string
	tenantID string
}

type Option func(*Client)

type forwardedAuthKey struct{}

// ForwardAuth copies the caller's Authorization header into the request
// context so backend calls run as the same user. A client built with
// WithBearerToken ignores it.
func ForwardAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
				ctx := context.WithValue(c.Request().Context(), forwardedAuthKey{}, h)
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBearerToken forwards token on every request.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithTenant(tenantID string) Option {
	return func(c *Client) { c.tenantID = tenantID }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse chart api url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("chart api url must be absolute: %q", baseURL)
	}
	c := &Client{baseURL: u, http: &http.Client{Timeout: 15 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

var _ dotphrase.Chart = (*Client)(nil)

func (c *Client) patientPath(patientID string, parts ...string) string {
	p := "/api/v1/patients/" + url.PathEscape(patientID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// get fetches path and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if token := c.token; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if auth, ok := ctx.Value(forwardedAuthKey{}).(string); ok {
		req.Header.Set("Authorization", auth)
	}
	tenantID := c.tenantID
	if tenantID == "" {
		tenantID = db.TenantFromContext(ctx)
	}
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Path: path, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", dotphrase.ErrUnrecognizedShape, path, err)
	}
	return nil
}

// getList fetches a list endpoint. Bare arrays and the common envelopes
// ({"items": [...]}, {"data": [...]}, {"results": [...]}) are accepted.
func (c *Client) getList(ctx context.Context, path string, query url.Values) ([]record, error) {
	var raw json.RawMessage
	if err := c.get(ctx, path, query, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw)
}

func decodeList(raw json.RawMessage) ([]record, error) {
	var list []record
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var env record
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, dotphrase.ErrUnrecognizedShape
	}
	for _, k := range []string{"items", "data", "results", "entries"} {
		if inner, ok := env[k]; ok {
			if err := json.Unmarshal(inner, &list); err == nil {
				return list, nil
			}
		}
	}
	return nil, dotphrase.ErrUnrecognizedShape
}

func windowQuery(q url.Values, w *dotphrase.DateWindow) {
	if w == nil {
		return
	}
	if w.Start != "" {
		q.Set("start", w.Start)
	}
	if w.End != "" {
		q.Set("end", w.End)
	}
	if w.Days > 0 && w.Start == "" && w.End == "" {
		q.Set("days", strconv.Itoa(w.Days))
	}
}

func (c *Client) GetDemographics(ctx context.Context, patientID string) (*dotphrase.Demographics, error) {
	var r record
	if err := c.get(ctx, c.patientPath(patientID, "demographics"), nil, &r); err != nil {
		return nil, err
	}
	return adaptDemographics(r), nil
}

func (c *Client) ListMedications(ctx context.Context, patientID string, f dotphrase.MedsFilter) ([]dotphrase.MedicationRecord, error) {
	q := url.Values{}
	if f.ActiveOnly {
		q.Set("active", "true")
	}
	if f.Name != "" {
		q.Set("name", f.Name)
	}
	windowQuery(q, f.Window)
	list, err := c.getList(ctx, c.patientPath(patientID, "medications"), q)
	if err != nil {
		return nil, err
	}
	out := make([]dotphrase.MedicationRecord, 0, len(list))
	for _, r := range list {
		out = append(out, adaptMedication(r))
	}
	return out, nil
}

func (c *Client) ListProblems(ctx context.Context, patientID string, f dotphrase.ProblemsFilter) ([]dotphrase.ProblemRecord, error) {
	q := url.Values{"active": {strconv.FormatBool(f.ActiveOnly)}}
	list, err := c.getList(ctx, c.patientPath(patientID, "problems"), q)
	if err != nil {
		return nil, err
	}
	out := make([]dotphrase.ProblemRecord, 0, len(list))
	for _, r := range list {
		out = append(out, adaptProblem(r))
	}
	return out, nil
}

func (c *Client) ListAllergies(ctx context.Context, patientID string) ([]dotphrase.AllergyRecord, error) {
	list, err := c.getList(ctx, c.patientPath(patientID, "allergies"), nil)
	if err != nil {
		return nil, err
	}
	out := make([]dotphrase.AllergyRecord, 0, len(list))
	for _, r := range list {
		out = append(out, adaptAllergy(r))
	}
	return out, nil
}

func (c *Client) GetVitals(ctx context.Context, patientID string, w dotphrase.DateWindow) (dotphrase.VitalsBundle, error) {
	q := url.Values{}
	windowQuery(q, &w)
	var raw map[string]json.RawMessage
	if err := c.get(ctx, c.patientPath(patientID, "vitals"), q, &raw); err != nil {
		return nil, err
	}
	return adaptVitals(raw)
}

func (c *Client) ListLabs(ctx context.Context, patientID string, f dotphrase.LabsFilter) ([]dotphrase.LabRecord, error) {
	q := url.Values{}
	if len(f.Names) > 0 {
		q.Set("names", strings.Join(f.Names, ","))
	}
	if f.FullHistory {
		q.Set("all", "1")
	} else {
		windowQuery(q, f.Window)
	}
	list, err := c.getList(ctx, c.patientPath(patientID, "labs"), q)
	if err != nil {
		return nil, err
	}
	out := make([]dotphrase.LabRecord, 0, len(list))
	for _, r := range list {
		out = append(out, adaptLab(r))
	}
	return out, nil
}

// ListOrders uses the single {status}/{type}/{days} path.
func (c *Client) ListOrders(ctx context.Context, patientID string, status dotphrase.OrderStatus, orderType dotphrase.OrderType, days int) ([]dotphrase.OrderRecord, error) {
	path := c.patientPath(patientID, "orders", string(status), string(orderType), strconv.Itoa(days))
	list, err := c.getList(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	out := make([]dotphrase.OrderRecord, 0, len(list))
	for _, r := range list {
		out = append(out, adaptOrder(r))
	}
	return out, nil
}
