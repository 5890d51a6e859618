package remotestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"beaconrelay/gateway/internal/model"
)

// HTTPClient speaks the record store's REST API.
type HTTPClient struct {
	base   string
	table  string
	region string
	token  string
	hc     *http.Client
}

// NewHTTP builds a client for the given endpoint and table. An empty token
// means ambient credential resolution is expected server-side.
func NewHTTP(endpoint, table, region, token string) (*HTTPClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse store endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported store endpoint scheme %q", u.Scheme)
	}
	if table == "" {
		return nil, fmt.Errorf("store table name required")
	}

	return &HTTPClient{
		base:   strings.TrimRight(u.String(), "/"),
		table:  table,
		region: region,
		token:  token,
		hc:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// PutRecord implements Client.
func (c *HTTPClient) PutRecord(ctx context.Context, rec model.BeaconRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return &Error{Kind: KindValidation, Op: "put record", Err: err}
	}

	path := fmt.Sprintf("/v1/tables/%s/records", url.PathEscape(c.table))
	return c.do(ctx, http.MethodPut, path, nil, body, nil)
}

// Describe implements Client.
func (c *HTTPClient) Describe(ctx context.Context) (TableInfo, error) {
	var info TableInfo
	path := fmt.Sprintf("/v1/tables/%s", url.PathEscape(c.table))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &info); err != nil {
		return TableInfo{}, err
	}
	return info, nil
}

// QueryRecent implements Client.
func (c *HTTPClient) QueryRecent(ctx context.Context, originID string, since time.Time) ([]model.BeaconRecord, error) {
	query := url.Values{}
	query.Set("origin", originID)
	query.Set("since", strconv.FormatInt(since.UnixMilli(), 10))

	var out struct {
		Records []model.BeaconRecord `json:"records"`
	}
	path := fmt.Sprintf("/v1/tables/%s/records", url.PathEscape(c.table))
	if err := c.do(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	op := strings.ToLower(method) + " " + path

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &Error{Kind: KindValidation, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.region != "" {
		req.Header.Set("X-Store-Region", c.region)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &Error{Kind: transportKind(err), Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{
			Kind: kindForStatus(resp.StatusCode),
			Op:   op,
			Err:  fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: KindUnknown, Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func kindForStatus(code int) Kind {
	switch code {
	case http.StatusServiceUnavailable:
		return KindUnavailable
	case http.StatusTooManyRequests:
		return KindThrottled
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAccessDenied
	case http.StatusNotFound:
		return KindNotFound
	}
	if code >= 500 {
		return KindUnavailable
	}
	return KindUnknown
}

func transportKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
