// Package itemku talks to the tokoku seller gateway: listing orders that
// still need fulfillment and delivering them.
package itemku

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sanurivanta-afk/tokomon/internal/model"
)

const (
	// CodeTransport is the outcome code for a request that never produced an
	// HTTP response (DNS, connect, timeout). Distinct from every real status.
	CodeTransport = -1
	// CodeNoKey is the outcome code for a delivery skipped locally because
	// the order carries no delivery key.
	CodeNoKey = 0

	// previewLimit bounds how much response body ends up in operator messages.
	previewLimit = 150
)

// Client issues requests against the order-history and deliver endpoints.
// A shared limiter keeps a burst of deliveries from hammering the gateway.
type Client struct {
	HTTP       *http.Client
	ListURL    string
	DeliverURL string
	Limiter    *rate.Limiter
}

func NewClient(listURL, deliverURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		HTTP:       &http.Client{Timeout: timeout},
		ListURL:    listURL,
		DeliverURL: deliverURL,
		Limiter:    rate.NewLimiter(rate.Limit(5), 5),
	}
}

// setHeaders attaches the browser-shaped headers the gateway expects, plus
// the session cookie when present.
func setHeaders(req *http.Request, cookie string) {
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("client-id", "seller-web_ccdec37602b77fa07608c7afdcfdc7e9")
	req.Header.Set("Referer", "https://tokoku.itemku.com/riwayat-pesanan")
	req.Header.Set("Origin", "https://tokoku.itemku.com")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
}

// FetchPending lists orders waiting on fulfillment (gateway status 2, oldest
// first, first page). The int is the HTTP status, or CodeTransport when the
// request never completed. A 200 whose body does not hold a list at data.data
// is reported as 200 with no orders, never as an error.
func (c *Client) FetchPending(ctx context.Context, cookie string) (int, []model.Order) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return CodeTransport, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ListURL, nil)
	if err != nil {
		return CodeTransport, nil
	}
	q := req.URL.Query()
	q.Set("status", "2")
	q.Set("page", "1")
	q.Set("sort", "oldest")
	q.Set("use_simple_pagination", "true")
	q.Set("language_code", "ID")
	req.URL.RawQuery = q.Encode()
	setHeaders(req, cookie)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return CodeTransport, nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, nil
	}
	var payload struct {
		Data struct {
			Data []model.Order `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return http.StatusOK, nil
	}
	return http.StatusOK, payload.Data.Data
}

// Deliver executes fulfillment for one order. It is attempted at most once;
// the caller must have recorded the order in the ledger already. The message
// is a bounded body preview suitable for an operator notification.
func (c *Client) Deliver(ctx context.Context, cookie string, o model.Order) (bool, int, string) {
	key := o.DeliveryKey()
	if key == "" {
		return false, CodeNoKey, "deliver id not found"
	}
	if err := c.Limiter.Wait(ctx); err != nil {
		return false, CodeTransport, err.Error()
	}
	body, _ := json.Marshal(map[string]json.RawMessage{"order_id": o.DeliveryKeyJSON()})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.DeliverURL, bytes.NewReader(body))
	if err != nil {
		return false, CodeTransport, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	setHeaders(req, cookie)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, CodeTransport, err.Error()
	}
	defer func() { _ = resp.Body.Close() }()
	preview := bodyPreview(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return false, resp.StatusCode, preview
	}
	if preview == "" {
		preview = "OK"
	}
	return true, http.StatusOK, preview
}

func bodyPreview(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, previewLimit))
	return string(b)
}
