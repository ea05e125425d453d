package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/miloview/miloview/internal/config"
	"github.com/miloview/miloview/internal/store"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 1000
	// The API reports timestamps in RFC 2822.
	wireTimeLayout  = time.RFC1123Z
	queryTimeLayout = "2006-01-02T15:04:05Z"
)

// Client fetches messages from the upstream REST API with basic auth
// and next_page_uri pagination.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	pageSize   int
	httpc      *http.Client
	logger     *zap.Logger
}

// NewClient creates a live API client from the upstream configuration.
func NewClient(cfg config.Upstream, logger *zap.Logger) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    cfg.BaseURL,
		pageSize:   pageSize,
		httpc:      &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Demo reports whether this source serves fixture data. Never for the
// live client.
func (c *Client) Demo() bool { return false }

// List pages through the messages resource. Iteration ends when a page
// comes back smaller than the page size, the API stops advertising a
// next page, or fn signals stop. A failed page abandons the remainder:
// pages fn already consumed are not rolled back.
func (c *Client) List(ctx context.Context, f Filter, fn PageFunc) error {
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	q := url.Values{}
	q.Set("PageSize", strconv.Itoa(pageSize))
	if !f.SentAfter.IsZero() {
		q.Set("DateSent>", f.SentAfter.UTC().Format(queryTimeLayout))
	}
	if !f.SentBefore.IsZero() {
		q.Set("DateSent<", f.SentBefore.UTC().Format(queryTimeLayout))
	}

	next := fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json?%s", c.accountSID, q.Encode())
	for page := 1; next != ""; page++ {
		var pl messagePage
		if err := c.get(ctx, next, &pl); err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}

		msgs := make([]store.Message, 0, len(pl.Messages))
		for _, am := range pl.Messages {
			msgs = append(msgs, am.toMessage())
		}
		c.logger.Info("fetched message page",
			zap.Int("page", page),
			zap.Int("messages", len(msgs)))

		cont, err := fn(msgs)
		if err != nil {
			return err
		}
		if !cont || len(pl.Messages) < pageSize {
			return nil
		}
		next = pl.NextPageURI
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("upstream status %d: %s", resp.StatusCode, snippet)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

type messagePage struct {
	Messages    []apiMessage `json:"messages"`
	NextPageURI string       `json:"next_page_uri"`
	PageSize    int          `json:"page_size"`
}

// apiMessage mirrors the wire shape: RFC 2822 dates and numeric fields
// encoded as strings.
type apiMessage struct {
	SID          string `json:"sid"`
	From         string `json:"from"`
	To           string `json:"to"`
	Body         string `json:"body"`
	Status       string `json:"status"`
	Direction    string `json:"direction"`
	DateSent     string `json:"date_sent"`
	DateCreated  string `json:"date_created"`
	Price        string `json:"price"`
	PriceUnit    string `json:"price_unit"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	NumSegments  string `json:"num_segments"`
	NumMedia     string `json:"num_media"`
}

func (am apiMessage) toMessage() store.Message {
	m := store.Message{
		SID:          am.SID,
		From:         am.From,
		To:           am.To,
		Body:         am.Body,
		Status:       am.Status,
		Direction:    am.Direction,
		DateSent:     parseWireTime(am.DateSent),
		DateCreated:  parseWireTime(am.DateCreated),
		Price:        am.Price,
		PriceUnit:    am.PriceUnit,
		ErrorMessage: am.ErrorMessage,
		NumSegments:  parseWireInt(am.NumSegments),
		NumMedia:     parseWireInt(am.NumMedia),
	}
	if am.ErrorCode != nil {
		m.ErrorCode = *am.ErrorCode
	}
	return m
}

func parseWireTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(wireTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseWireInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
