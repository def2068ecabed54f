// Package overpass runs an Overpass QL query and writes the returned
// elements as surveillance-node rows.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/vigie/acquire/internal/table"
	"github.com/hazyhaar/vigie/acquire/internal/tags"
)

// DefaultEndpoint is the public Overpass interpreter.
const DefaultEndpoint = "http://overpass-api.de/api/interpreter"

// DefaultQuery selects surveillance nodes and ways in France.
const DefaultQuery = `
[out:json];
area[name="France"]->.searchArea;
(
  node["man_made"="surveillance"](area.searchArea);
  node["surveillance"](area.searchArea);
  way["man_made"="surveillance"](area.searchArea);
  way["surveillance"](area.searchArea);
);
out body;
>;
out skel qt;
`

// Header is the canonical surveillance-node table layout.
var Header = []string{"Lat", "Long", "Timestamp"}

// Node is one normalized element. Ways carry no coordinates.
type Node struct {
	Lat       *float64
	Long      *float64
	Timestamp *string
}

type element struct {
	Type string    `json:"type"`
	ID   int64     `json:"id"`
	Lat  *float64  `json:"lat"`
	Lon  *float64  `json:"lon"`
	Tags tags.Tags `json:"tags"`
}

// Config configures the client.
type Config struct {
	Timeout   time.Duration // Default: 3m; country-wide queries are slow.
	UserAgent string
	// Post sends the query as a form body instead of the data= URL parameter.
	Post bool
}

// Client queries an Overpass endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New returns a client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "vigie/1.0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

// Query runs query against endpoint and writes the nodes to outPath.
// It returns the number of rows written. On error nothing is written.
func (c *Client) Query(ctx context.Context, endpoint, query, outPath string) (int, error) {
	req, err := c.request(ctx, endpoint, query)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("overpass: query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return 0, fmt.Errorf("overpass: query: status %d", resp.StatusCode)
	}

	nodes, err := Decode(resp.Body)
	if err != nil {
		return 0, err
	}

	rows := make([][]string, len(nodes))
	for i, n := range nodes {
		rows[i] = n.Row()
	}
	if err := table.Write(outPath, Header, rows); err != nil {
		return 0, fmt.Errorf("overpass: %w", err)
	}
	c.logger.Info("overpass: nodes written", "rows", len(rows), "path", outPath, "duration_ms", time.Since(start).Milliseconds())
	return len(rows), nil
}

func (c *Client) request(ctx context.Context, endpoint, query string) (*http.Request, error) {
	form := url.Values{"data": {query}}
	var (
		req *http.Request
		err error
	)
	if c.cfg.Post {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+sep+form.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("overpass: request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	return req, nil
}

// Decode reads an Overpass JSON response. A missing elements array is an
// empty result.
func Decode(r io.Reader) ([]Node, error) {
	var body struct {
		Elements []element `json:"elements"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("overpass: decode: %w", err)
	}

	nodes := make([]Node, 0, len(body.Elements))
	for _, el := range body.Elements {
		n := Node{Lat: el.Lat, Long: el.Lon}
		if d, ok := tags.ExtractDate(el.Tags); ok {
			n.Timestamp = &d
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Row renders n in Header order.
func (n Node) Row() []string {
	return []string{coord(n.Lat), coord(n.Long), table.Null(n.Timestamp)}
}

func coord(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
