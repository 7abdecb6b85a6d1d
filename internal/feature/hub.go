package feature

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultHubURL is the public plugins hub API.
const DefaultHubURL = "https://eliza-plugins-hub.vercel.app/api"

// HubRegistry reads plugins from a plugins hub HTTP API.
type HubRegistry struct {
	baseURL      string
	officialOnly bool
	search       string
	client       *http.Client
	logger       *zap.Logger
	concurrency  int
}

// HubOption configures a HubRegistry.
type HubOption func(*HubRegistry)

// WithHubClient overrides the HTTP client.
func WithHubClient(c *http.Client) HubOption { return func(r *HubRegistry) { r.client = c } }

// WithSearch restricts the listing to a search term.
func WithSearch(term string) HubOption { return func(r *HubRegistry) { r.search = term } }

// WithAllPlugins includes unofficial plugins.
func WithAllPlugins() HubOption { return func(r *HubRegistry) { r.officialOnly = false } }

// NewHubRegistry creates a registry for the hub at baseURL.
func NewHubRegistry(baseURL string, logger *zap.Logger, opts ...HubOption) *HubRegistry {
	if baseURL == "" {
		baseURL = DefaultHubURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &HubRegistry{
		baseURL:      strings.TrimRight(baseURL, "/"),
		officialOnly: true,
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
		concurrency:  8,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type hubPlugin struct {
	FullName    string `json:"full_name"`
	Description string `json:"description"`
}

type hubPluginDetail struct {
	Plugin      hubPlugin `json:"plugin"`
	AgentConfig struct {
		PluginType       string                     `json:"pluginType"`
		PluginParameters map[string]json.RawMessage `json:"pluginParameters"`
	} `json:"agentConfig"`
}

var fullNameRe = regexp.MustCompile(`^([^/]+)/([^/]+)$`)

// Features lists the hub's plugins and fetches every plugin's parameters
// concurrently.
func (r *HubRegistry) Features(ctx context.Context) ([]Spec, error) {
	plugins, err := r.list(ctx)
	if err != nil {
		return nil, err
	}

	specs := make([]Spec, len(plugins))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, p := range plugins {
		g.Go(func() error {
			detail, err := r.get(gctx, p.FullName)
			if err != nil {
				return err
			}
			desc := detail.Plugin.Description
			if desc == "" {
				desc = p.Description
			}
			specs[i] = Spec{
				Name:        p.FullName,
				Description: desc,
				Parameters:  detail.AgentConfig.PluginParameters,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.logger.Info("loaded hub plugins", zap.Int("count", len(specs)))
	return specs, nil
}

func (r *HubRegistry) list(ctx context.Context) ([]hubPlugin, error) {
	q := url.Values{}
	q.Set("search", r.search)
	if r.officialOnly {
		q.Set("officialOnly", "true")
	}
	var body struct {
		Plugins []hubPlugin `json:"plugins"`
	}
	if err := r.getJSON(ctx, r.baseURL+"/plugins?"+q.Encode(), &body); err != nil {
		return nil, fmt.Errorf("fetch plugins: %w", err)
	}
	return body.Plugins, nil
}

func (r *HubRegistry) get(ctx context.Context, fullName string) (*hubPluginDetail, error) {
	m := fullNameRe.FindStringSubmatch(fullName)
	if m == nil {
		return nil, fmt.Errorf("invalid plugin name: %s", fullName)
	}
	var detail hubPluginDetail
	u := r.baseURL + "/plugins/" + url.PathEscape(m[1]) + "/" + url.PathEscape(m[2])
	if err := r.getJSON(ctx, u, &detail); err != nil {
		return nil, fmt.Errorf("fetch plugin %s: %w", fullName, err)
	}
	return &detail, nil
}

func (r *HubRegistry) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("hub error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
