// Package registry discovers external agents and keeps an immutable,
// ordered view of them for routing and capability matching.
//
// Discovery fetches each configured agent's public card and, when an auth
// token is configured, its authenticated extended card. Capability tags are
// the normalized union of the skill tags of whichever cards succeeded. A
// failing agent is recorded as unhealthy and never aborts discovery of the
// others.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/codemesh/core"
	"github.com/hupe1980/codemesh/internal/a2autil"
	"github.com/hupe1980/codemesh/logging"
	"github.com/hupe1980/codemesh/metrics"
)

// ExternalAgentDescriptor configures one external agent.
type ExternalAgentDescriptor struct {
	Name      string `json:"name" yaml:"name"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	AuthToken string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`
}

// Validate checks the descriptor fields.
func (d ExternalAgentDescriptor) Validate() error {
	if d.Name == "" {
		return errors.New("external agent name is required")
	}
	u, err := url.Parse(d.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("external agent %s: base_url must be an absolute http(s) URL", d.Name)
	}
	return nil
}

// Entry is the discovered view of one agent.
type Entry struct {
	Name    string
	BaseURL string
	// Endpoint is the JSON-RPC URL from the card, defaulting to BaseURL.
	Endpoint     string
	Capabilities []string
	PublicCard   *a2a.AgentCard
	ExtendedCard *a2a.AgentCard
	Streaming    bool
	Healthy      bool
	LastError    error
	AuthToken    string
}

// HasCapability reports whether the entry advertises tag.
func (e Entry) HasCapability(tag string) bool {
	return core.IntersectTags(e.Capabilities, []string{tag}) == 1
}

// Options configures discovery.
type Options struct {
	// HTTPClient fetches the cards.
	HTTPClient *http.Client
	// FetchTimeout bounds each card fetch.
	FetchTimeout time.Duration
	// Concurrency bounds parallel descriptor discovery.
	Concurrency int
	Logger      *logging.StructuredLogger
	Metrics     *metrics.Metrics
}

// Registry is the discovery result. It is immutable and safe to share across
// runs; accessors return copies.
type Registry struct {
	entries []Entry
	byName  map[string]int
}

// Discover resolves every descriptor. Results keep configuration order; a
// duplicate name keeps the first descriptor. Discover only returns an error
// when ctx is done before discovery finished.
func Discover(ctx context.Context, descs []ExternalAgentDescriptor, optFns ...func(o *Options)) (*Registry, error) {
	opts := Options{
		FetchTimeout: 10 * time.Second,
		Concurrency:  8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	logger := opts.Logger.WithComponent("registry")

	unique := make([]ExternalAgentDescriptor, 0, len(descs))
	seen := map[string]struct{}{}
	for _, d := range descs {
		if _, ok := seen[d.Name]; ok {
			logger.Warn("Duplicate external agent ignored", "agent", d.Name, "base_url", d.BaseURL)
			continue
		}
		seen[d.Name] = struct{}{}
		unique = append(unique, d)
	}

	entries := make([]Entry, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, d := range unique {
		g.Go(func() error {
			entries[i] = discoverOne(gctx, opts, d)
			logger.LogDiscovery(d.Name, d.BaseURL, len(entries[i].Capabilities), entries[i].LastError)
			opts.Metrics.ObserveDiscovery(entries[i].Healthy)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discover external agents: %w", err)
	}

	return New(entries...), nil
}

// New builds a registry from prepared entries, mainly for tests and for
// callers that discover agents themselves.
func New(entries ...Entry) *Registry {
	r := &Registry{byName: make(map[string]int, len(entries))}
	for _, e := range entries {
		if _, ok := r.byName[e.Name]; ok {
			continue
		}
		r.byName[e.Name] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r
}

func discoverOne(ctx context.Context, opts Options, d ExternalAgentDescriptor) Entry {
	entry := Entry{Name: d.Name, BaseURL: d.BaseURL, Endpoint: d.BaseURL, AuthToken: d.AuthToken}
	if err := d.Validate(); err != nil {
		entry.LastError = &core.DiscoveryError{Agent: d.Name, URL: d.BaseURL, Err: err}
		return entry
	}

	var errs []error
	public, err := fetchCard(ctx, opts, d.BaseURL, a2autil.AgentCardPath, "")
	if err != nil {
		errs = append(errs, &core.DiscoveryError{Agent: d.Name, URL: d.BaseURL + a2autil.AgentCardPath, Err: err})
	}
	entry.PublicCard = public

	if d.AuthToken != "" {
		ext, err := fetchCard(ctx, opts, d.BaseURL, a2autil.ExtendedAgentCardPath, d.AuthToken)
		if err != nil {
			errs = append(errs, &core.DiscoveryError{Agent: d.Name, URL: d.BaseURL + a2autil.ExtendedAgentCardPath, Err: err})
		}
		entry.ExtendedCard = ext
	}

	var tags []string
	for _, card := range []*a2a.AgentCard{entry.PublicCard, entry.ExtendedCard} {
		if card == nil {
			continue
		}
		entry.Healthy = true
		tags = append(tags, a2autil.Tags(card)...)
		if card.URL != "" {
			entry.Endpoint = card.URL
		}
		if card.Capabilities.Streaming {
			entry.Streaming = true
		}
	}
	entry.Capabilities = core.NormalizeTags(tags)
	entry.LastError = errors.Join(errs...)
	return entry
}

func fetchCard(ctx context.Context, opts Options, baseURL, path, token string) (*a2a.AgentCard, error) {
	if opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.FetchTimeout)
		defer cancel()
	}
	return a2autil.ResolveCard(ctx, opts.HTTPClient, baseURL, path, token)
}

// Lookup returns a copy of the named entry.
func (r *Registry) Lookup(name string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// List returns all entries in discovery order.
func (r *Registry) List() []Entry {
	if r == nil {
		return nil
	}
	return append([]Entry(nil), r.entries...)
}

// Healthy returns the healthy entries in discovery order.
func (r *Registry) Healthy() []Entry {
	var out []Entry
	for _, e := range r.List() {
		if e.Healthy {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Match returns the healthy entry sharing the most capability tags with tags.
// Ties go to the first discovered entry; no overlap returns false.
func (r *Registry) Match(tags []string) (Entry, bool) {
	best, bestScore := Entry{}, 0
	for _, e := range r.Healthy() {
		if score := core.IntersectTags(e.Capabilities, tags); score > bestScore {
			best, bestScore = e, score
		}
	}
	return best, bestScore > 0
}
