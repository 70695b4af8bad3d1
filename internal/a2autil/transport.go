package a2autil

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"
)

// ErrUnnamedCard is returned for a card without a name.
var ErrUnnamedCard = errors.New("agent card has no name")

// ResolveCard fetches the card at baseURL+path. A non-empty token is sent
// as a bearer Authorization header.
func ResolveCard(ctx context.Context, client *http.Client, baseURL, path, token string) (*a2a.AgentCard, error) {
	resolver := &agentcard.Resolver{Client: client}
	opts := []agentcard.ResolveOption{agentcard.WithPath(path)}
	if token != "" {
		opts = append(opts, agentcard.WithRequestHeader("Authorization", "Bearer "+token))
	}
	card, err := resolver.Resolve(ctx, baseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("resolve agent card %s%s: %w", baseURL, path, err)
	}
	if card.Name == "" {
		return nil, fmt.Errorf("resolve agent card %s%s: %w", baseURL, path, ErrUnnamedCard)
	}
	return card, nil
}

// NewClient returns a JSON-RPC client for the agent at endpoint. card
// supplies the remaining metadata and may be nil.
func NewClient(ctx context.Context, card *a2a.AgentCard, endpoint string, httpClient *http.Client, token string) (*a2aclient.Client, error) {
	var c a2a.AgentCard
	if card != nil {
		c = *card
	}
	if endpoint != "" {
		c.URL = endpoint
	}
	c.PreferredTransport = a2a.TransportProtocolJSONRPC
	c.AdditionalInterfaces = nil

	client, err := a2aclient.NewFromCard(ctx, &c, a2aclient.WithJSONRPCTransport(BearerClient(httpClient, token)))
	if err != nil {
		return nil, fmt.Errorf("create a2a client for %s: %w", c.URL, err)
	}
	return client, nil
}

// BearerClient returns a copy of base that adds a bearer Authorization
// header to every request. An empty token returns base unchanged.
func BearerClient(base *http.Client, token string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	if token == "" {
		return base
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	c := *base
	c.Transport = &bearerTransport{base: rt, token: token}
	return &c
}

type bearerTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}
