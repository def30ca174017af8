// Package provider wraps the upstream market-data endpoints. Every fetch runs
// through the same resilient pipeline: cache lookup, in-flight deduplication,
// the endpoint's circuit breaker, then the rate-limited retrying HTTP client.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"bridge-aggregator/breaker"
	"bridge-aggregator/caching"
	"bridge-aggregator/decimals"
	"bridge-aggregator/dedup"
	"bridge-aggregator/goutils/httpclient"
	"bridge-aggregator/goutils/reporting"
	"bridge-aggregator/goutils/settings"
	"bridge-aggregator/snapshot-aggregator/models"
)

var (
	ErrMissingAmount = errors.New("quote requires a positive integer amount")
	ErrEmptyChainID  = errors.New("token list requires a chain id")
)

type Client struct {
	settingsObj *settings.SettingsObj
	httpClient  *httpclient.Client
	deduper     *dedup.Deduplicator

	quoteCache     caching.MemCache
	volumeCache    caching.MemCache
	tokenListCache caching.MemCache

	quoteBreaker     *breaker.CircuitBreaker
	volumeBreaker    *breaker.CircuitBreaker
	tokenListBreaker *breaker.CircuitBreaker
}

// NewClient wires the provider endpoints behind their caches and breakers.
// Breaker state changes are reported through the issue reporter.
func NewClient(settingsObj *settings.SettingsObj, httpClient *httpclient.Client, reporter reporting.Service) (*Client, error) {
	quoteCache, err := caching.NewTTLCache("quotes", time.Duration(settingsObj.Cache.QuoteTTLSecs)*time.Second, settingsObj.Cache.QuoteMaxSize)
	if err != nil {
		return nil, err
	}

	volumeCache, err := caching.NewTTLCache("volumes", time.Duration(settingsObj.Cache.VolumeTTLSecs)*time.Second, settingsObj.Cache.VolumeMaxSize)
	if err != nil {
		return nil, err
	}

	tokenListCache, err := caching.NewTTLCache("tokenlists", time.Duration(settingsObj.Cache.TokenListTTLSecs)*time.Second, settingsObj.Cache.TokenListMaxSize)
	if err != nil {
		return nil, err
	}

	onStateChange := func(name string, from, to breaker.State) {
		if reporter == nil {
			return
		}

		extra := map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		}

		switch to {
		case breaker.Open:
			reporter.Report(reporting.ProviderOutageIssue, name, extra)
		case breaker.Closed:
			reporter.Report(reporting.ProviderRecoveredIssue, name, extra)
		}
	}

	breakerCfg := func(name string) breaker.Config {
		return breaker.Config{
			Name:             name,
			FailureThreshold: settingsObj.Breaker.FailureThreshold,
			Cooldown:         time.Duration(settingsObj.Breaker.CooldownMs) * time.Millisecond,
			SuccessThreshold: settingsObj.Breaker.SuccessThreshold,
			OnStateChange:    onStateChange,
		}
	}

	return &Client{
		settingsObj:      settingsObj,
		httpClient:       httpClient,
		deduper:          dedup.NewDeduplicator(),
		quoteCache:       quoteCache,
		volumeCache:      volumeCache,
		tokenListCache:   tokenListCache,
		quoteBreaker:     breaker.NewCircuitBreaker(breakerCfg("quote")),
		volumeBreaker:    breaker.NewCircuitBreaker(breakerCfg("volume")),
		tokenListBreaker: breaker.NewCircuitBreaker(breakerCfg("tokenlist")),
	}, nil
}

// GetQuote fetches an estimated output amount for a (route, notional) pair.
func (c *Client) GetQuote(ctx context.Context, route models.Route, notional string) (*models.ProviderQuoteResponse, error) {
	if _, err := decimals.ParseRawAmount(notional); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingAmount, err)
	}

	key := "quote:" + route.Key() + ":" + notional

	if cached, ok := c.quoteCache.Get(key); ok {
		return cached.(*models.ProviderQuoteResponse), nil
	}

	result, err := c.deduper.Deduplicate(key, func() (interface{}, error) {
		return c.quoteBreaker.Execute(func() (interface{}, error) {
			reqURL := fmt.Sprintf("%s/quote?%s", c.settingsObj.Provider.BaseURL, url.Values{
				"fromChain":  {route.Source.ChainID},
				"toChain":    {route.Destination.ChainID},
				"fromToken":  {route.Source.AssetID},
				"toToken":    {route.Destination.AssetID},
				"fromAmount": {notional},
			}.Encode())

			quote := new(models.ProviderQuoteResponse)
			if err := c.httpClient.FetchJSON(ctx, http.MethodGet, reqURL, nil, quote); err != nil {
				return nil, err
			}

			return quote, nil
		})
	})
	if err != nil {
		return nil, err
	}

	quote := result.(*models.ProviderQuoteResponse)
	c.quoteCache.Set(key, quote)

	return quote, nil
}

// GetVolume fetches the provider-wide transfer volume aggregate. The value is
// cached once for all requests, not per route.
func (c *Client) GetVolume(ctx context.Context) (*models.ProviderVolumeResponse, error) {
	const key = "volume:provider"

	if cached, ok := c.volumeCache.Get(key); ok {
		return cached.(*models.ProviderVolumeResponse), nil
	}

	result, err := c.deduper.Deduplicate(key, func() (interface{}, error) {
		return c.volumeBreaker.Execute(func() (interface{}, error) {
			reqURL := c.settingsObj.Provider.BaseURL + "/analytics/volume"

			volume := new(models.ProviderVolumeResponse)
			if err := c.httpClient.FetchJSON(ctx, http.MethodGet, reqURL, nil, volume); err != nil {
				return nil, err
			}

			return volume, nil
		})
	})
	if err != nil {
		return nil, err
	}

	volume := result.(*models.ProviderVolumeResponse)
	c.volumeCache.Set(key, volume)

	return volume, nil
}

// GetTokenList fetches the address -> token info mapping for one chain,
// cached per chain.
func (c *Client) GetTokenList(ctx context.Context, chainID string) (map[string]models.ProviderTokenInfo, error) {
	if chainID == "" {
		return nil, ErrEmptyChainID
	}

	key := "tokens:" + chainID

	if cached, ok := c.tokenListCache.Get(key); ok {
		return cached.(map[string]models.ProviderTokenInfo), nil
	}

	result, err := c.deduper.Deduplicate(key, func() (interface{}, error) {
		return c.tokenListBreaker.Execute(func() (interface{}, error) {
			reqURL := fmt.Sprintf("%s/tokens?chain=%s", c.settingsObj.Provider.BaseURL, url.QueryEscape(chainID))

			tokenList := new(models.ProviderTokenListResponse)
			if err := c.httpClient.FetchJSON(ctx, http.MethodGet, reqURL, nil, tokenList); err != nil {
				return nil, err
			}

			return tokenList.Tokens, nil
		})
	})
	if err != nil {
		return nil, err
	}

	tokens := result.(map[string]models.ProviderTokenInfo)
	c.tokenListCache.Set(key, tokens)

	return tokens, nil
}

// Ping checks provider reachability. It bypasses cache and breakers so a
// liveness probe always reflects the real upstream state.
func (c *Client) Ping(ctx context.Context) error {
	status := new(models.ProviderStatusResponse)

	return c.httpClient.FetchJSON(ctx, http.MethodGet, c.settingsObj.Provider.BaseURL+"/status", nil, status)
}

// LogCacheStats dumps cache and dedup counters, called periodically.
func (c *Client) LogCacheStats() {
	log.WithField("quotes", c.quoteCache.Stats()).
		WithField("volumes", c.volumeCache.Stats()).
		WithField("tokenlists", c.tokenListCache.Stats()).
		WithField("dedupStarted", c.deduper.Started()).
		WithField("dedupCoalesced", c.deduper.Coalesced()).
		Info("provider cache stats")
}

// ClearCaches drops all cached provider data.
func (c *Client) ClearCaches() {
	c.quoteCache.Clear()
	c.volumeCache.Clear()
	c.tokenListCache.Clear()
}
