package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"bridge-aggregator/goutils/httpclient"
	"bridge-aggregator/goutils/ratelimiter"
	"bridge-aggregator/goutils/settings"
	"bridge-aggregator/snapshot-aggregator/models"
	"bridge-aggregator/snapshot-aggregator/provider"
)

// fakeUpstream fakes the provider's quote, volume and token-list endpoints.
type fakeUpstream struct {
	mu sync.Mutex

	quoteStatus        int               // non-zero forces this status for every quote
	quoteStatusByIn    map[string]int    // per-fromAmount status override
	toAmountByIn       map[string]string // fromAmount -> toAmount, defaults to echo
	feeCosts           []models.ProviderFeeCost
	volumeStatus       int
	tokenStatusByChain map[string]int

	quoteHitsByIn map[string]int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		quoteStatusByIn:    make(map[string]int),
		toAmountByIn:       make(map[string]string),
		tokenStatusByChain: make(map[string]int),
		quoteHitsByIn:      make(map[string]int),
	}
}

func (f *fakeUpstream) quoteHits(fromAmount string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.quoteHitsByIn[fromAmount]
}

func (f *fakeUpstream) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			f.handleQuote(w, r)
		case "/analytics/volume":
			f.handleVolume(w)
		case "/tokens":
			f.handleTokens(w, r)
		case "/status":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func (f *fakeUpstream) handleQuote(w http.ResponseWriter, r *http.Request) {
	fromAmount := r.URL.Query().Get("fromAmount")

	f.mu.Lock()
	f.quoteHitsByIn[fromAmount]++
	status := f.quoteStatus
	if perAmount, ok := f.quoteStatusByIn[fromAmount]; ok {
		status = perAmount
	}
	toAmount, ok := f.toAmountByIn[fromAmount]
	fees := f.feeCosts
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)

		return
	}

	if !ok {
		toAmount = fromAmount
	}

	resp := models.ProviderQuoteResponse{
		Estimate: models.ProviderQuoteEstimate{
			ToAmount: toAmount,
			FeeCosts: fees,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (f *fakeUpstream) handleVolume(w http.ResponseWriter) {
	f.mu.Lock()
	status := f.volumeStatus
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"dailyVolumeUSD":"1000000.5","weeklyVolumeUSD":"7000000","monthlyVolumeUSD":"30000000"}`))
}

func (f *fakeUpstream) handleTokens(w http.ResponseWriter, r *http.Request) {
	chainID := r.URL.Query().Get("chain")

	f.mu.Lock()
	status := f.tokenStatusByChain[chainID]
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)

		return
	}

	var body string

	switch chainID {
	case "1":
		// same asset under two casings plus a second token
		body = `{"tokens":{"0xA1":{"symbol":"USDC","name":"USD Coin","decimals":6},"0xa1":{"symbol":"USDC","name":"USD Coin","decimals":6},"0xB1":{"symbol":"DAI","name":"Dai","decimals":18}}}`
	case "137":
		body = `{"tokens":{"0xA137":{"symbol":"USDC","name":"USD Coin","decimals":6}}}`
	default:
		body = `{"tokens":{}}`
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func serviceTestSettings(baseURL string) *settings.SettingsObj {
	return &settings.SettingsObj{
		InstanceId:  "test-instance",
		Concurrency: 4,
		Provider: &settings.Provider{
			BaseURL:        baseURL,
			TimeoutSecs:    2,
			RequestsPerSec: 10000,
			MaxTokens:      1000,
		},
		Retry: &settings.Retry{
			MaxRetries:   0,
			BaseDelayMs:  1,
			MaxBackoffMs: 20,
		},
		Cache: &settings.CacheConfig{
			QuoteTTLSecs:     300,
			QuoteMaxSize:     1000,
			VolumeTTLSecs:    600,
			VolumeMaxSize:    10,
			TokenListTTLSecs: 300,
			TokenListMaxSize: 50,
		},
		Breaker: &settings.Breaker{
			FailureThreshold: 1000,
			CooldownMs:       50,
			SuccessThreshold: 2,
		},
		Probing: &settings.Probing{
			SizesUsd:          []int64{1000, 10000, 100000},
			LiquidityLadder:   []int64{1000, 10000, 100000},
			InterProbeDelayMs: 1,
		},
		HttpClient: &settings.HTTPClient{
			MaxIdleConns:        10,
			MaxConnsPerHost:     10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     60,
		},
		Reporting:   &settings.Reporting{},
		Healthcheck: &settings.Healthcheck{Port: 9000, Endpoint: "/health"},
	}
}

func newTestService(t *testing.T, baseURL string) *SnapshotService {
	t.Helper()

	settingsObj := serviceTestSettings(baseURL)

	limiter, err := ratelimiter.NewTokenBucket(settingsObj.Provider.MaxTokens, settingsObj.Provider.RequestsPerSec)
	assert.NoError(t, err)

	providerClient, err := provider.NewClient(settingsObj, httpclient.NewClient(settingsObj, limiter), nil)
	assert.NoError(t, err)

	return InitSnapshotService(settingsObj, providerClient)
}

func usdcRoute() models.Route {
	return models.Route{
		Source:      models.Asset{ChainID: "1", AssetID: "0xa1", Symbol: "USDC", Decimals: 6},
		Destination: models.Asset{ChainID: "137", AssetID: "0xa137", Symbol: "USDC", Decimals: 6},
	}
}

func TestSnapshotService_GetSnapshot_Validation(t *testing.T) {
	svc := newTestService(t, "http://localhost:0")

	tests := []struct {
		name string
		req  *models.SnapshotRequest
	}{
		{"nil request", nil},
		{"empty routes", &models.SnapshotRequest{Notionals: []string{"1000000"}}},
		{"empty notionals", &models.SnapshotRequest{Routes: []models.Route{usdcRoute()}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetSnapshot(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrEmptyRequest)
		})
	}
}

func TestSnapshotService_GetSnapshot_Scenario(t *testing.T) {
	upstream := newFakeUpstream()
	upstream.feeCosts = []models.ProviderFeeCost{
		{Name: "gas", AmountUsd: "1.25"},
		{Name: "relayer", AmountUsd: "0.25"},
	}

	server := upstream.server()
	defer server.Close()

	svc := newTestService(t, server.URL)

	snapshot, err := svc.GetSnapshot(context.Background(), &models.SnapshotRequest{
		Routes:    []models.Route{usdcRoute()},
		Notionals: []string{"1000000", "10000000"},
		Windows:   []string{"24h", "7d"},
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, snapshot.RequestID)

	t.Run("volumes", func(t *testing.T) {
		assert.Len(t, snapshot.Volumes, 2)

		byWindow := make(map[string]decimal.Decimal)
		for _, volume := range snapshot.Volumes {
			byWindow[volume.Window] = volume.VolumeUsd
		}

		assert.True(t, byWindow["24h"].Equal(decimal.RequireFromString("1000000.5")))
		assert.True(t, byWindow["7d"].Equal(decimal.NewFromInt(7000000)))
	})

	t.Run("rates", func(t *testing.T) {
		assert.Len(t, snapshot.Rates, 2)

		for _, rate := range snapshot.Rates {
			assert.True(t, rate.EffectiveRate.Equal(decimal.NewFromInt(1)), "echo quote must yield rate 1, got %s", rate.EffectiveRate)
			assert.NotNil(t, rate.TotalFeeUsd)
			assert.True(t, rate.TotalFeeUsd.Equal(decimal.RequireFromString("1.5")))
		}
	})

	t.Run("liquidity", func(t *testing.T) {
		assert.Len(t, snapshot.Liquidity, 1)

		thresholds := snapshot.Liquidity[0].Thresholds
		assert.Len(t, thresholds, 2)
		assert.Equal(t, 50, thresholds[0].SlippageBps)
		assert.Equal(t, 100, thresholds[1].SlippageBps)

		// flat rates across the whole ladder
		assert.Equal(t, "100000000000", thresholds[0].MaxAmountIn)
		assert.Equal(t, "100000000000", thresholds[1].MaxAmountIn)
	})

	t.Run("listed assets", func(t *testing.T) {
		assets := snapshot.ListedAssets.Assets
		assert.Len(t, assets, 3, "duplicate casings must be deduplicated")

		chains := make(map[string]int)
		seen := make(map[string]bool)

		for _, asset := range assets {
			chains[asset.ChainID]++

			assert.False(t, seen[asset.Key()], "duplicate asset %s", asset.Key())
			seen[asset.Key()] = true
		}

		assert.Equal(t, 2, chains["1"])
		assert.Equal(t, 1, chains["137"])
	})

	t.Run("no intelligence unless requested", func(t *testing.T) {
		assert.Nil(t, snapshot.Intelligence)
	})
}

func TestSnapshotService_GetSnapshot_QuoteEndpointDown(t *testing.T) {
	upstream := newFakeUpstream()
	upstream.quoteStatus = http.StatusInternalServerError

	server := upstream.server()
	defer server.Close()

	svc := newTestService(t, server.URL)

	snapshot, err := svc.GetSnapshot(context.Background(), &models.SnapshotRequest{
		Routes:    []models.Route{usdcRoute()},
		Notionals: []string{"1000000"},
		Windows:   []string{"24h"},
	})

	assert.NoError(t, err, "quote failures must degrade, not propagate")
	assert.Empty(t, snapshot.Rates)
	assert.Empty(t, snapshot.Liquidity)
	assert.Len(t, snapshot.Volumes, 1, "other sections keep working")
	assert.NotEmpty(t, snapshot.ListedAssets.Assets)
}

func TestSnapshotService_GetSnapshot_VolumeFailureDegrades(t *testing.T) {
	upstream := newFakeUpstream()
	upstream.volumeStatus = http.StatusInternalServerError

	server := upstream.server()
	defer server.Close()

	svc := newTestService(t, server.URL)

	snapshot, err := svc.GetSnapshot(context.Background(), &models.SnapshotRequest{
		Routes:    []models.Route{usdcRoute()},
		Notionals: []string{"1000000"},
		Windows:   []string{"24h", "7d"},
	})

	assert.NoError(t, err)
	assert.Empty(t, snapshot.Volumes)
	assert.Len(t, snapshot.Rates, 1)
}

func TestSnapshotService_GetSnapshot_TokenListPartialFailure(t *testing.T) {
	upstream := newFakeUpstream()
	upstream.tokenStatusByChain["137"] = http.StatusInternalServerError

	server := upstream.server()
	defer server.Close()

	svc := newTestService(t, server.URL)

	snapshot, err := svc.GetSnapshot(context.Background(), &models.SnapshotRequest{
		Routes:    []models.Route{usdcRoute()},
		Notionals: []string{"1000000"},
	})

	assert.NoError(t, err)

	for _, asset := range snapshot.ListedAssets.Assets {
		assert.Equal(t, "1", asset.ChainID, "failed chain must yield no assets without blocking others")
	}

	assert.Len(t, snapshot.ListedAssets.Assets, 2)
}

func TestSnapshotService_GetSnapshot_UnknownWindowSkipped(t *testing.T) {
	upstream := newFakeUpstream()

	server := upstream.server()
	defer server.Close()

	svc := newTestService(t, server.URL)

	snapshot, err := svc.GetSnapshot(context.Background(), &models.SnapshotRequest{
		Routes:    []models.Route{usdcRoute()},
		Notionals: []string{"1000000"},
		Windows:   []string{"24h", "1y"},
	})

	assert.NoError(t, err)
	assert.Len(t, snapshot.Volumes, 1)
	assert.Equal(t, "24h", snapshot.Volumes[0].Window)
}

func TestSnapshotService_LiquidityThresholds(t *testing.T) {
	upstream := newFakeUpstream()

	// 10 bps degradation at 10k, 100 bps at 100k
	upstream.toAmountByIn["10000000000"] = "9990000000"
	upstream.toAmountByIn["100000000000"] = "99000000000"

	server := upstream.server()
	defer server.Close()

	svc := newTestService(t, server.URL)

	depths := svc.fetchLiquidity(context.Background(), "test-request", []models.Route{usdcRoute()})
	assert.Len(t, depths, 1)

	thresholds := depths[0].Thresholds
	assert.Equal(t, 50, thresholds[0].SlippageBps)
	assert.Equal(t, "10000000000", thresholds[0].MaxAmountIn, "10 bps fits in the 50 bps threshold, 100 bps does not")
	assert.Equal(t, 100, thresholds[1].SlippageBps)
	assert.Equal(t, "100000000000", thresholds[1].MaxAmountIn)

	// 100 bps threshold must never be below the 50 bps one
	max50 := decimal.RequireFromString(thresholds[0].MaxAmountIn)
	max100 := decimal.RequireFromString(thresholds[1].MaxAmountIn)
	assert.True(t, max100.GreaterThanOrEqual(max50))
}

func TestSnapshotService_LiquidityLadderStopsAtFirstFailure(t *testing.T) {
	upstream := newFakeUpstream()
	upstream.quoteStatusByIn["10000000000"] = http.StatusBadGateway

	server := upstream.server()
	defer server.Close()

	svc := newTestService(t, server.URL)

	depths := svc.fetchLiquidity(context.Background(), "test-request", []models.Route{usdcRoute()})
	assert.Len(t, depths, 1)

	// both thresholds collapse to the baseline size
	for _, threshold := range depths[0].Thresholds {
		assert.Equal(t, "1000000000", threshold.MaxAmountIn)
	}

	assert.Equal(t, 0, upstream.quoteHits("100000000000"), "no larger size may be probed after a failure")
}

func TestSnapshotService_RatesCountBoundedByCombinations(t *testing.T) {
	upstream := newFakeUpstream()
	upstream.quoteStatusByIn["2000000"] = http.StatusInternalServerError

	server := upstream.server()
	defer server.Close()

	svc := newTestService(t, server.URL)

	routes := []models.Route{usdcRoute()}
	notionals := []string{"1000000", "2000000", "3000000"}

	rates := svc.fetchRates(context.Background(), "test-request", routes, notionals)

	assert.Len(t, rates, 2, "failed combination must be omitted")

	for _, rate := range rates {
		assert.NotEqual(t, "2000000", rate.AmountIn)
	}
}

func TestNotionalForUsdSize(t *testing.T) {
	assert.Equal(t, "1000000000", notionalForUsdSize(1000, 6))
	assert.Equal(t, "1000", notionalForUsdSize(1000, 0))
	assert.Equal(t, fmt.Sprintf("5000000%018d", 0), notionalForUsdSize(5000000, 18))
}
