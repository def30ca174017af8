// Package service assembles market-data snapshots for cross-chain bridge
// routes. Sub-fetch failures degrade the affected section of the snapshot
// instead of failing the whole request.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/remeh/sizedwaitgroup"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bridge-aggregator/decimals"
	"bridge-aggregator/goutils/settings"
	"bridge-aggregator/snapshot-aggregator/models"
	"bridge-aggregator/snapshot-aggregator/provider"
)

var ErrEmptyRequest = errors.New("snapshot request requires at least one route and one notional")

type SnapshotService struct {
	settingsObj     *settings.SettingsObj
	provider        *provider.Client
	probeSizesUsd   []int64
	liquidityLadder []int64
	interProbeDelay time.Duration
}

func InitSnapshotService(settingsObj *settings.SettingsObj, providerClient *provider.Client) *SnapshotService {
	return &SnapshotService{
		settingsObj:     settingsObj,
		provider:        providerClient,
		probeSizesUsd:   settingsObj.Probing.SizesUsd,
		liquidityLadder: settingsObj.Probing.LiquidityLadder,
		interProbeDelay: time.Duration(settingsObj.Probing.InterProbeDelayMs) * time.Millisecond,
	}
}

// GetSnapshot fans out to the provider endpoints and assembles a unified
// snapshot. Only input validation fails the call, individual sub-fetch
// failures leave their section empty or omitted.
func (s *SnapshotService) GetSnapshot(ctx context.Context, req *models.SnapshotRequest) (*models.Snapshot, error) {
	if req == nil || len(req.Routes) == 0 || len(req.Notionals) == 0 {
		return nil, ErrEmptyRequest
	}

	requestID := uuid.New().String()

	log.WithField("requestID", requestID).
		WithField("routes", len(req.Routes)).
		WithField("notionals", len(req.Notionals)).
		WithField("includeIntelligence", req.IncludeIntelligence).
		Info("assembling snapshot")

	snapshot := &models.Snapshot{RequestID: requestID}

	wg := new(sync.WaitGroup)
	wg.Add(4)

	go func() {
		defer wg.Done()

		snapshot.Volumes = s.fetchVolumes(ctx, requestID, req.Windows)
	}()

	go func() {
		defer wg.Done()

		snapshot.Rates = s.fetchRates(ctx, requestID, req.Routes, req.Notionals)
	}()

	go func() {
		defer wg.Done()

		snapshot.Liquidity = s.fetchLiquidity(ctx, requestID, req.Routes)
	}()

	go func() {
		defer wg.Done()

		snapshot.ListedAssets = s.fetchListedAssets(ctx, requestID, req.Routes)
	}()

	wg.Wait()

	if req.IncludeIntelligence {
		snapshot.Intelligence = s.probeRoutes(ctx, requestID, req.Routes)
	}

	snapshot.MeasuredAt = time.Now()

	log.WithField("requestID", requestID).
		WithField("rates", len(snapshot.Rates)).
		WithField("volumes", len(snapshot.Volumes)).
		WithField("liquidity", len(snapshot.Liquidity)).
		WithField("assets", len(snapshot.ListedAssets.Assets)).
		Info("snapshot assembled")

	return snapshot, nil
}

// Ping proxies a provider reachability check.
func (s *SnapshotService) Ping(ctx context.Context) error {
	return s.provider.Ping(ctx)
}

// fetchVolumes maps the provider volume aggregate onto the requested windows.
// A failed aggregator call yields an empty list.
func (s *SnapshotService) fetchVolumes(ctx context.Context, requestID string, windows []string) []models.VolumeWindow {
	volumes := make([]models.VolumeWindow, 0, len(windows))

	aggregate, err := s.provider.GetVolume(ctx)
	if err != nil {
		log.WithField("requestID", requestID).WithError(err).Error("volume aggregator fetch failed, degrading to empty volumes")

		return volumes
	}

	if len(windows) == 0 {
		windows = []string{models.Window24h, models.Window7d, models.Window30d}
	}

	measuredAt := time.Now()

	for _, window := range windows {
		var raw string

		switch strings.ToLower(window) {
		case models.Window24h:
			raw = aggregate.DailyVolumeUsd
		case models.Window7d:
			raw = aggregate.WeeklyVolumeUsd
		case models.Window30d:
			raw = aggregate.MonthlyVolumeUsd
		default:
			log.WithField("requestID", requestID).WithField("window", window).Warn("unknown volume window requested, skipping")

			continue
		}

		volumeUsd, err := decimal.NewFromString(raw)
		if err != nil {
			log.WithField("requestID", requestID).WithField("window", window).WithError(err).Error("unparseable volume figure, skipping window")

			continue
		}

		volumes = append(volumes, models.VolumeWindow{
			Window:     strings.ToLower(window),
			VolumeUsd:  volumeUsd,
			MeasuredAt: measuredAt,
		})
	}

	return volumes
}

// fetchRates quotes every (route, notional) combination. A failed or
// unparseable quote is logged and omitted, never synthesized.
func (s *SnapshotService) fetchRates(ctx context.Context, requestID string, routes []models.Route, notionals []string) []models.RateEntry {
	rates := make([]models.RateEntry, 0, len(routes)*len(notionals))
	ratesLock := new(sync.Mutex)

	swg := sizedwaitgroup.New(s.settingsObj.Concurrency)

	for _, route := range routes {
		for _, notional := range notionals {
			swg.Add()

			go func(route models.Route, notional string) {
				defer swg.Done()

				entry, err := s.quoteRate(ctx, route, notional)
				if err != nil {
					log.WithField("requestID", requestID).
						WithField("route", route.Key()).
						WithField("notional", notional).
						WithError(err).
						Error("quote failed, omitting rate entry")

					return
				}

				ratesLock.Lock()
				rates = append(rates, *entry)
				ratesLock.Unlock()
			}(route, notional)
		}
	}

	swg.Wait()

	return rates
}

// quoteRate fetches one quote and normalizes it into a rate entry.
func (s *SnapshotService) quoteRate(ctx context.Context, route models.Route, notional string) (*models.RateEntry, error) {
	quote, err := s.provider.GetQuote(ctx, route, notional)
	if err != nil {
		return nil, err
	}

	rate, err := decimals.EffectiveRate(notional, quote.Estimate.ToAmount, route.Source.Decimals, route.Destination.Decimals)
	if err != nil {
		return nil, err
	}

	if !rate.IsPositive() {
		return nil, errors.New("effective rate is not positive")
	}

	entry := &models.RateEntry{
		Route:         route,
		AmountIn:      notional,
		AmountOut:     quote.Estimate.ToAmount,
		EffectiveRate: rate,
		MeasuredAt:    time.Now(),
	}

	if len(quote.Estimate.FeeCosts) > 0 {
		feeAmounts := make([]string, 0, len(quote.Estimate.FeeCosts))
		for _, fee := range quote.Estimate.FeeCosts {
			feeAmounts = append(feeAmounts, fee.AmountUsd)
		}

		totalFee, err := decimals.SumFees(feeAmounts)
		if err != nil {
			log.WithField("route", route.Key()).WithError(err).Warn("unparseable fee costs, omitting total fee")
		} else {
			entry.TotalFeeUsd = &totalFee
		}
	}

	return entry, nil
}

// fetchListedAssets collects the token lists of every chain appearing in the
// requested routes, deduplicated by (chainId, lowercased assetId). A failed
// chain yields no assets for that chain but does not block the others.
func (s *SnapshotService) fetchListedAssets(ctx context.Context, requestID string, routes []models.Route) models.ListedAssets {
	chainIDs := make([]string, 0)
	seenChains := make(map[string]bool)

	for _, route := range routes {
		for _, chainID := range []string{route.Source.ChainID, route.Destination.ChainID} {
			if chainID != "" && !seenChains[chainID] {
				seenChains[chainID] = true
				chainIDs = append(chainIDs, chainID)
			}
		}
	}

	assets := make([]models.Asset, 0)
	assetsLock := new(sync.Mutex)
	seenAssets := make(map[string]bool)

	swg := sizedwaitgroup.New(s.settingsObj.Concurrency)

	for _, chainID := range chainIDs {
		swg.Add()

		go func(chainID string) {
			defer swg.Done()

			tokens, err := s.provider.GetTokenList(ctx, chainID)
			if err != nil {
				log.WithField("requestID", requestID).
					WithField("chainID", chainID).
					WithError(err).
					Error("token list fetch failed, degrading to no assets for chain")

				return
			}

			assetsLock.Lock()
			for address, info := range tokens {
				if info.Decimals < 0 {
					continue
				}

				asset := models.Asset{
					ChainID:  chainID,
					AssetID:  strings.ToLower(address),
					Symbol:   info.Symbol,
					Decimals: info.Decimals,
				}

				if seenAssets[asset.Key()] {
					continue
				}

				seenAssets[asset.Key()] = true
				assets = append(assets, asset)
			}
			assetsLock.Unlock()
		}(chainID)
	}

	swg.Wait()

	return models.ListedAssets{
		Assets:     assets,
		MeasuredAt: time.Now(),
	}
}

// notionalForUsdSize converts a USD probe size into source smallest units,
// assuming a unit-value source asset.
func notionalForUsdSize(sizeUsd int64, sourceDecimals int) string {
	return decimal.NewFromInt(sizeUsd).Shift(int32(sourceDecimals)).String()
}
