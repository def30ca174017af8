package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bridge-aggregator/decimals"
	"bridge-aggregator/snapshot-aggregator/models"
)

// the depth thresholds every liquidity entry must carry
var liquidityThresholdsBps = []int64{50, 100}

var errBaselineRate = errors.New("baseline quote produced a non-positive rate")

// fetchLiquidity estimates depth for every requested route. A route whose
// estimation fails is omitted from the result.
func (s *SnapshotService) fetchLiquidity(ctx context.Context, requestID string, routes []models.Route) []models.LiquidityDepth {
	depths := make([]models.LiquidityDepth, 0, len(routes))
	depthsLock := new(sync.Mutex)

	swg := sizedwaitgroup.New(s.settingsObj.Concurrency)

	for _, route := range routes {
		swg.Add()

		go func(route models.Route) {
			defer swg.Done()

			depth, err := s.estimateDepth(ctx, route)
			if err != nil {
				log.WithField("requestID", requestID).
					WithField("route", route.Key()).
					WithError(err).
					Error("liquidity depth estimation failed, omitting route")

				return
			}

			depthsLock.Lock()
			depths = append(depths, *depth)
			depthsLock.Unlock()
		}(route)
	}

	swg.Wait()

	return depths
}

// estimateDepth quotes an ascending ladder of notional sizes and compares
// each rate against the smallest-size baseline. The threshold at N bps is the
// largest ladder size whose rate degradation stays within N bps; the baseline
// size itself always qualifies. Probing stops at the first failed quote, no
// larger sizes are attempted.
func (s *SnapshotService) estimateDepth(ctx context.Context, route models.Route) (*models.LiquidityDepth, error) {
	baselineSize := s.liquidityLadder[0]
	baselineNotional := notionalForUsdSize(baselineSize, route.Source.Decimals)

	baselineRate, err := s.ladderRate(ctx, route, baselineNotional)
	if err != nil {
		return nil, err
	}

	if !baselineRate.IsPositive() {
		return nil, errBaselineRate
	}

	// every threshold starts at the baseline size
	maxSizeAtBps := make(map[int64]int64, len(liquidityThresholdsBps))
	for _, bps := range liquidityThresholdsBps {
		maxSizeAtBps[bps] = baselineSize
	}

	for _, sizeUsd := range s.liquidityLadder[1:] {
		time.Sleep(s.interProbeDelay)

		notional := notionalForUsdSize(sizeUsd, route.Source.Decimals)

		rate, err := s.ladderRate(ctx, route, notional)
		if err != nil {
			log.WithField("route", route.Key()).
				WithField("sizeUsd", sizeUsd).
				WithError(err).
				Debug("liquidity ladder stopped")

			break
		}

		slippage, err := decimals.SlippageBps(baselineRate, rate)
		if err != nil {
			break
		}

		for _, bps := range liquidityThresholdsBps {
			if slippage.LessThanOrEqual(decimal.NewFromInt(bps)) && sizeUsd > maxSizeAtBps[bps] {
				maxSizeAtBps[bps] = sizeUsd
			}
		}
	}

	thresholds := make([]models.LiquidityThreshold, 0, len(liquidityThresholdsBps))
	for _, bps := range liquidityThresholdsBps {
		thresholds = append(thresholds, models.LiquidityThreshold{
			MaxAmountIn: notionalForUsdSize(maxSizeAtBps[bps], route.Source.Decimals),
			SlippageBps: int(bps),
		})
	}

	return &models.LiquidityDepth{
		Route:      route,
		Thresholds: thresholds,
		MeasuredAt: time.Now(),
	}, nil
}

// ladderRate fetches one quote and returns its effective rate.
func (s *SnapshotService) ladderRate(ctx context.Context, route models.Route, notional string) (decimal.Decimal, error) {
	quote, err := s.provider.GetQuote(ctx, route, notional)
	if err != nil {
		return decimal.Zero, err
	}

	return decimals.EffectiveRate(notional, quote.Estimate.ToAmount, route.Source.Decimals, route.Destination.Decimals)
}
