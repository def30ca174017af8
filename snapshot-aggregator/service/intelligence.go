package service

import (
	"context"
	"math"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bridge-aggregator/decimals"
	"bridge-aggregator/snapshot-aggregator/models"
)

// probe sizes whose impact is reported relative to the smallest-size baseline
const (
	impactBaselineUsd = int64(1000)
	impactMidUsd      = int64(10000)
	impactLargeUsd    = int64(100000)
)

// rates within 1% of the best observed rate count as the optimal size range
var optimalRateFloor = decimal.NewFromFloat(0.99)

type probeResult struct {
	sizeUsd int64
	rate    decimal.Decimal
}

// probeRoutes estimates capacity for every route. Order of the result matches
// the requested routes; a route whose probing blows up unexpectedly gets a
// fully null record rather than aborting the batch.
func (s *SnapshotService) probeRoutes(ctx context.Context, requestID string, routes []models.Route) []models.RouteIntelligence {
	intelligence := make([]models.RouteIntelligence, len(routes))
	swg := sizedwaitgroup.New(s.settingsObj.Concurrency)

	for i, route := range routes {
		swg.Add()

		go func(i int, route models.Route) {
			defer swg.Done()

			intelligence[i] = s.probeRoute(ctx, requestID, route)
		}(i, route)
	}

	swg.Wait()

	return intelligence
}

// probeRoute walks the ascending probe schedule for one route, stopping at
// the first failed probe, then derives capacity, optimal range, fee
// efficiency and price impact from the successful prefix.
func (s *SnapshotService) probeRoute(ctx context.Context, requestID string, route models.Route) (record models.RouteIntelligence) {
	record = models.RouteIntelligence{Route: route, MeasuredAt: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			log.WithField("requestID", requestID).
				WithField("route", route.Key()).
				WithField("recover", r).
				Error("route probing panicked, returning null intelligence record")

			record = models.RouteIntelligence{Route: route, MeasuredAt: time.Now()}
		}
	}()

	successes := make([]probeResult, 0, len(s.probeSizesUsd))

	for i, sizeUsd := range s.probeSizesUsd {
		if i > 0 {
			// pace probes so retries and ladders do not stampede the provider
			time.Sleep(s.interProbeDelay)
		}

		notional := notionalForUsdSize(sizeUsd, route.Source.Decimals)

		rate, err := s.ladderRate(ctx, route, notional)
		if err != nil || !rate.IsPositive() {
			log.WithField("requestID", requestID).
				WithField("route", route.Key()).
				WithField("sizeUsd", sizeUsd).
				WithError(err).
				Debug("probe failed, stopping route schedule")

			break
		}

		successes = append(successes, probeResult{sizeUsd: sizeUsd, rate: rate})
	}

	if len(successes) == 0 {
		return record
	}

	maxCapacity := successes[len(successes)-1].sizeUsd
	record.MaxCapacityUsd = &maxCapacity

	record.PriceImpact = priceImpact(successes)

	if len(successes) >= 2 {
		score := feeEfficiencyScore(successes)
		record.FeeEfficiencyScore = &score
		record.OptimalRangeUsd = optimalRange(successes)
	}

	return record
}

// feeEfficiencyScore is 100 minus the coefficient of variation of the
// successful rates in percent, clamped to [0,100]. A route whose rate barely
// moves across sizes scores close to 100.
func feeEfficiencyScore(successes []probeResult) float64 {
	mean := 0.0
	for _, probe := range successes {
		mean += probe.rate.InexactFloat64()
	}
	mean /= float64(len(successes))

	if mean == 0 {
		return 0
	}

	variance := 0.0
	for _, probe := range successes {
		diff := probe.rate.InexactFloat64() - mean
		variance += diff * diff
	}
	variance /= float64(len(successes))

	score := 100 - (math.Sqrt(variance)/mean)*100

	if score < 0 {
		return 0
	}

	if score > 100 {
		return 100
	}

	return score
}

// optimalRange is the [min,max] probe size whose rate is within 1% of the
// best observed rate.
func optimalRange(successes []probeResult) *models.OptimalRangeUsd {
	best := successes[0].rate
	for _, probe := range successes[1:] {
		if probe.rate.GreaterThan(best) {
			best = probe.rate
		}
	}

	floor := best.Mul(optimalRateFloor)

	var optimal *models.OptimalRangeUsd

	for _, probe := range successes {
		if probe.rate.LessThan(floor) {
			continue
		}

		if optimal == nil {
			optimal = &models.OptimalRangeUsd{MinUsd: probe.sizeUsd, MaxUsd: probe.sizeUsd}

			continue
		}

		if probe.sizeUsd < optimal.MinUsd {
			optimal.MinUsd = probe.sizeUsd
		}

		if probe.sizeUsd > optimal.MaxUsd {
			optimal.MaxUsd = probe.sizeUsd
		}
	}

	return optimal
}

// priceImpact reports the bps degradation at the mid and large probe sizes
// relative to the baseline probe. Missing probes stay null; the baseline
// itself reports zero impact when it succeeded.
func priceImpact(successes []probeResult) models.PriceImpact {
	rateAt := make(map[int64]decimal.Decimal, len(successes))
	for _, probe := range successes {
		rateAt[probe.sizeUsd] = probe.rate
	}

	impact := models.PriceImpact{}

	baseline, ok := rateAt[impactBaselineUsd]
	if !ok {
		return impact
	}

	zero := decimal.Zero
	impact.At1kBps = &zero

	if rate, ok := rateAt[impactMidUsd]; ok {
		if bps, err := decimals.SlippageBps(baseline, rate); err == nil {
			impact.At10kBps = &bps
		}
	}

	if rate, ok := rateAt[impactLargeUsd]; ok {
		if bps, err := decimals.SlippageBps(baseline, rate); err == nil {
			impact.At100kBps = &bps
		}
	}

	return impact
}
