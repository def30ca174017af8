package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"bridge-aggregator/goutils/health"
	"bridge-aggregator/goutils/httpclient"
	"bridge-aggregator/goutils/logger"
	"bridge-aggregator/goutils/ratelimiter"
	"bridge-aggregator/goutils/reporting"
	"bridge-aggregator/goutils/settings"
	"bridge-aggregator/snapshot-aggregator/models"
	"bridge-aggregator/snapshot-aggregator/provider"
	"bridge-aggregator/snapshot-aggregator/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, relying on process env")
	}

	logger.InitLogger()

	settingsObj := settings.ParseSettings()

	limiter, err := ratelimiter.NewTokenBucket(settingsObj.Provider.MaxTokens, settingsObj.Provider.RequestsPerSec)
	if err != nil {
		log.WithError(err).Fatal("failed to create rate limiter")
	}

	httpClient := httpclient.NewClient(settingsObj, limiter)
	reporter := reporting.InitIssueReporter(settingsObj)

	providerClient, err := provider.NewClient(settingsObj, httpClient, reporter)
	if err != nil {
		log.WithError(err).Fatal("failed to create provider client")
	}

	snapshotService := service.InitSnapshotService(settingsObj, providerClient)

	// health check is a non-blocking http listener
	health.HealthCheck(settingsObj.Healthcheck)

	// wait until the provider is reachable before serving snapshots
	err = backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(settingsObj.Provider.TimeoutSecs)*time.Second)
		defer cancel()

		return snapshotService.Ping(ctx)
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5))
	if err != nil {
		log.WithError(err).Warn("provider not reachable at startup, serving anyway")
	}

	// periodic cache stats
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			providerClient.LogCacheStats()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/snapshot", snapshotHandler(snapshotService))
	mux.HandleFunc("/ping", pingHandler(snapshotService))

	log.WithField("port", settingsObj.ServicePort).Info("starting snapshot aggregator http server")

	err = http.ListenAndServe(fmt.Sprint(":", settingsObj.ServicePort), mux)
	if err != nil {
		log.WithError(err).Fatal("error starting http server")
	}
}

func snapshotHandler(snapshotService *service.SnapshotService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)

			return
		}

		request := new(models.SnapshotRequest)

		if err := json.NewDecoder(req.Body).Decode(request); err != nil {
			log.WithError(err).Error("failed to unmarshal snapshot request payload")
			writeError(w, http.StatusBadRequest, "malformed request payload")

			return
		}

		snapshot, err := snapshotService.GetSnapshot(req.Context(), request)
		if err != nil {
			if errors.Is(err, service.ErrEmptyRequest) {
				writeError(w, http.StatusBadRequest, err.Error())

				return
			}

			log.WithError(err).Error("snapshot assembly failed")
			writeError(w, http.StatusInternalServerError, "snapshot assembly failed")

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err = json.NewEncoder(w).Encode(snapshot); err != nil {
			log.WithError(err).Error("error while writing snapshot response")
		}
	}
}

func pingHandler(snapshotService *service.SnapshotService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := snapshotService.Ping(req.Context()); err != nil {
			log.WithError(err).Error("provider ping failed")
			writeError(w, http.StatusServiceUnavailable, "provider unreachable")

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp, _ := json.Marshal(map[string]string{"error": message})

	_, err := w.Write(resp)
	if err != nil {
		log.WithError(err).Error("error while writing error response")
	}
}
