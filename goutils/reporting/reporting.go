package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"bridge-aggregator/goutils/settings"
)

type IssueType string

const (
	ProviderOutageIssue    IssueType = "PROVIDER_OUTAGE"    // a circuit breaker opened on an upstream endpoint
	ProviderRecoveredIssue IssueType = "PROVIDER_RECOVERED" // the endpoint closed again after probation
)

type Service interface {
	Report(issueType IssueType, dependency string, extra map[string]interface{})
}

type Issue struct {
	InstanceID      string `json:"instanceID"`
	IssueType       string `json:"issueType"`
	Dependency      string `json:"dependency"`
	TimeOfReporting string `json:"timeOfReporting"`
	Extra           string `json:"extra,omitempty"`
}

type IssueReporter struct {
	httpClient         *retryablehttp.Client
	webhookRateLimiter *rate.Limiter
	settingsObj        *settings.SettingsObj
}

var _ Service = (*IssueReporter)(nil)

func InitIssueReporter(settingsObj *settings.SettingsObj) *IssueReporter {
	return &IssueReporter{
		httpClient:         retryablehttp.NewClient(),
		webhookRateLimiter: rate.NewLimiter(1, 1),
		settingsObj:        settingsObj,
	}
}

// Report posts the issue to the configured webhook. Reporting is best effort,
// failures are logged and dropped.
func (i *IssueReporter) Report(issueType IssueType, dependency string, extra map[string]interface{}) {
	if i.settingsObj.Reporting == nil || i.settingsObj.Reporting.WebhookURL == "" {
		return
	}

	extraData, err := json.Marshal(extra)
	if err != nil {
		log.WithError(err).Error("failed to marshal extra data")
	}

	issue := &Issue{
		InstanceID:      i.settingsObj.InstanceId,
		IssueType:       string(issueType),
		Dependency:      dependency,
		TimeOfReporting: strconv.FormatInt(time.Now().Unix(), 10),
		Extra:           string(extraData),
	}

	log.WithField("issue", issue).Debug("reporting issue")

	issueBytes, err := json.Marshal(issue)
	if err != nil {
		log.WithError(err).Error("failed to json marshal issue")

		return
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, i.settingsObj.Reporting.WebhookURL, bytes.NewBuffer(issueBytes))
	if err != nil {
		log.WithError(err).Error("failed to create request to reporting webhook")

		return
	}

	req.Header.Add("Content-Type", "application/json")

	err = i.webhookRateLimiter.Wait(context.Background())
	if err != nil {
		log.WithError(err).Error("reporting webhook rate limiter wait errored")

		return
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Error("failed to send issue to reporting webhook")

		return
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)

		log.WithField("statusCode", resp.StatusCode).
			WithField("resp", string(respBody)).
			Error("reporting webhook returned non-200")

		return
	}

	log.WithField("issueType", issueType).WithField("dependency", dependency).Info("issue reported")
}
