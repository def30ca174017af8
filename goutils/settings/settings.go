package settings

import (
	"encoding/json"
	"net/url"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
)

// DefaultProviderBaseURL is used whenever the configured base url is missing or malformed.
const DefaultProviderBaseURL = "https://quotes.bridgefeed.io/v1"

type (
	Provider struct {
		BaseURL        string  `json:"base_url"`
		TimeoutSecs    int     `json:"timeout_secs"`
		RequestsPerSec float64 `json:"requests_per_sec"`
		MaxTokens      int     `json:"max_tokens"`
	}

	Retry struct {
		MaxRetries   int `json:"max_retries"`
		BaseDelayMs  int `json:"base_delay_ms"`
		MaxBackoffMs int `json:"max_backoff_ms"`
	}

	CacheConfig struct {
		QuoteTTLSecs     int `json:"quote_ttl_secs"`
		QuoteMaxSize     int `json:"quote_max_size"`
		VolumeTTLSecs    int `json:"volume_ttl_secs"`
		VolumeMaxSize    int `json:"volume_max_size"`
		TokenListTTLSecs int `json:"token_list_ttl_secs"`
		TokenListMaxSize int `json:"token_list_max_size"`
	}

	Breaker struct {
		FailureThreshold int `json:"failure_threshold"`
		CooldownMs       int `json:"cooldown_ms"`
		SuccessThreshold int `json:"success_threshold"`
	}

	Probing struct {
		SizesUsd          []int64 `json:"sizes_usd"`
		LiquidityLadder   []int64 `json:"liquidity_ladder_usd"`
		InterProbeDelayMs int     `json:"inter_probe_delay_ms"`
	}

	Reporting struct {
		WebhookURL string `json:"webhook_url"`
	}

	Healthcheck struct {
		Port     int    `json:"port"`
		Endpoint string `json:"endpoint"`
	}

	HTTPClient struct {
		MaxIdleConns        int `json:"max_idle_conns"`
		MaxConnsPerHost     int `json:"max_conns_per_host"`
		MaxIdleConnsPerHost int `json:"max_idle_conns_per_host"`
		IdleConnTimeout     int `json:"idle_conn_timeout"`
	}
)

type SettingsObj struct {
	InstanceId  string       `json:"instance_id" validate:"required"`
	Concurrency int          `json:"concurrency" validate:"required"`
	Provider    *Provider    `json:"provider" validate:"required"`
	Retry       *Retry       `json:"retry" validate:"required"`
	Cache       *CacheConfig `json:"cache" validate:"required"`
	Breaker     *Breaker     `json:"breaker" validate:"required"`
	Probing     *Probing     `json:"probing" validate:"required"`
	HttpClient  *HTTPClient  `json:"http_client" validate:"required"`
	Reporting   *Reporting   `json:"reporting"`
	Healthcheck *Healthcheck `json:"healthcheck" validate:"required"`
	ServicePort int          `json:"service_port"`
}

// ParseSettings parses the settings.json file and returns a SettingsObj
func ParseSettings() *SettingsObj {
	log.Debug("parsing settings")

	v := validator.New()

	dir := strings.TrimSuffix(os.Getenv("CONFIG_PATH"), "/")
	settingsFilePath := dir + "/settings.json"

	settingsObj := new(SettingsObj)

	log.Info("reading settings:", settingsFilePath)

	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		log.Error("cannot read the file:", err)
		panic(err)
	}

	err = json.Unmarshal(data, settingsObj)
	if err != nil {
		log.Error("cannot unmarshal the settings json ", err)
		panic(err)
	}

	err = v.Struct(settingsObj)
	if err != nil {
		log.WithError(err).Fatal("invalid settings object")
	}

	SetDefaults(settingsObj)
	log.Infof("final settings object being used %+v", settingsObj)

	return settingsObj
}

// SetDefaults sets the default values for the settings object
// add default values in this function if required
func SetDefaults(settingsObj *SettingsObj) {
	settingsObj.Provider.BaseURL = sanitizeBaseURL(settingsObj.Provider.BaseURL)

	if settingsObj.Provider.TimeoutSecs <= 0 {
		settingsObj.Provider.TimeoutSecs = 10
	}

	if settingsObj.Provider.RequestsPerSec <= 0 {
		settingsObj.Provider.RequestsPerSec = 5
	}

	if settingsObj.Provider.MaxTokens <= 0 {
		settingsObj.Provider.MaxTokens = 10
	}

	if settingsObj.Retry.MaxRetries < 0 {
		settingsObj.Retry.MaxRetries = 0
	}

	if settingsObj.Retry.BaseDelayMs <= 0 {
		settingsObj.Retry.BaseDelayMs = 500
	}

	if settingsObj.Retry.MaxBackoffMs <= 0 {
		settingsObj.Retry.MaxBackoffMs = 30000
	}

	if settingsObj.Cache.QuoteTTLSecs <= 0 {
		settingsObj.Cache.QuoteTTLSecs = 300
	}

	if settingsObj.Cache.QuoteMaxSize <= 0 {
		settingsObj.Cache.QuoteMaxSize = 1000
	}

	if settingsObj.Cache.VolumeTTLSecs <= 0 {
		settingsObj.Cache.VolumeTTLSecs = 600
	}

	if settingsObj.Cache.VolumeMaxSize <= 0 {
		settingsObj.Cache.VolumeMaxSize = 10
	}

	if settingsObj.Cache.TokenListTTLSecs <= 0 {
		settingsObj.Cache.TokenListTTLSecs = 300
	}

	if settingsObj.Cache.TokenListMaxSize <= 0 {
		settingsObj.Cache.TokenListMaxSize = 50
	}

	if settingsObj.Breaker.FailureThreshold <= 0 {
		settingsObj.Breaker.FailureThreshold = 5
	}

	if settingsObj.Breaker.CooldownMs <= 0 {
		settingsObj.Breaker.CooldownMs = 30000
	}

	if settingsObj.Breaker.SuccessThreshold <= 0 {
		settingsObj.Breaker.SuccessThreshold = 2
	}

	if len(settingsObj.Probing.SizesUsd) == 0 {
		settingsObj.Probing.SizesUsd = []int64{1000, 5000, 10000, 50000, 100000, 500000, 1000000, 5000000}
	}

	if len(settingsObj.Probing.LiquidityLadder) == 0 {
		settingsObj.Probing.LiquidityLadder = []int64{1000, 10000, 50000, 100000, 500000}
	}

	if settingsObj.Probing.InterProbeDelayMs <= 0 {
		settingsObj.Probing.InterProbeDelayMs = 200
	}

	if settingsObj.Reporting == nil {
		settingsObj.Reporting = &Reporting{}
	}

	if webhookURL := os.Getenv("REPORTING_WEBHOOK_URL"); webhookURL != "" {
		settingsObj.Reporting.WebhookURL = webhookURL
	}

	if settingsObj.Reporting.WebhookURL == "" {
		log.Warning("reporting webhook url is not set, provider outages will not be reported")
	}

	if settingsObj.Healthcheck.Endpoint == "" {
		settingsObj.Healthcheck.Endpoint = "/health"
	}

	if settingsObj.Healthcheck.Port == 0 {
		settingsObj.Healthcheck.Port = 9000
	}

	if settingsObj.ServicePort == 0 {
		settingsObj.ServicePort = 8080
	}
}

// sanitizeBaseURL validates that the configured provider url is http(s) and
// falls back to the default on anything malformed.
func sanitizeBaseURL(baseURL string) string {
	if baseURL == "" {
		return DefaultProviderBaseURL
	}

	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		log.WithField("baseURL", baseURL).Warn("malformed provider base url, falling back to default")

		return DefaultProviderBaseURL
	}

	return strings.TrimSuffix(baseURL, "/")
}
