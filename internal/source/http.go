package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/strategy-advisor/internal/model"
)

// HTTPSource pulls raw feature batches from a provider's REST API. Requests
// retry with backoff and are rate limited so a tight poll interval cannot
// hammer the provider.
type HTTPSource struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logrus.Entry
}

// NewHTTPSource builds a pull source for one provider.
func NewHTTPSource(name, baseURL, apiKey string, requestsPerSecond float64) *HTTPSource {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 3 * time.Second
	retryClient.Logger = nil

	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}

	return &HTTPSource{
		name:       name,
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: retryClient.StandardClient(),
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
		log:        logrus.WithFields(logrus.Fields{"component": "http_source", "source": name}),
	}
}

// Fetch retrieves the latest raw batch for one instrument.
func (s *HTTPSource) Fetch(ctx context.Context, instrument string) (model.RawBatch, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return model.RawBatch{}, err
	}

	url := fmt.Sprintf("%s/v1/signals/%s", s.baseURL, instrument)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.RawBatch{}, fmt.Errorf("build request for %s: %w", instrument, err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	s.log.WithField("instrument", instrument).Debug("fetching signals")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return model.RawBatch{}, fmt.Errorf("fetch %s from %s: %w", instrument, s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return model.RawBatch{}, fmt.Errorf("%s returned status %d for %s: %s",
			s.name, resp.StatusCode, instrument, string(body))
	}

	var payload struct {
		Instrument string             `json:"instrument"`
		FeatureSet string             `json:"feature_set"`
		ObservedAt int64              `json:"observed_at"`
		Values     map[string]float64 `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return model.RawBatch{}, fmt.Errorf("decode %s response: %w", s.name, err)
	}
	if len(payload.Values) == 0 {
		return model.RawBatch{}, fmt.Errorf("%s returned no values for %s", s.name, instrument)
	}

	batch := model.RawBatch{
		Instrument: payload.Instrument,
		FeatureSet: payload.FeatureSet,
		Source:     s.name,
		ObservedAt: time.Unix(payload.ObservedAt, 0).UTC(),
		Values:     payload.Values,
	}
	if batch.Instrument == "" {
		batch.Instrument = instrument
	}
	return batch, nil
}

// Poll fetches every instrument on the given interval until ctx is done,
// handing each batch to ingest. A failed instrument is logged and skipped;
// it does not stall the others.
func (s *HTTPSource) Poll(ctx context.Context, instruments []string, interval time.Duration, ingest IngestFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, instrument := range instruments {
			batch, err := s.Fetch(ctx, instrument)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.WithError(err).WithField("instrument", instrument).Warn("signal fetch failed")
				continue
			}
			if err := ingest(ctx, batch); err != nil {
				s.log.WithError(err).WithField("instrument", instrument).Warn("signal ingest failed")
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
