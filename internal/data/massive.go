// Package data: massive.com-backed Provider.
//
// Design notes:
//   - Minute/daily aggregates go through the vendor SDK
//     (github.com/massive-com/client-go/v2), which the original
//     option-replay tool imported but never actually called.
//   - Grouped-daily and reference-ticker lookups use raw HTTP, the
//     same processGetRequest retry-on-429 pattern as the vendor SDK
//     doesn't expose a typed grouped-daily iterator.
//   - Logging is verbose at Debug/Trace for diagnostics; the API key
//     is never logged.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	massive "github.com/massive-com/client-go/v2/rest"
	"github.com/massive-com/client-go/v2/rest/models"

	"github.com/ybi-research/scalp-backtest/internal/logger"
)

// massiveProvider implements Provider using massive.com's REST APIs.
type massiveProvider struct {
	apiKey    string
	client    *massive.Client
	http      *http.Client
	baseURL   string
	secondary Provider
}

// NewMassiveProvider constructs a massive.com-backed data provider.
// secondary is only reported by Secondary(); the massive methods return
// their own errors without consulting it.
func NewMassiveProvider(apiKey string, secondary Provider) *massiveProvider {
	logger.Infof("event=provider_init provider=massive")
	return &massiveProvider{
		apiKey:  apiKey,
		client:  massive.New(apiKey),
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		baseURL:   "https://api.massive.com",
		secondary: secondary,
	}
}

func (m *massiveProvider) Secondary() Provider { return m.secondary }

// MinuteBars fetches 1-minute aggregates via the vendor SDK's
// aggregates iterator.
func (m *massiveProvider) MinuteBars(ctx context.Context, ticker string, date time.Time, includePremarket bool) ([]Bar, error) {
	from := date
	if includePremarket {
		from = time.Date(date.Year(), date.Month(), date.Day(), 4, 0, 0, 0, date.Location())
	} else {
		from = time.Date(date.Year(), date.Month(), date.Day(), 9, 30, 0, 0, date.Location())
	}
	to := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 0, 0, date.Location())

	logger.Debugf("event=massive_minute_bars ticker=%s date=%s premarket=%t", ticker, date.Format("2006-01-02"), includePremarket)

	params := models.ListAggsParams{
		Ticker:     ticker,
		Multiplier: 1,
		Timespan:   models.Minute,
		From:       models.Millis(from),
		To:         models.Millis(to),
	}.WithOrder(models.Asc).WithLimit(50000)

	iter := m.client.ListAggs(ctx, params)
	out := []Bar{}
	for iter.Next() {
		a := iter.Item()
		out = append(out, Bar{
			TS:     time.UnixMilli(a.Timestamp).UTC(),
			Open:   a.Open,
			High:   a.High,
			Low:    a.Low,
			Close:  a.Close,
			Volume: a.Volume,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("data: massive minute bars %s: %w", ticker, err)
	}
	return out, nil
}

// DailyBars fetches daily aggregates via the vendor SDK.
func (m *massiveProvider) DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]DailyBar, error) {
	logger.Debugf("event=massive_daily_bars ticker=%s from=%s to=%s", ticker, from.Format("2006-01-02"), to.Format("2006-01-02"))

	params := models.ListAggsParams{
		Ticker:     ticker,
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(from),
		To:         models.Millis(to),
	}.WithOrder(models.Asc).WithLimit(50000)

	iter := m.client.ListAggs(ctx, params)
	out := []DailyBar{}
	for iter.Next() {
		a := iter.Item()
		out = append(out, DailyBar{
			Date:   time.UnixMilli(a.Timestamp).UTC(),
			Open:   a.Open,
			High:   a.High,
			Low:    a.Low,
			Close:  a.Close,
			Volume: a.Volume,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("data: massive daily bars %s: %w", ticker, err)
	}
	return out, nil
}

// groupedDailyResp models the grouped-daily endpoint's response shape.
type groupedDailyResp struct {
	Status  string `json:"status"`
	Results []struct {
		Ticker string  `json:"T"`
		Open   float64 `json:"o"`
		High   float64 `json:"h"`
		Low    float64 `json:"l"`
		Close  float64 `json:"c"`
		Volume float64 `json:"v"`
	} `json:"results"`
}

// GroupedDaily retrieves every ticker's daily bar for date in one call.
func (m *massiveProvider) GroupedDaily(ctx context.Context, date time.Time) (map[string]DailyBar, error) {
	u := fmt.Sprintf(
		"%s/v2/aggs/grouped/locale/us/market/stocks/%s?adjusted=true&apiKey=%s",
		m.baseURL, date.Format("2006-01-02"), m.apiKey,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.processGetRequest(req)
	if err != nil {
		return nil, fmt.Errorf("data: massive grouped daily %s: %w", date.Format("2006-01-02"), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("data: massive grouped daily status=%d body=%s", resp.StatusCode, string(body))
	}

	var parsed groupedDailyResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("data: decoding grouped daily: %w", err)
	}

	out := make(map[string]DailyBar, len(parsed.Results))
	for _, r := range parsed.Results {
		out[r.Ticker] = DailyBar{
			Date:   date,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	logger.Debugf("event=massive_grouped_daily date=%s tickers=%d", date.Format("2006-01-02"), len(out))
	return out, nil
}

// referenceResp models a single ticker's reference entry.
type referenceResp struct {
	Results struct {
		Ticker string `json:"ticker"`
		Type   string `json:"type"`
		Active bool   `json:"active"`
	} `json:"results"`
}

// Reference returns classification metadata for ticker, or
// (nil, nil) if massive.com has no record (not an error: the caller
// falls back to pattern heuristics).
func (m *massiveProvider) Reference(ctx context.Context, ticker string) (*ReferenceRecord, error) {
	u := fmt.Sprintf("%s/v3/reference/tickers/%s?apiKey=%s", m.baseURL, url.PathEscape(ticker), m.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.processGetRequest(req)
	if err != nil {
		return nil, fmt.Errorf("data: massive reference %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("data: massive reference status=%d body=%s", resp.StatusCode, string(body))
	}

	var parsed referenceResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("data: decoding reference: %w", err)
	}

	return &ReferenceRecord{
		Ticker:        parsed.Results.Ticker,
		Type:          parsed.Results.Type,
		IsCommonStock: parsed.Results.Type == "CS",
		Active:        parsed.Results.Active,
	}, nil
}

// processGetRequest executes an HTTP GET with indefinite retry on 429,
// sleeping until the next minute boundary each time.
func (m *massiveProvider) processGetRequest(req *http.Request) (*http.Response, error) {
	for {
		resp, err := m.http.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < 400 {
			return resp, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			sleepDuration := time.Until(time.Now().Truncate(time.Minute).Add(time.Minute))
			logger.Infof("event=rate_limit_hit sleep=%s", sleepDuration)
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(sleepDuration):
			}
			continue
		}

		return resp, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}
