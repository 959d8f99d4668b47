// Package data: Polygon.io-backed Provider, used as a secondary/backfill
// source behind the massive.com provider.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// polygonProvider implements Provider using Polygon.io's REST API.
type polygonProvider struct {
	apiKey    string
	client    *http.Client
	secondary Provider
}

// NewPolygonProvider constructs a Polygon-backed provider chained to
// secondary for anything Polygon cannot serve.
func NewPolygonProvider(apiKey string, secondary Provider) Provider {
	return &polygonProvider{
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 30 * time.Second},
		secondary: secondary,
	}
}

func (p *polygonProvider) Secondary() Provider { return p.secondary }

func (p *polygonProvider) MinuteBars(ctx context.Context, ticker string, date time.Time, includePremarket bool) ([]Bar, error) {
	from := time.Date(date.Year(), date.Month(), date.Day(), 9, 30, 0, 0, date.Location())
	if includePremarket {
		from = time.Date(date.Year(), date.Month(), date.Day(), 4, 0, 0, 0, date.Location())
	}
	to := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 0, 0, date.Location())

	u := fmt.Sprintf(
		"https://api.polygon.io/v2/aggs/ticker/%s/range/1/minute/%s/%s?adjusted=true&sort=asc&limit=50000&apiKey=%s",
		ticker, from.Format("2006-01-02"), to.Format("2006-01-02"), p.apiKey,
	)
	bars, err := p.fetchAggs(ctx, u)
	if err != nil && p.secondary != nil {
		return p.secondary.MinuteBars(ctx, ticker, date, includePremarket)
	}
	return bars, err
}

func (p *polygonProvider) DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]DailyBar, error) {
	u := fmt.Sprintf(
		"https://api.polygon.io/v2/aggs/ticker/%s/range/1/day/%s/%s?adjusted=true&sort=asc&limit=50000&apiKey=%s",
		ticker, from.Format("2006-01-02"), to.Format("2006-01-02"), p.apiKey,
	)
	bars, err := p.fetchAggs(ctx, u)
	if err != nil {
		if p.secondary != nil {
			return p.secondary.DailyBars(ctx, ticker, from, to)
		}
		return nil, err
	}
	out := make([]DailyBar, len(bars))
	for i, b := range bars {
		out[i] = DailyBar{Date: b.TS, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	return out, nil
}

func (p *polygonProvider) fetchAggs(ctx context.Context, u string) ([]Bar, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polygon aggs status %d", resp.StatusCode)
	}
	var body struct {
		Results []struct {
			T int64   `json:"t"`
			O float64 `json:"o"`
			H float64 `json:"h"`
			L float64 `json:"l"`
			C float64 `json:"c"`
			V float64 `json:"v"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	out := make([]Bar, 0, len(body.Results))
	for _, r := range body.Results {
		out = append(out, Bar{TS: time.UnixMilli(r.T).UTC(), Open: r.O, High: r.H, Low: r.L, Close: r.C, Volume: r.V})
	}
	return out, nil
}

func (p *polygonProvider) GroupedDaily(ctx context.Context, date time.Time) (map[string]DailyBar, error) {
	u := fmt.Sprintf(
		"https://api.polygon.io/v2/aggs/grouped/locale/us/market/stocks/%s?adjusted=true&apiKey=%s",
		date.Format("2006-01-02"), p.apiKey,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if p.secondary != nil {
			return p.secondary.GroupedDaily(ctx, date)
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if p.secondary != nil {
			return p.secondary.GroupedDaily(ctx, date)
		}
		return nil, fmt.Errorf("polygon grouped daily status %d", resp.StatusCode)
	}
	var body struct {
		Results []struct {
			Ticker string  `json:"T"`
			O      float64 `json:"o"`
			H      float64 `json:"h"`
			L      float64 `json:"l"`
			C      float64 `json:"c"`
			V      float64 `json:"v"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	out := make(map[string]DailyBar, len(body.Results))
	for _, r := range body.Results {
		out[r.Ticker] = DailyBar{Date: date, Open: r.O, High: r.H, Low: r.L, Close: r.C, Volume: r.V}
	}
	return out, nil
}

func (p *polygonProvider) Reference(ctx context.Context, ticker string) (*ReferenceRecord, error) {
	u := fmt.Sprintf("https://api.polygon.io/v3/reference/tickers/%s?apiKey=%s", url.PathEscape(ticker), p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if p.secondary != nil {
			return p.secondary.Reference(ctx, ticker)
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		if p.secondary != nil {
			return p.secondary.Reference(ctx, ticker)
		}
		return nil, fmt.Errorf("polygon reference status %d", resp.StatusCode)
	}
	var body struct {
		Results struct {
			Ticker string `json:"ticker"`
			Type   string `json:"type"`
			Active bool   `json:"active"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return &ReferenceRecord{
		Ticker:        body.Results.Ticker,
		Type:          body.Results.Type,
		IsCommonStock: body.Results.Type == "CS",
		Active:        body.Results.Active,
	}, nil
}
