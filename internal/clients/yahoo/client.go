// Package yahoo provides the market data client for daily price history and
// quote metadata, backed by the Yahoo Finance chart API.
package yahoo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/portview/portview/internal/dates"
	"github.com/portview/portview/internal/modules/prices"
)

const requestQueueSize = 100

// Config holds client configuration
type Config struct {
	BaseURL     string        // Defaults to the public chart endpoint
	Concurrency int           // Outbound calls in flight at once, default 1
	Delay       time.Duration // Minimum delay between requests per worker
	Timeout     time.Duration // HTTP timeout, default 30s
}

// requestJob is one queued outbound call
type requestJob struct {
	run  func()
	done chan struct{}
}

// Client fetches daily bars and quote metadata. All outbound calls are
// dispatched through a bounded worker pool (default one worker) so provider
// rate limits are respected no matter how many callers fire concurrently.
// Failure of one call surfaces as an error to that call only.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	delay        time.Duration
	log          zerolog.Logger
	requestQueue chan requestJob
	stopChan     chan struct{}
	workersDone  sync.WaitGroup
	once         sync.Once
}

// NewClient creates a new market data client and starts its workers
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:      cfg.BaseURL,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		delay:        cfg.Delay,
		log:          log.With().Str("client", "yahoo").Logger(),
		requestQueue: make(chan requestJob, requestQueueSize),
		stopChan:     make(chan struct{}),
	}

	for i := 0; i < cfg.Concurrency; i++ {
		c.workersDone.Add(1)
		go c.worker()
	}

	return c
}

// worker processes queued requests sequentially with a rate limit delay
func (c *Client) worker() {
	defer c.workersDone.Done()

	var lastRequest time.Time
	for {
		select {
		case job := <-c.requestQueue:
			// Wait for the rate limit delay (except before the first request)
			if c.delay > 0 && !lastRequest.IsZero() {
				if elapsed := time.Since(lastRequest); elapsed < c.delay {
					time.Sleep(c.delay - elapsed)
				}
			}
			job.run()
			lastRequest = time.Now()
			close(job.done)
		case <-c.stopChan:
			return
		}
	}
}

// dispatch queues a call and blocks until it completes.
// Once queued, a call always runs to completion: an abandoned caller must
// not abort work whose results populate the shared cache.
func (c *Client) dispatch(fn func()) error {
	job := requestJob{run: fn, done: make(chan struct{})}

	select {
	case c.requestQueue <- job:
	case <-c.stopChan:
		return fmt.Errorf("client is closed")
	}

	select {
	case <-job.done:
		return nil
	case <-c.stopChan:
		return fmt.Errorf("client is closed")
	}
}

// Close shuts down the workers. Queued but unstarted jobs are dropped.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.stopChan)
	})
	c.workersDone.Wait()
}

// chartResponse mirrors the chart API payload
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Currency string `json:"currency"`
		Symbol   string `json:"symbol"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// FetchDailyBars fetches daily bars for a symbol from a date through now.
// Bars carry the provider's quote currency. Days the provider reports with
// a null close (halts, partial sessions) are skipped.
func (c *Client) FetchDailyBars(symbol string, from dates.Day) ([]prices.Bar, error) {
	var bars []prices.Bar
	var fetchErr error

	err := c.dispatch(func() {
		bars, fetchErr = c.fetchChart(symbol, from)
	})
	if err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("from", string(from)).
		Int("bars", len(bars)).
		Msg("Fetched daily bars")

	return bars, nil
}

// FetchQuoteMeta fetches current quote metadata for a symbol
func (c *Client) FetchQuoteMeta(symbol string) (prices.QuoteMeta, error) {
	var meta prices.QuoteMeta
	var fetchErr error

	err := c.dispatch(func() {
		meta, fetchErr = c.fetchMeta(symbol)
	})
	if err != nil {
		return prices.QuoteMeta{}, err
	}
	if fetchErr != nil {
		return prices.QuoteMeta{}, fetchErr
	}

	return meta, nil
}

// fetchChart performs the actual chart API request. Runs on a worker.
func (c *Client) fetchChart(symbol string, from dates.Day) ([]prices.Bar, error) {
	params := url.Values{}
	params.Set("period1", fmt.Sprintf("%d", from.Time().Unix()))
	params.Set("period2", fmt.Sprintf("%d", time.Now().Unix()))
	params.Set("interval", "1d")

	result, err := c.request(symbol, params)
	if err != nil {
		return nil, err
	}

	quotes := result.Indicators.Quote
	if len(quotes) == 0 {
		return nil, nil
	}
	quote := quotes[0]

	var adjClose []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjClose = result.Indicators.AdjClose[0].AdjClose
	}

	currency := result.Meta.Currency

	var bars []prices.Bar
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}

		b := prices.Bar{
			Symbol:   symbol,
			Date:     dates.FromTime(time.Unix(ts, 0).UTC()),
			Close:    *quote.Close[i],
			AdjClose: *quote.Close[i],
			Currency: currency,
		}
		if i < len(quote.Open) && quote.Open[i] != nil {
			b.Open = *quote.Open[i]
		}
		if i < len(quote.High) && quote.High[i] != nil {
			b.High = *quote.High[i]
		}
		if i < len(quote.Low) && quote.Low[i] != nil {
			b.Low = *quote.Low[i]
		}
		if i < len(adjClose) && adjClose[i] != nil {
			b.AdjClose = *adjClose[i]
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			b.Volume = quote.Volume[i]
		}

		bars = append(bars, b)
	}

	return bars, nil
}

// fetchMeta performs a minimal chart request for metadata only. Runs on a worker.
func (c *Client) fetchMeta(symbol string) (prices.QuoteMeta, error) {
	params := url.Values{}
	params.Set("range", "1d")
	params.Set("interval", "1d")

	result, err := c.request(symbol, params)
	if err != nil {
		return prices.QuoteMeta{}, err
	}

	return prices.QuoteMeta{Currency: result.Meta.Currency}, nil
}

// request executes one chart API call and unwraps the result envelope
func (c *Client) request(symbol string, params url.Values) (*chartResult, error) {
	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "portview/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d for %s", resp.StatusCode, symbol)
	}

	var parsed chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("API error for %s: %s (%s)", symbol, parsed.Chart.Error.Description, parsed.Chart.Error.Code)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("empty result for %s", symbol)
	}

	return &parsed.Chart.Result[0], nil
}
