package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"golang.org/x/time/rate"

	"github.com/ducminhle1904/risk-orchestrator/internal/execution"
	"github.com/ducminhle1904/risk-orchestrator/internal/logger"
)

const demoBaseURL = "https://api-demo.bybit.com"

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey       string        `yaml:"-"`
	APISecret    string        `yaml:"-"`
	Testnet      bool          `yaml:"testnet"`
	Demo         bool          `yaml:"demo"`
	Category     string        `yaml:"category"`
	QtyPrecision int32         `yaml:"qty_precision"`
	RequestRate  float64       `yaml:"request_rate"`
	FillTimeout  time.Duration `yaml:"fill_timeout"`
	FillPoll     time.Duration `yaml:"fill_poll"`
}

// unifiedAPI is the subset of the SDK's unified trading service the adapter calls
type unifiedAPI interface {
	PlaceOrder(ctx context.Context, params map[string]interface{}) (interface{}, error)
	GetPositionList(ctx context.Context, params map[string]interface{}) (interface{}, error)
	GetOrderHistory(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

type sdkAPI struct {
	client *bybit_api.Client
}

func (s sdkAPI) PlaceOrder(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.client.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
}

func (s sdkAPI) GetPositionList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.client.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
}

func (s sdkAPI) GetOrderHistory(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.client.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
}

// Client is the Bybit execution adapter. It implements execution.Executor and
// execution.PositionSource.
type Client struct {
	api     unifiedAPI
	cfg     Config
	limiter *rate.Limiter
	fills   execution.FillHandler
	log     *logger.Logger
}

// NewClient creates a new Bybit client
func NewClient(config Config, fills execution.FillHandler, log *logger.Logger) *Client {
	var baseURL string
	if config.Demo {
		baseURL = demoBaseURL
	} else if config.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	return newClient(sdkAPI{client: httpClient}, config, fills, log)
}

func newClient(api unifiedAPI, config Config, fills execution.FillHandler, log *logger.Logger) *Client {
	if config.Category == "" {
		config.Category = "linear"
	}
	if config.QtyPrecision == 0 {
		config.QtyPrecision = 3
	}
	if config.RequestRate <= 0 {
		config.RequestRate = 10
	}
	if config.FillTimeout <= 0 {
		config.FillTimeout = 30 * time.Second
	}
	if config.FillPoll <= 0 {
		config.FillPoll = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		api:     api,
		cfg:     config,
		limiter: rate.NewLimiter(rate.Limit(config.RequestRate), int(config.RequestRate)),
		fills:   fills,
		log:     log.With("bybit"),
	}
}

// GetEnvironment returns a string describing the current environment
func (c *Client) GetEnvironment() string {
	switch {
	case c.cfg.Demo:
		return "demo"
	case c.cfg.Testnet:
		return "testnet"
	default:
		return "mainnet"
	}
}

// call waits for the rate limiter and unwraps the SDK response envelope into out
func (c *Client) call(ctx context.Context, operation string, fn func() (interface{}, error), out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", operation, err)
	}
	result, err := fn()
	if err != nil {
		return WrapAPIError(operation, err)
	}

	serverResp, ok := result.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("%s: invalid response type %T", operation, result)
	}
	if serverResp.RetCode != 0 {
		return WrapAPIError(operation, ParseAPIError(serverResp.RetCode, serverResp.RetMsg))
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal result: %w", operation, err)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return fmt.Errorf("%s: failed to unmarshal result: %w", operation, err)
	}
	return nil
}
