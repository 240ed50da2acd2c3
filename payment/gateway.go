package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// FunctionGateway invokes the payment-sheet edge function over HTTP.
type FunctionGateway struct {
	url        string
	apiKey     string
	httpClient *http.Client
	log        logrus.FieldLogger
}

type FunctionConfig struct {
	// URL of the payment-sheet function, e.g. https://xyz.supabase.co/functions/v1/payment-sheet
	URL string
	// APIKey is sent as apikey and as the fallback bearer token.
	APIKey     string
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

func NewFunctionGateway(cfg FunctionConfig) (*FunctionGateway, error) {
	if cfg.URL == "" {
		return nil, errors.New("payment function URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &FunctionGateway{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		log:        log.WithField("component", "payment"),
	}, nil
}

func (g *FunctionGateway) FetchSheetParams(ctx context.Context, amount int64) (*SheetParams, error) {
	body, err := json.Marshal(map[string]int64{"amount": amount})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("apikey", g.apiKey)
	}
	token := accessToken(ctx)
	if token == "" {
		token = g.apiKey
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	g.log.WithField("amount", amount).Debug("fetching payment sheet params")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		perr := &Error{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, perr); err != nil || perr.Message == "" {
			perr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, perr
	}

	var params SheetParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if params.PaymentIntent == "" || params.PublishableKey == "" {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Message:    "invalid response from payment service",
			Details:    "missing required data",
		}
	}
	params.Amount = amount

	return &params, nil
}
