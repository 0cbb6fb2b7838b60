package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"tradesandbox/internal/models"
)

type instrumentPayload struct {
	InstID      string `json:"instId"`
	TickSz      string `json:"tickSz"`
	LotSz       string `json:"lotSz"`
	MinSz       string `json:"minSz"`
	MaxMktSz    string `json:"maxMktSz"`
	MinNotional string `json:"minNotional"`
	State       string `json:"state"`
}

// FetchInstrumentMeta retrieves one instrument's order-size filters and
// last traded price, generalized from the teacher's okx_client
// GetInstrumentMeta (SWAP-only) into a market-agnostic lookup used for
// both spot and futures instruments.
func (c *RESTClient) FetchInstrumentMeta(ctx context.Context, instID string, market models.MarketKind) (models.InstrumentMeta, error) {
	instType := "SPOT"
	if market == models.MarketFutures {
		instType = "SWAP"
	}
	path := "/api/v5/public/instruments?instType=" + instType + "&instId=" + url.QueryEscape(instID)

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return models.InstrumentMeta{}, fmt.Errorf("instrument meta request: %w", err)
	}
	defer resp.Body.Close()

	var env struct {
		Code string              `json:"code"`
		Msg  string              `json:"msg"`
		Data []instrumentPayload `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return models.InstrumentMeta{}, fmt.Errorf("decode instrument meta: %w", err)
	}
	if env.Code != "0" {
		return models.InstrumentMeta{}, fmt.Errorf("venue error %s: %s", env.Code, env.Msg)
	}
	if len(env.Data) == 0 {
		return models.InstrumentMeta{}, fmt.Errorf("instrument %s not found", instID)
	}

	raw := env.Data[0]
	stepSize, _ := strconv.ParseFloat(raw.LotSz, 64)
	minQty, _ := strconv.ParseFloat(raw.MinSz, 64)
	maxQty, _ := strconv.ParseFloat(raw.MaxMktSz, 64)
	minNotional, _ := strconv.ParseFloat(raw.MinNotional, 64)

	lastPrice, err := c.FetchLastPrice(ctx, instID)
	if err != nil {
		return models.InstrumentMeta{}, fmt.Errorf("last price: %w", err)
	}

	return models.InstrumentMeta{
		InstID:      raw.InstID,
		Market:      market,
		LastPrice:   lastPrice,
		StepSize:    stepSize,
		MinQty:      minQty,
		MaxQty:      maxQty,
		MinNotional: minNotional,
	}, nil
}

// FetchLastPrice retrieves the instrument's last traded price from the
// public ticker endpoint.
func (c *RESTClient) FetchLastPrice(ctx context.Context, instID string) (float64, error) {
	path := "/api/v5/market/ticker?instId=" + url.QueryEscape(instID)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("ticker request: %w", err)
	}
	defer resp.Body.Close()

	var env struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return 0, fmt.Errorf("decode ticker: %w", err)
	}
	if env.Code != "0" {
		return 0, fmt.Errorf("venue error %s: %s", env.Code, env.Msg)
	}
	if len(env.Data) == 0 {
		return 0, fmt.Errorf("no ticker data for %s", instID)
	}
	last, err := strconv.ParseFloat(env.Data[0].Last, 64)
	if err != nil {
		return 0, fmt.Errorf("parse last price %q: %w", env.Data[0].Last, err)
	}
	return last, nil
}

type balancePayload struct {
	Ccy      string `json:"ccy"`
	AvailBal string `json:"availBal"`
}

// FetchBalances retrieves free balance per asset from the account
// endpoint, collapsed to a simple asset->available map (the risk gate
// only needs free balance, not the full margin/frozen breakdown the
// venue returns).
func (c *RESTClient) FetchBalances(ctx context.Context) (map[string]float64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", nil)
	if err != nil {
		return nil, fmt.Errorf("balance request: %w", err)
	}
	defer resp.Body.Close()

	var env struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			Details []balancePayload `json:"details"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	if env.Code != "0" {
		return nil, fmt.Errorf("venue error %s: %s", env.Code, env.Msg)
	}

	out := make(map[string]float64)
	for _, d := range env.Data {
		for _, b := range d.Details {
			avail, err := strconv.ParseFloat(b.AvailBal, 64)
			if err != nil {
				continue
			}
			out[b.Ccy] = avail
		}
	}
	return out, nil
}
