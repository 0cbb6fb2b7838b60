package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"tradesandbox/internal/models"
)

// SubmitRequest is everything the REST layer needs to place one order,
// already carrying the risk gate's normalized quantity.
type SubmitRequest struct {
	ClientOrderID string
	InstID        string
	Market        models.MarketKind
	Side          models.OrderSide
	ReduceOnly    bool
	Qty           float64
	Price         float64 // 0 => market order
}

type placeOrderResponseItem struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// Submit places an order and returns the venue's assigned order ID. The
// clientOrderID the caller supplies is the idempotency key: replaying the
// same SubmitRequest after a transport timeout is expected to return the
// venue's existing order rather than double-submit, since the venue
// itself rejects a duplicate clOrdId.
func (c *RESTClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	tdMode := "cash"
	if req.Market == models.MarketFutures {
		tdMode = "cross"
	}
	ordType := "market"
	priceStr := ""
	if req.Price > 0 {
		ordType = "limit"
		priceStr = formatFloat(req.Price)
	}

	body := map[string]any{
		"instId":     req.InstID,
		"tdMode":     tdMode,
		"side":       string(req.Side),
		"ordType":    ordType,
		"sz":         formatFloat(req.Qty),
		"clOrdId":    req.ClientOrderID,
		"reduceOnly": req.ReduceOnly,
	}
	if priceStr != "" {
		body["px"] = priceStr
	}

	env, err := c.postJSON(ctx, "/api/v5/trade/order", body)
	if err != nil {
		return "", err
	}
	var item placeOrderResponseItem
	if err := decodeFirstInto(env, &item); err != nil {
		return "", err
	}
	if item.SCode != "" && item.SCode != "0" {
		return "", fmt.Errorf("order rejected: sCode=%s sMsg=%s", item.SCode, item.SMsg)
	}
	return item.OrdID, nil
}

// Cancel cancels a resting order by its client order ID.
func (c *RESTClient) Cancel(ctx context.Context, instID, clientOrderID string) error {
	body := map[string]any{
		"instId":  instID,
		"clOrdId": clientOrderID,
	}
	_, err := c.postJSON(ctx, "/api/v5/trade/cancel-order", body)
	return err
}

// PlaceProtectiveStop opens a conditional stop-loss order against an
// open position, grounded on the teacher's PlaceSingleAlgo (tpTriggerPx/
// slTriggerPx conditional order shape), generalized from TP-or-SL to
// stop-only since the exit orchestrator owns take-profit/exit decisions
// itself rather than delegating them to a resting exchange-side order.
func (c *RESTClient) PlaceProtectiveStop(ctx context.Context, instID string, side models.OrderSide, qty, triggerPrice float64) (string, error) {
	if qty <= 0 {
		return "", fmt.Errorf("place protective stop: qty <= 0")
	}
	if triggerPrice <= 0 {
		return "", fmt.Errorf("place protective stop: triggerPrice <= 0")
	}

	body := map[string]any{
		"instId":          instID,
		"tdMode":          "cross",
		"side":            string(side),
		"ordType":         "conditional",
		"sz":              formatFloat(qty),
		"slTriggerPx":     formatFloat(triggerPrice),
		"slOrdPx":         "-1",
		"slTriggerPxType": "last",
	}

	env, err := c.postJSON(ctx, "/api/v5/trade/order-algo", body)
	if err != nil {
		return "", err
	}
	var item struct {
		AlgoID string `json:"algoId"`
		SCode  string `json:"sCode"`
		SMsg   string `json:"sMsg"`
	}
	if err := decodeFirstInto(env, &item); err != nil {
		return "", err
	}
	if item.SCode != "" && item.SCode != "0" {
		return "", fmt.Errorf("protective stop rejected: sCode=%s sMsg=%s", item.SCode, item.SMsg)
	}
	if item.AlgoID == "" {
		return "", fmt.Errorf("protective stop: empty algoId")
	}
	return item.AlgoID, nil
}

// EnsureProtectiveStop cancels the existing algo order (if any) and
// places a fresh one at the new trigger price, giving the position
// engine a single idempotent call for "the stop must be at X" rather
// than separate cancel-then-place call sites that could race.
func (c *RESTClient) EnsureProtectiveStop(ctx context.Context, instID string, side models.OrderSide, qty, triggerPrice float64, existingAlgoID string) (string, error) {
	if existingAlgoID != "" {
		if err := c.CancelAlgo(ctx, instID, existingAlgoID); err != nil {
			return "", fmt.Errorf("cancel existing protective stop: %w", err)
		}
	}
	return c.PlaceProtectiveStop(ctx, instID, side, qty, triggerPrice)
}

// CancelAlgo cancels a resting conditional (algo) order, e.g. a
// protective stop that needs to move or be replaced.
func (c *RESTClient) CancelAlgo(ctx context.Context, instID, algoID string) error {
	body := []map[string]any{{"instId": instID, "algoId": algoID}}
	_, err := c.postJSON(ctx, "/api/v5/trade/cancel-algos", body)
	return err
}

// EmergencyClose submits a reduce-only market order sized to flatten the
// entire position immediately, the exit orchestrator's last resort when
// a normal close has exhausted its retry budget.
func (c *RESTClient) EmergencyClose(ctx context.Context, instID string, side models.OrderSide, qty float64) (string, error) {
	return c.Submit(ctx, SubmitRequest{
		ClientOrderID: "emgc-" + instID + "-" + formatFloat(qty),
		InstID:        instID,
		Market:        models.MarketFutures,
		Side:          side,
		ReduceOnly:    true,
		Qty:           qty,
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func decodeFirstInto(env venueEnvelope, dst any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("empty response data")
	}
	return json.Unmarshal(env.Data[0], dst)
}
