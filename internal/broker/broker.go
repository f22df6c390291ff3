package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

// Snapshot is the account state the sizing logic needs: idle cash and the
// held quantity of the configured symbol.
type Snapshot struct {
	Cash        decimal.Decimal
	PositionQty decimal.Decimal
}

type OrderRef struct {
	ID     string
	Status string
}

type Client struct {
	client *alpaca.Client
}

func New(apiKey, apiSecret, baseURL string) *Client {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	}
	return &Client{client: alpaca.NewClient(opts)}
}

// AccountSnapshot fetches the cash balance and the held quantity for symbol.
// A missing position is not an error; it reports quantity zero.
func (c *Client) AccountSnapshot(ctx context.Context, symbol string) (Snapshot, error) {
	acct, err := c.client.GetAccount()
	if err != nil {
		slog.Error("fetch account failed", "error", err)
		return Snapshot{}, fmt.Errorf("get account: %w", err)
	}

	qty := decimal.Zero
	pos, err := c.client.GetPosition(symbol)
	switch {
	case err == nil:
		qty = pos.Qty
	case isNotFound(err):
		// no open position for the symbol
	default:
		slog.Error("fetch position failed", "symbol", symbol, "error", err)
		return Snapshot{}, fmt.Errorf("get position %s: %w", symbol, err)
	}

	slog.Info("account fetched", "cash", acct.Cash, "symbol", symbol, "position_qty", qty)
	return Snapshot{Cash: acct.Cash, PositionQty: qty}, nil
}

// MarketBuyNotional submits a market buy sized by quote-currency amount.
func (c *Client) MarketBuyNotional(ctx context.Context, symbol string, notional decimal.Decimal) (OrderRef, error) {
	order, err := c.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Notional:    &notional,
		Side:        alpaca.Buy,
		Type:        alpaca.Market,
		TimeInForce: alpaca.GTC,
	})
	if err != nil {
		slog.Error("place order failed", "side", alpaca.Buy, "symbol", symbol, "notional", notional, "error", err)
		return OrderRef{}, err
	}

	slog.Info("place order success", "order_id", order.ID, "side", alpaca.Buy, "symbol", symbol, "notional", notional, "status", order.Status)
	return OrderRef{ID: order.ID, Status: string(order.Status)}, nil
}

// MarketSellQty submits a market sell sized by asset quantity.
func (c *Client) MarketSellQty(ctx context.Context, symbol string, qty decimal.Decimal) (OrderRef, error) {
	order, err := c.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &qty,
		Side:        alpaca.Sell,
		Type:        alpaca.Market,
		TimeInForce: alpaca.GTC,
	})
	if err != nil {
		slog.Error("place order failed", "side", alpaca.Sell, "symbol", symbol, "qty", qty, "error", err)
		return OrderRef{}, err
	}

	slog.Info("place order success", "order_id", order.ID, "side", alpaca.Sell, "symbol", symbol, "qty", qty, "status", order.Status)
	return OrderRef{ID: order.ID, Status: string(order.Status)}, nil
}

func isNotFound(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
