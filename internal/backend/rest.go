package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pieterjandubois/fundingspreadarb/internal/ratelimit"
)

// VenueConfig is the per-venue REST connection profile.
type VenueConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	APISecret string
}

type venueClient struct {
	http    *resty.Client
	limiter *ratelimit.Venue
}

// RESTBackend is the live ExecutionBackend, one resty client per venue,
// each rate-limited and retried independently. Grounded on the teacher's
// exchange REST client: base URL + timeout + bounded retry on 5xx,
// dry-run short-circuit before any network call.
type RESTBackend struct {
	venues map[string]*venueClient
	dryRun bool
	logger *slog.Logger
}

// NewRESTBackend builds a client per configured venue.
func NewRESTBackend(configs []VenueConfig, dryRun bool, logger *slog.Logger) *RESTBackend {
	venues := make(map[string]*venueClient, len(configs))
	for _, c := range configs {
		client := resty.New().
			SetBaseURL(c.BaseURL).
			SetTimeout(5 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(1 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}).
			SetHeader("Content-Type", "application/json")
		if c.APIKey != "" {
			client.SetHeader("X-API-Key", c.APIKey)
		}
		venues[c.Name] = &venueClient{http: client, limiter: ratelimit.NewVenue()}
	}
	return &RESTBackend{venues: venues, dryRun: dryRun, logger: logger.With("component", "rest_backend")}
}

func (b *RESTBackend) Name() string { return "live" }

func (b *RESTBackend) client(venue string) (*venueClient, error) {
	vc, ok := b.venues[venue]
	if !ok {
		return nil, fmt.Errorf("backend: unconfigured venue %q", venue)
	}
	return vc, nil
}

func (b *RESTBackend) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (OrderAck, error) {
	vc, err := b.client(req.Venue)
	if err != nil {
		return OrderAck{}, err
	}
	if err := vc.limiter.Order.Wait(ctx); err != nil {
		return OrderAck{}, fmt.Errorf("place order: %w", err)
	}
	if b.dryRun {
		return OrderAck{OrderID: fmt.Sprintf("dry-run-%s-%d", req.Venue, time.Now().UnixNano()), Venue: req.Venue, AcceptedAt: time.Now().UnixNano()}, nil
	}

	payload := map[string]any{
		"symbol": req.Symbol,
		"side":   req.Side.String(),
		"type":   req.Type.String(),
		"price":  req.Price,
		"size":   req.Size,
		"client_ref": req.ClientRef,
	}
	var result struct {
		OrderID string `json:"order_id"`
	}
	resp, err := vc.http.R().SetContext(ctx).SetBody(payload).SetResult(&result).Post("/orders")
	if err != nil {
		return OrderAck{}, fmt.Errorf("place order on %s: %w", req.Venue, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return OrderAck{}, fmt.Errorf("place order on %s: status %d: %s", req.Venue, resp.StatusCode(), resp.String())
	}
	b.logger.Info("order placed", "venue", req.Venue, "order_id", result.OrderID, "symbol", req.Symbol)
	return OrderAck{OrderID: result.OrderID, Venue: req.Venue, AcceptedAt: time.Now().UnixNano()}, nil
}

func (b *RESTBackend) CancelOrder(ctx context.Context, venue, orderID string) (CancelResult, error) {
	vc, err := b.client(venue)
	if err != nil {
		return CancelResult{}, err
	}
	if err := vc.limiter.Cancel.Wait(ctx); err != nil {
		return CancelResult{}, fmt.Errorf("cancel order: %w", err)
	}
	if b.dryRun {
		return CancelResult{Outcome: Cancelled}, nil
	}

	var result struct {
		FilledQty float64 `json:"filled_qty"`
	}
	resp, err := vc.http.R().SetContext(ctx).SetResult(&result).Delete("/orders/" + orderID)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel order on %s: %w", venue, err)
	}
	if resp.StatusCode() == http.StatusNotFound || IsUnknownOrderError(resp.String()) {
		return CancelResult{Outcome: AlreadyFilled, FilledQty: result.FilledQty}, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return CancelResult{Outcome: CancelFailed, FailReason: resp.String()}, nil
	}
	return CancelResult{Outcome: Cancelled}, nil
}

func (b *RESTBackend) OrderStatus(ctx context.Context, venue, orderID string) (OrderStatusResult, error) {
	vc, err := b.client(venue)
	if err != nil {
		return OrderStatusResult{}, err
	}
	if err := vc.limiter.Status.Wait(ctx); err != nil {
		return OrderStatusResult{}, fmt.Errorf("order status: %w", err)
	}

	var raw struct {
		State     string  `json:"state"`
		FilledQty float64 `json:"filled_qty"`
		AvgPrice  float64 `json:"avg_price"`
	}
	resp, err := vc.http.R().SetContext(ctx).SetResult(&raw).Get("/orders/" + orderID)
	if err != nil {
		return OrderStatusResult{}, fmt.Errorf("order status on %s: %w", venue, err)
	}
	if resp.StatusCode() == http.StatusNotFound || IsUnknownOrderError(resp.String()) {
		return OrderStatusResult{OrderID: orderID, State: StateFilled}, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return OrderStatusResult{}, fmt.Errorf("order status on %s: status %d: %s", venue, resp.StatusCode(), resp.String())
	}
	return OrderStatusResult{
		OrderID:   orderID,
		State:     parseState(raw.State),
		FilledQty: raw.FilledQty,
		AvgPrice:  raw.AvgPrice,
	}, nil
}

func parseState(s string) OrderState {
	switch s {
	case "open":
		return StateOpen
	case "partially_filled":
		return StatePartiallyFilled
	case "filled":
		return StateFilled
	case "cancelled":
		return StateCancelled
	case "rejected":
		return StateRejected
	default:
		return StateOpen
	}
}

func (b *RESTBackend) Balance(ctx context.Context, venue string) (float64, error) {
	vc, err := b.client(venue)
	if err != nil {
		return 0, err
	}
	if err := vc.limiter.Status.Wait(ctx); err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	var raw struct {
		FreeUSD float64 `json:"free_usd"`
	}
	resp, err := vc.http.R().SetContext(ctx).SetResult(&raw).Get("/account/balance")
	if err != nil {
		return 0, fmt.Errorf("balance on %s: %w", venue, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("balance on %s: status %d: %s", venue, resp.StatusCode(), resp.String())
	}
	return raw.FreeUSD, nil
}

func (b *RESTBackend) Tradeable(ctx context.Context, venue, symbol string) (bool, error) {
	vc, err := b.client(venue)
	if err != nil {
		return false, err
	}
	if err := vc.limiter.Status.Wait(ctx); err != nil {
		return false, fmt.Errorf("tradeable: %w", err)
	}
	var raw struct {
		Status string `json:"status"`
	}
	resp, err := vc.http.R().SetContext(ctx).SetResult(&raw).Get("/instruments/" + symbol)
	if err != nil {
		return false, fmt.Errorf("tradeable on %s: %w", venue, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("tradeable on %s: status %d: %s", venue, resp.StatusCode(), resp.String())
	}
	return raw.Status == "trading", nil
}
