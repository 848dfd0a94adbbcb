package webstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dealhunter/internal/services"

	"github.com/go-resty/resty/v2"
)

// Client talks to a storefront's JSON API for price probes and checkout.
// One Client per retailer; concurrent probes each run on their own
// request, so page state cannot leak between them.
type Client struct {
	baseURL string
	apiKey  string
	client  *resty.Client
}

type offerResponse struct {
	Success  bool    `json:"success"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	InStock  bool    `json:"in_stock"`
	Message  string  `json:"message"`
}

type checkoutRequest struct {
	Reference  string  `json:"reference"`
	Quantity   int     `json:"quantity"`
	MaxPrice   float64 `json:"max_price"`
	PaymentRef string  `json:"payment_ref"`
}

type checkoutResponse struct {
	Success bool    `json:"success"`
	OrderNo string  `json:"order_no"`
	Price   float64 `json:"price"`
	Total   float64 `json:"total"`
	Message string  `json:"message"`
}

func NewClient(baseURL, apiKey string) *Client {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetBaseURL(baseURL)
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
	}
}

// Probe fetches the current offer for a product reference.
func (c *Client) Probe(ctx context.Context, reference string) (*services.Observation, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/v1/products/%s/offer", reference))
	if err != nil {
		return nil, fmt.Errorf("probe request failed: %w", err)
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("unknown product reference %q", reference)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("probe returned status %d", resp.StatusCode())
	}

	var offer offerResponse
	if err := json.Unmarshal(resp.Body(), &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer response: %w", err)
	}
	if !offer.Success {
		return nil, fmt.Errorf("storefront rejected probe: %s", offer.Message)
	}

	obs := &services.Observation{
		InStock: offer.InStock,
		Title:   offer.Title,
	}
	if offer.Price > 0 {
		price := offer.Price
		obs.Price = &price
	}
	return obs, nil
}

// Buy places an order for a product reference at up to req.MaxPrice.
func (c *Client) Buy(ctx context.Context, req services.BuyRequest) (*services.Confirmation, error) {
	body := checkoutRequest{
		Reference:  req.Reference,
		Quantity:   req.Quantity,
		MaxPrice:   req.MaxPrice,
		PaymentRef: req.PaymentRef,
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/v1/checkout")
	if err != nil {
		return nil, fmt.Errorf("checkout request failed: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("checkout returned status %d: %s", resp.StatusCode(), resp.String())
	}

	var out checkoutResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("failed to parse checkout response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("checkout rejected: %s", out.Message)
	}

	return &services.Confirmation{
		OrderNo: out.OrderNo,
		Price:   out.Price,
		Total:   out.Total,
	}, nil
}

// Close releases idle connections held by the HTTP client.
func (c *Client) Close() error {
	c.client.GetClient().CloseIdleConnections()
	return nil
}
