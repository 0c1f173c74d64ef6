package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/unclebandit/cartrecovery/internal/clock"
)

const shopifyAPIVersion = "2023-10"

type priceRule struct {
	ID                int64  `json:"id,omitempty"`
	Title             string `json:"title"`
	TargetType        string `json:"target_type"`
	TargetSelection   string `json:"target_selection"`
	AllocationMethod  string `json:"allocation_method"`
	ValueType         string `json:"value_type"`
	Value             string `json:"value"`
	CustomerSelection string `json:"customer_selection"`
	OncePerCustomer   bool   `json:"once_per_customer"`
	UsageLimit        int    `json:"usage_limit"`
	StartsAt          string `json:"starts_at"`
	EndsAt            string `json:"ends_at"`
}

type priceRuleEnvelope struct {
	PriceRule priceRule `json:"price_rule"`
}

type discountCodeEnvelope struct {
	DiscountCode struct {
		ID   int64  `json:"id,omitempty"`
		Code string `json:"code"`
	} `json:"discount_code"`
}

// ShopifyIssuer creates a single-use percentage price rule and its discount code.
type ShopifyIssuer struct {
	httpClient *resty.Client
	clock      clock.Clock
	logger     *zap.Logger
}

// NewShopifyIssuer targets https://<shopDomain>. baseURL overrides the shop URL
// and is meant for tests.
func NewShopifyIssuer(shopDomain, accessToken, baseURL string, clk clock.Clock, logger *zap.Logger) *ShopifyIssuer {
	if baseURL == "" {
		baseURL = "https://" + shopDomain
	}
	client := resty.New().
		SetBaseURL(baseURL+"/admin/api/"+shopifyAPIVersion).
		SetTimeout(15*time.Second).
		SetHeader("X-Shopify-Access-Token", accessToken).
		SetHeader("Content-Type", "application/json")

	return &ShopifyIssuer{httpClient: client, clock: clk, logger: logger}
}

func (s *ShopifyIssuer) Issue(ctx context.Context, req DiscountRequest) (string, error) {
	policy, ok := PolicyFor(req.Tier)
	if !ok {
		return "", nil
	}
	code := policy.Code(req.CheckoutID)
	now := s.clock.Now()

	rule := priceRuleEnvelope{PriceRule: priceRule{
		Title:             "Cart Recovery " + code,
		TargetType:        "line_item",
		TargetSelection:   "all",
		AllocationMethod:  "across",
		ValueType:         "percentage",
		Value:             fmt.Sprintf("-%d.0", policy.Percent),
		CustomerSelection: "all",
		OncePerCustomer:   true,
		UsageLimit:        1,
		StartsAt:          now.Format(time.RFC3339),
		EndsAt:            now.Add(policy.Validity).Format(time.RFC3339),
	}}

	var created priceRuleEnvelope
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(rule).
		SetResult(&created).
		Post("/price_rules.json")
	if err != nil {
		return "", fmt.Errorf("create price rule: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("create price rule: status %d: %s", resp.StatusCode(), resp.String())
	}
	if created.PriceRule.ID == 0 {
		return "", fmt.Errorf("create price rule: response has no id")
	}

	var body discountCodeEnvelope
	body.DiscountCode.Code = code
	resp, err = s.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post(fmt.Sprintf("/price_rules/%d/discount_codes.json", created.PriceRule.ID))
	if err != nil {
		return "", fmt.Errorf("create discount code: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("create discount code: status %d: %s", resp.StatusCode(), resp.String())
	}

	s.logger.Info("created discount code",
		zap.String("code", code),
		zap.String("tier", req.Tier.String()),
		zap.Int64("price_rule_id", created.PriceRule.ID),
	)
	return code, nil
}
