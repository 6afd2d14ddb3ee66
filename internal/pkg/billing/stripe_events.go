package billing

import (
	"encoding/json"
	"time"
)

// Webhook payloads are decoded into local structs instead of the SDK's
// event types. The SDK structs track the latest API version and drop
// fields older webhook payloads still carry; decoding locally keeps the
// handlers stable across API version drift.

type checkoutSessionPayload struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

type subscriptionItemPayload struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	Price              struct {
		ID         string `json:"id"`
		UnitAmount int64  `json:"unit_amount"`
		Currency   string `json:"currency"`
		Recurring  struct {
			Interval      string `json:"interval"`
			IntervalCount int64  `json:"interval_count"`
		} `json:"recurring"`
	} `json:"price"`
}

type subscriptionPayload struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	Metadata           map[string]string `json:"metadata"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	TrialEnd           int64             `json:"trial_end"`
	Items              struct {
		Data []subscriptionItemPayload `json:"data"`
	} `json:"items"`
}

type invoicePayload struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	Currency     string `json:"currency"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Parent struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Subscription string `json:"subscription"`
		} `json:"data"`
	} `json:"lines"`
}

// ParseCheckoutSession decodes a checkout.session.completed payload.
func ParseCheckoutSession(raw json.RawMessage) (*CheckoutSessionData, error) {
	var p checkoutSessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &CheckoutSessionData{
		SessionID:        p.ID,
		StripeCustomerID: p.Customer,
		AuthUserID:       p.Metadata[MetadataKeyUserID],
		PlanID:           p.Metadata[MetadataKeyPlanID],
		Interval:         p.Metadata[MetadataKeyInterval],
	}, nil
}

// ParseSubscription decodes a customer.subscription.* payload into the
// normalized shape the sync service works with. Period bounds fall back to
// the first item when the top-level fields are absent (the item-level
// fields are the current canonical location).
func ParseSubscription(raw json.RawMessage) (*SubscriptionData, error) {
	var p subscriptionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}

	data := &SubscriptionData{
		StripeSubscriptionID: p.ID,
		StripeCustomerID:     p.Customer,
		AuthUserID:           p.Metadata[MetadataKeyUserID],
		PlanID:               p.Metadata[MetadataKeyPlanID],
		Interval:             p.Metadata[MetadataKeyInterval],
		Status:               NormalizeStatus(p.Status),
		CancelAtPeriodEnd:    p.CancelAtPeriodEnd,
	}

	periodStart, periodEnd := p.CurrentPeriodStart, p.CurrentPeriodEnd
	if len(p.Items.Data) > 0 {
		item := p.Items.Data[0]
		if periodStart == 0 {
			periodStart = item.CurrentPeriodStart
		}
		if periodEnd == 0 {
			periodEnd = item.CurrentPeriodEnd
		}
		data.Price = &PlanPrice{
			PriceID:       item.Price.ID,
			UnitAmount:    item.Price.UnitAmount,
			Currency:      NormalizeCurrency(item.Price.Currency),
			Interval:      NormalizeInterval(item.Price.Recurring.Interval),
			IntervalCount: item.Price.Recurring.IntervalCount,
		}
		if data.Interval == "" {
			data.Interval = data.Price.Interval
		}
	}
	if periodStart > 0 {
		data.CurrentPeriodStart = time.Unix(periodStart, 0).UTC()
	}
	if periodEnd > 0 {
		data.CurrentPeriodEnd = time.Unix(periodEnd, 0).UTC()
	}
	if p.TrialEnd > 0 {
		t := time.Unix(p.TrialEnd, 0).UTC()
		data.TrialEnd = &t
	}
	data.Interval = NormalizeInterval(data.Interval)

	return data, nil
}

// ParseInvoice decodes an invoice.* payload. The owning subscription id has
// moved around across API versions; all known locations are checked.
func ParseInvoice(raw json.RawMessage) (*InvoiceData, error) {
	var p invoicePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}

	subID := p.Subscription
	if subID == "" {
		subID = p.Parent.SubscriptionDetails.Subscription
	}
	if subID == "" && len(p.Lines.Data) > 0 {
		subID = p.Lines.Data[0].Subscription
	}

	data := &InvoiceData{
		StripeInvoiceID:      p.ID,
		StripeSubscriptionID: subID,
		AmountPaid:           p.AmountPaid,
		Currency:             NormalizeCurrency(p.Currency),
	}
	if p.StatusTransitions.PaidAt > 0 {
		t := time.Unix(p.StatusTransitions.PaidAt, 0).UTC()
		data.PaidAt = &t
	}
	return data, nil
}
