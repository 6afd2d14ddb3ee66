package billing

import (
	"strings"

	"github.com/flowkitio/flowkit/app/models"
)

// FallbackCurrency is surfaced whenever a stored plan snapshot carries no
// currency code. Readers must never see an empty currency.
const FallbackCurrency = "USD"

// NormalizeCurrency returns a non-empty currency code for display.
func NormalizeCurrency(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return FallbackCurrency
	}
	return strings.ToUpper(code)
}

// NormalizeInterval maps arbitrary interval input onto the supported
// billing intervals, defaulting to monthly.
func NormalizeInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case models.BillingIntervalYear:
		return models.BillingIntervalYear
	default:
		return models.BillingIntervalMonth
	}
}

// NormalizeStatus maps Stripe lifecycle statuses onto local ones. Stripe
// spells cancellation "canceled"; locally the record keeps "cancelled".
func NormalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case "canceled", models.SubscriptionStatusCancelled:
		return models.SubscriptionStatusCancelled
	case "":
		return models.SubscriptionStatusIncomplete
	default:
		return s
	}
}

// IsEntitlingStatus reports whether a subscription status still grants
// access to paid features.
func IsEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing, models.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
