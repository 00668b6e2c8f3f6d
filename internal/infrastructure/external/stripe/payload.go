package stripe

import (
	"bytes"
	"encoding/json"
	"time"
)

// Stripe objects are decoded from their raw JSON rather than the SDK structs
// so period fields are read the same way across API versions.

type subscriptionPayload struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	Created           int64             `json:"created"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// periodEnd returns the top-level period end, or the latest item period end
// on API versions that moved it to subscription items.
func (s *subscriptionPayload) periodEnd() *time.Time {
	end := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	if end <= 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

func (s *subscriptionPayload) priceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// subscriptionRef is either a bare subscription id or an expanded object
type subscriptionRef struct {
	ID       string
	Expanded *subscriptionPayload
}

func (r *subscriptionRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var sub subscriptionPayload
	if err := json.Unmarshal(b, &sub); err != nil {
		return err
	}
	r.ID = sub.ID
	r.Expanded = &sub
	return nil
}

type checkoutSessionPayload struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	Created           int64             `json:"created"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	Subscription      subscriptionRef   `json:"subscription"`
}

func (s *checkoutSessionPayload) userID() string {
	if s.ClientReferenceID != "" {
		return s.ClientReferenceID
	}
	return s.Metadata[metadataUserID]
}

func (s *checkoutSessionPayload) isPaid() bool {
	return s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required"
}

type invoicePayload struct {
	ID           string          `json:"id"`
	Subscription subscriptionRef `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i *invoicePayload) subscriptionID() string {
	if i.Subscription.ID != "" {
		return i.Subscription.ID
	}
	return i.Parent.SubscriptionDetails.Subscription
}
