package dto

// ========== SUBSCRIPTION STATUS DTOs ==========

// SubscriptionStatusResponse is what the client renders as its entitlement
type SubscriptionStatusResponse struct {
	Plan              string  `json:"plan"`
	IsActive          bool    `json:"isActive"`
	ExpiresAt         *string `json:"expiresAt"`
	CancelAtPeriodEnd bool    `json:"cancelAtPeriodEnd"`
	BillingPeriod     string  `json:"billingPeriod,omitempty"`
	Platform          string  `json:"platform,omitempty"`
	Status            string  `json:"status,omitempty"`
}

// ========== CHECKOUT DTOs ==========

// CreateCheckoutRequest starts a hosted Stripe checkout
type CreateCheckoutRequest struct {
	Plan          string `json:"plan" binding:"required"`
	BillingPeriod string `json:"billingPeriod" binding:"required"`
}

// CreateCheckoutResponse carries the hosted checkout URL
type CreateCheckoutResponse struct {
	URL string `json:"url"`
}

// ProcessCheckoutResponse is returned after the checkout redirect is confirmed
type ProcessCheckoutResponse struct {
	Success      bool                        `json:"success"`
	Subscription *SubscriptionStatusResponse `json:"subscription,omitempty"`
}

// ========== CANCEL DTOs ==========

// CancelSubscriptionResponse describes when access ends
type CancelSubscriptionResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	EndDate *string `json:"endDate,omitempty"`
}

// ========== IAP VERIFICATION DTOs ==========

// VerifyIAPRequest carries an App Store receipt from the iOS client
type VerifyIAPRequest struct {
	ProductID   string `json:"productId" binding:"required"`
	ReceiptData string `json:"receiptData" binding:"required"`
}

// VerifyIAPResponse reports the entitlement after the receipt was applied
type VerifyIAPResponse struct {
	Success   bool    `json:"success"`
	Plan      string  `json:"plan"`
	ExpiresAt *string `json:"expiresAt"`
}

// ========== WEBHOOK DTOs ==========

// WebhookResponse acknowledges a platform webhook
type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// ========== ADMIN DTOs ==========

// GrantManualRequest grants a plan without a payment platform
type GrantManualRequest struct {
	BillingPeriod string `json:"billingPeriod" binding:"required"`
	// ExpiresAt is RFC3339; defaults to one billing period from now
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// ManualSubscriptionResponse reports the outcome of a grant or revoke
type ManualSubscriptionResponse struct {
	Outcome      string                      `json:"outcome"`
	Subscription *SubscriptionStatusResponse `json:"subscription"`
}
