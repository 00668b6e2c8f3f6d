package iap

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/awa/go-iap/appstore"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

// receiptResponse is the subset of the verifyReceipt response we read
type receiptResponse struct {
	Status      int    `json:"status"`
	Environment string `json:"environment"`
	Receipt     struct {
		BundleID string               `json:"bundle_id"`
		InApp    []receiptTransaction `json:"in_app"`
	} `json:"receipt"`
	LatestReceiptInfo  []receiptTransaction `json:"latest_receipt_info"`
	PendingRenewalInfo []struct {
		OriginalTransactionID string `json:"original_transaction_id"`
		AutoRenewStatus       string `json:"auto_renew_status"`
	} `json:"pending_renewal_info"`
}

type receiptTransaction struct {
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
	ExpiresDateMS         string `json:"expires_date_ms"`
}

func (t receiptTransaction) purchaseMS() int64 {
	ms, _ := strconv.ParseInt(t.PurchaseDateMS, 10, 64)
	return ms
}

func (t receiptTransaction) expiresMS() int64 {
	ms, _ := strconv.ParseInt(t.ExpiresDateMS, 10, 64)
	return ms
}

// VerifyReceipt validates a base64 receipt with Apple and returns a
// CheckoutCompleted event for the latest known transaction, owned by userID.
func (a *AppleAdapter) VerifyReceipt(ctx context.Context, userID, receiptData string) (*entity.SubscriptionEvent, error) {
	if receiptData == "" {
		return nil, domainErrors.WrapValidationError("receiptData", domainErrors.ErrInvalidReceipt)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var resp receiptResponse
	err := a.receipts.Verify(ctx, appstore.IAPRequest{
		ReceiptData:            receiptData,
		Password:               a.sharedSecret,
		ExcludeOldTransactions: true,
	}, &resp)
	if err != nil {
		a.logger.Warn("App Store receipt verification request failed", zap.Error(err))
		return nil, &domainErrors.TransientNetworkError{Platform: platformName, Op: "verify receipt", Err: err}
	}
	if resp.Status != 0 {
		return nil, domainErrors.NewVerificationError(platformName, strconv.Itoa(resp.Status), appstore.HandleError(resp.Status))
	}
	if a.bundleID != "" && resp.Receipt.BundleID != a.bundleID {
		return nil, domainErrors.NewVerificationError(platformName, domainErrors.CodeBundleMismatch,
			fmt.Errorf("receipt bundle %q does not match %q", resp.Receipt.BundleID, a.bundleID))
	}

	txs := resp.LatestReceiptInfo
	if len(txs) == 0 {
		txs = resp.Receipt.InApp
	}
	if len(txs) == 0 {
		return nil, domainErrors.NewVerificationError(platformName, domainErrors.CodeNoTransactions, errors.New("receipt has no transactions"))
	}

	tx, plan, ok := a.latestKnown(txs)
	if !ok {
		return nil, domainErrors.NewVerificationError(platformName, domainErrors.CodeUnknownProduct,
			fmt.Errorf("no transaction for a configured product"))
	}

	ev := &entity.SubscriptionEvent{
		Platform:     valueobject.PlatformApple,
		ExternalID:   tx.OriginalTransactionID,
		EventID:      "tx:" + tx.TransactionID,
		Kind:         entity.EventCheckoutCompleted,
		Plan:         plan,
		UserID:       userID,
		Origin:       entity.OriginPlatform,
		PlatformType: "receipt",
	}
	if occurred := msToTime(tx.purchaseMS()); occurred != nil {
		ev.OccurredAt = *occurred
	}
	if !plan.IsLifetime() {
		ev.PeriodEndAt = msToTime(tx.expiresMS())
		for _, renewal := range resp.PendingRenewalInfo {
			if renewal.OriginalTransactionID == tx.OriginalTransactionID {
				off := renewal.AutoRenewStatus == "0"
				ev.CancelAtPeriodEnd = &off
			}
		}
	}

	a.logger.Info("App Store receipt verified",
		zap.String("user_id", userID),
		zap.String("product_id", tx.ProductID),
		zap.String("original_transaction_id", tx.OriginalTransactionID),
		zap.String("environment", resp.Environment),
	)
	return ev, nil
}

// latestKnown picks the transaction for a configured product with the latest
// expiry, or the latest purchase when expiries tie.
func (a *AppleAdapter) latestKnown(txs []receiptTransaction) (receiptTransaction, valueobject.PlanType, bool) {
	var (
		best     receiptTransaction
		bestPlan valueobject.PlanType
		found    bool
	)
	for _, tx := range txs {
		plan, ok := a.planFor(tx.ProductID)
		if !ok {
			continue
		}
		if !found || later(tx, best) {
			best, bestPlan, found = tx, plan, true
		}
	}
	return best, bestPlan, found
}

func later(a, b receiptTransaction) bool {
	if a.expiresMS() != b.expiresMS() {
		return a.expiresMS() > b.expiresMS()
	}
	return a.purchaseMS() > b.purchaseMS()
}
