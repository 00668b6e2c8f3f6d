package iap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

// App Store Server Notifications V2 types
const (
	notificationSubscribed             = "SUBSCRIBED"
	notificationDidRenew               = "DID_RENEW"
	notificationDidFailToRenew         = "DID_FAIL_TO_RENEW"
	notificationExpired                = "EXPIRED"
	notificationGracePeriodExpired     = "GRACE_PERIOD_EXPIRED"
	notificationRevoke                 = "REVOKE"
	notificationRefund                 = "REFUND"
	notificationDidChangeRenewalStatus = "DID_CHANGE_RENEWAL_STATUS"

	subtypeAutoRenewDisabled = "AUTO_RENEW_DISABLED"
	subtypeAutoRenewEnabled  = "AUTO_RENEW_ENABLED"
)

type notificationClaims struct {
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	SignedDate       int64  `json:"signedDate"`
	Data             struct {
		BundleID              string `json:"bundleId"`
		Environment           string `json:"environment"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	} `json:"data"`
	jwt.RegisteredClaims
}

type transactionClaims struct {
	OriginalTransactionID string `json:"originalTransactionId"`
	TransactionID         string `json:"transactionId"`
	ProductID             string `json:"productId"`
	BundleID              string `json:"bundleId"`
	PurchaseDate          int64  `json:"purchaseDate"`
	ExpiresDate           int64  `json:"expiresDate"`
	AppAccountToken       string `json:"appAccountToken"`
	jwt.RegisteredClaims
}

type signedPayloadBody struct {
	SignedPayload string `json:"signedPayload"`
}

// ParseServerNotification verifies a V2 server notification and maps it to a
// subscription event. Unknown notification types map to Unhandled.
func (a *AppleAdapter) ParseServerNotification(ctx context.Context, body []byte) (*entity.SubscriptionEvent, error) {
	token, err := extractSignedPayload(body)
	if err != nil {
		return nil, domainErrors.NewVerificationError(platformName, domainErrors.CodeMalformedPayload, err)
	}

	var notification notificationClaims
	if err := a.jws.Verify(token, &notification); err != nil {
		return nil, domainErrors.NewVerificationError(platformName, domainErrors.CodeSignatureMismatch, err)
	}
	if a.bundleID != "" && notification.Data.BundleID != "" && notification.Data.BundleID != a.bundleID {
		return nil, domainErrors.NewVerificationError(platformName, domainErrors.CodeBundleMismatch,
			fmt.Errorf("notification bundle %q does not match %q", notification.Data.BundleID, a.bundleID))
	}

	ev := &entity.SubscriptionEvent{
		Platform:     valueobject.PlatformApple,
		Origin:       entity.OriginPlatform,
		PlatformType: notification.NotificationType,
	}
	if notification.Subtype != "" {
		ev.PlatformType += "/" + notification.Subtype
	}
	if notification.NotificationUUID != "" {
		ev.EventID = "notification:" + notification.NotificationUUID
	}

	ev.Kind = notificationKind(notification.NotificationType, notification.Subtype)
	if ev.Kind == entity.EventUnhandled {
		ev.OccurredAt = signedAt(notification.SignedDate)
		return ev, nil
	}

	if notification.Data.SignedTransactionInfo == "" {
		return nil, domainErrors.NewVerificationError(platformName, domainErrors.CodeMalformedPayload,
			errors.New("notification has no signed transaction"))
	}
	var tx transactionClaims
	if err := a.jws.Verify(notification.Data.SignedTransactionInfo, &tx); err != nil {
		return nil, domainErrors.NewVerificationError(platformName, domainErrors.CodeSignatureMismatch, err)
	}

	ev.ExternalID = tx.OriginalTransactionID
	ev.UserID = tx.AppAccountToken
	ev.OccurredAt = signedAt(notification.SignedDate)
	if ev.OccurredAt.IsZero() {
		if purchased := msToTime(tx.PurchaseDate); purchased != nil {
			ev.OccurredAt = *purchased
		}
	}
	if plan, ok := a.planFor(tx.ProductID); ok {
		ev.Plan = plan
		if !plan.IsLifetime() {
			ev.PeriodEndAt = msToTime(tx.ExpiresDate)
		}
	} else {
		a.logger.Warn("App Store notification for unconfigured product",
			zap.String("product_id", tx.ProductID),
			zap.String("notification_type", notification.NotificationType),
		)
		ev.PeriodEndAt = msToTime(tx.ExpiresDate)
	}

	switch {
	case ev.Kind == entity.EventCanceled:
		ev.Soft = true
	case notification.NotificationType == notificationDidChangeRenewalStatus:
		off := false
		ev.CancelAtPeriodEnd = &off
	}
	return ev, nil
}

func notificationKind(notificationType, subtype string) entity.EventKind {
	switch notificationType {
	case notificationSubscribed:
		return entity.EventSubscribed
	case notificationDidRenew:
		return entity.EventRenewed
	case notificationDidFailToRenew:
		return entity.EventRenewalFailed
	case notificationExpired, notificationGracePeriodExpired, notificationRevoke, notificationRefund:
		return entity.EventExpired
	case notificationDidChangeRenewalStatus:
		switch subtype {
		case subtypeAutoRenewDisabled:
			return entity.EventCanceled
		case subtypeAutoRenewEnabled:
			return entity.EventRenewed
		}
	}
	return entity.EventUnhandled
}

// extractSignedPayload accepts the documented JSON envelope or a bare JWS
func extractSignedPayload(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", errors.New("empty notification body")
	}
	if trimmed[0] != '{' {
		return string(trimmed), nil
	}
	var envelope signedPayloadBody
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return "", err
	}
	if envelope.SignedPayload == "" {
		return "", errors.New("signedPayload is missing")
	}
	return envelope.SignedPayload, nil
}

func signedAt(ms int64) time.Time {
	if t := msToTime(ms); t != nil {
		return *t
	}
	return time.Time{}
}
