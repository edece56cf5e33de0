package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/fanvault-backend/internal/reconciler"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body for signed providers.
const SignatureHeader = "X-Webhook-Signature"

// SignedNormalizer handles providers that post flat JSON or form-encoded
// bodies signed with a shared secret.
type SignedNormalizer struct {
	provider string
	secret   string
}

func NewSignedNormalizer(provider, secret string) (*SignedNormalizer, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "provider name required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, pkgerrors.Newf(pkgerrors.CodeInternal, "signing secret required for %s", provider)
	}
	return &SignedNormalizer{provider: provider, secret: secret}, nil
}

func (n *SignedNormalizer) Provider() string { return n.provider }

func (n *SignedNormalizer) Normalize(payload []byte, signature, contentType string) (reconciler.PaymentEvent, error) {
	if !ValidSignature(payload, n.secret, signature) {
		return reconciler.PaymentEvent{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}
	fields, err := parseFields(payload, contentType)
	if err != nil {
		return reconciler.PaymentEvent{}, malformed(n.provider, err)
	}

	get := func(keys ...string) string {
		for _, key := range keys {
			if v := strings.TrimSpace(fields[key]); v != "" {
				return v
			}
		}
		return ""
	}

	event := reconciler.PaymentEvent{
		Type:                  enums.PaymentEventType(strings.ToLower(get("event_type", "type"))),
		Provider:              n.provider,
		EventID:               get("event_id", "id"),
		ProviderTransactionID: get("provider_transaction_id", "transaction_id"),
		SubscriptionID:        parseUUID(get("subscription_id")),
		Currency:              enums.Currency(strings.ToLower(get("currency"))),
		ProviderStatus:        get("status"),
		FailureReason:         get("failure_reason", "reason"),
		OccurredAt:            parseTime(get("occurred_at", "timestamp")),
		Metadata: metadataFrom(map[string]string{
			"user_id":          get("user_id"),
			"creator_id":       get("creator_id"),
			"content_id":       get("content_id"),
			"transaction_type": get("transaction_type"),
			"tier_name":        get("tier_name"),
		}),
	}
	if raw := get("gross_cents", "amount_cents"); raw != "" {
		cents, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return reconciler.PaymentEvent{}, malformed(n.provider, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
		}
		event.GrossCents = cents
	}
	if event.EventID == "" && event.ProviderTransactionID != "" {
		event.EventID = reconciler.NewEventID(n.provider, event.ProviderTransactionID, event.Type)
	}
	if event.EventID == "" {
		return reconciler.PaymentEvent{}, malformed(n.provider, pkgerrors.New(pkgerrors.CodeValidation, "event id is required"))
	}
	return event, nil
}

// ValidSignature compares the hex HMAC-SHA256 of payload in constant time.
func ValidSignature(payload []byte, secret, signature string) bool {
	signature = strings.TrimSpace(strings.TrimPrefix(signature, "sha256="))
	if signature == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(strings.ToLower(signature)))
}

func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFields(payload []byte, contentType string) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(payload))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode form body")
		}
		fields := make(map[string]string, len(values))
		for key := range values {
			fields[strings.ToLower(key)] = values.Get(key)
		}
		return fields, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode json body")
	}
	fields := make(map[string]string, len(raw))
	flatten(fields, raw)
	return fields, nil
}

// flatten lifts a nested "metadata" object to the top level; top-level keys win.
func flatten(dst map[string]string, raw map[string]any) {
	if nested, ok := raw["metadata"].(map[string]any); ok {
		for key, value := range nested {
			dst[strings.ToLower(key)] = scalar(value)
		}
	}
	for key, value := range raw {
		if key == "metadata" {
			continue
		}
		dst[strings.ToLower(key)] = scalar(value)
	}
}

func scalar(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC()
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}
