package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/fanvault-backend/internal/reconciler"
	whsvc "github.com/angelmondragon/fanvault-backend/internal/webhooks"
	"github.com/angelmondragon/fanvault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fanvault-backend/pkg/errors"
)

const (
	testProviderSecret = "provider-secret"
	testStripeSecret   = "whsec_test"
)

type fakeProcessor struct {
	calls     int
	last      reconciler.PaymentEvent
	outcome   *whsvc.Outcome
	err       error
	malformed []error
	recordErr error
}

func (f *fakeProcessor) RecordMalformed(_ context.Context, provider string, _ []byte, cause error) (*whsvc.Outcome, error) {
	f.malformed = append(f.malformed, cause)
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	return &whsvc.Outcome{Recorded: true}, nil
}

func (f *fakeProcessor) Process(_ context.Context, event reconciler.PaymentEvent, _ []byte) (*whsvc.Outcome, error) {
	f.calls++
	f.last = event
	if f.err != nil {
		return nil, f.err
	}
	if f.outcome != nil {
		return f.outcome, nil
	}
	return &whsvc.Outcome{}, nil
}

func signedNormalizers(t *testing.T) map[string]whsvc.Normalizer {
	t.Helper()
	n, err := whsvc.NewSignedNormalizer("ccbill", testProviderSecret)
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}
	return map[string]whsvc.Normalizer{"ccbill": n}
}

func providerRequest(provider string, body []byte, contentType, sig string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/"+provider, bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	if sig != "" {
		req.Header.Set(whsvc.SignatureHeader, sig)
	}
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("provider", provider)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestProviderWebhookProcessesSignedJSON(t *testing.T) {
	proc := &fakeProcessor{}
	body := []byte(`{"event_id":"evt_1","event_type":"payment.completed","transaction_id":"tx_1","gross_cents":1000,"currency":"usd","user_id":"` + uuid.NewString() + `","creator_id":"` + uuid.NewString() + `","transaction_type":"tip"}`)

	resp := httptest.NewRecorder()
	Provider(signedNormalizers(t), proc, nil)(resp, providerRequest("ccbill", body, "application/json", whsvc.Sign(body, testProviderSecret)))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if proc.calls != 1 {
		t.Fatalf("expected one processing call, got %d", proc.calls)
	}
	if proc.last.Type != enums.PaymentEventCompleted || proc.last.GrossCents != 1000 {
		t.Fatalf("unexpected event %+v", proc.last)
	}
}

func TestProviderWebhookFormEncoded(t *testing.T) {
	proc := &fakeProcessor{}
	body := []byte("event_id=evt_2&event_type=payment.failed&transaction_id=tx_2&reason=card_declined")

	resp := httptest.NewRecorder()
	Provider(signedNormalizers(t), proc, nil)(resp, providerRequest("CCBill", body, "application/x-www-form-urlencoded", whsvc.Sign(body, testProviderSecret)))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if proc.last.FailureReason != "card_declined" {
		t.Fatalf("unexpected event %+v", proc.last)
	}
}

func TestProviderWebhookRejectsBadSignature(t *testing.T) {
	proc := &fakeProcessor{}
	body := []byte(`{"event_id":"evt_1","event_type":"payment.completed"}`)

	resp := httptest.NewRecorder()
	Provider(signedNormalizers(t), proc, nil)(resp, providerRequest("ccbill", body, "application/json", "deadbeef"))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if proc.calls != 0 {
		t.Fatalf("processor must not run for unverified payloads")
	}
}

func TestProviderWebhookUnknownProvider(t *testing.T) {
	resp := httptest.NewRecorder()
	Provider(signedNormalizers(t), &fakeProcessor{}, nil)(resp, providerRequest("segpay", []byte(`{}`), "application/json", "x"))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestProviderWebhookAcknowledgesRecordedFailure(t *testing.T) {
	id := uuid.New()
	proc := &fakeProcessor{outcome: &whsvc.Outcome{Recorded: true, FailureID: &id}}
	body := []byte(`{"event_id":"evt_3","event_type":"payment.completed","transaction_id":"tx_3"}`)

	resp := httptest.NewRecorder()
	Provider(signedNormalizers(t), proc, nil)(resp, providerRequest("ccbill", body, "application/json", whsvc.Sign(body, testProviderSecret)))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data ackResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !envelope.Data.Received || !envelope.Data.Recorded {
		t.Fatalf("unexpected ack %+v", envelope.Data)
	}
}

func TestProviderWebhookUnrecordableFailureIs500(t *testing.T) {
	proc := &fakeProcessor{err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "record webhook failure")}
	body := []byte(`{"event_id":"evt_4","event_type":"payment.completed","transaction_id":"tx_4"}`)

	resp := httptest.NewRecorder()
	Provider(signedNormalizers(t), proc, nil)(resp, providerRequest("ccbill", body, "application/json", whsvc.Sign(body, testProviderSecret)))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}

func TestProviderWebhookRecordsMalformedVerifiedBody(t *testing.T) {
	cases := map[string]struct {
		body        []byte
		contentType string
	}{
		"fractional amount": {[]byte(`{"event_id":"evt_5","event_type":"payment.completed","gross_cents":"12.50"}`), "application/json"},
		"not json":          {[]byte(`{"event_id":`), "application/json"},
		"missing event id":  {[]byte(`{"event_type":"payment.completed"}`), "application/json"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			proc := &fakeProcessor{}
			resp := httptest.NewRecorder()
			Provider(signedNormalizers(t), proc, nil)(resp, providerRequest("ccbill", tc.body, tc.contentType, whsvc.Sign(tc.body, testProviderSecret)))

			if resp.Code != http.StatusOK {
				t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
			}
			if proc.calls != 0 || len(proc.malformed) != 1 {
				t.Fatalf("expected one malformed record and no processing, got calls=%d malformed=%d", proc.calls, len(proc.malformed))
			}
			if !pkgerrors.IsCode(proc.malformed[0], pkgerrors.CodeValidation) {
				t.Fatalf("expected validation cause, got %v", proc.malformed[0])
			}
		})
	}
}

func TestProviderWebhookUnrecordableMalformedBodyIs500(t *testing.T) {
	proc := &fakeProcessor{recordErr: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	body := []byte(`{"event_id":"evt_6","gross_cents":"abc"}`)

	resp := httptest.NewRecorder()
	Provider(signedNormalizers(t), proc, nil)(resp, providerRequest("ccbill", body, "application/json", whsvc.Sign(body, testProviderSecret)))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}

func TestProviderWebhookUnsignedMalformedBodyIsRejected(t *testing.T) {
	proc := &fakeProcessor{}
	body := []byte(`{"gross_cents":"12.50"}`)

	resp := httptest.NewRecorder()
	Provider(signedNormalizers(t), proc, nil)(resp, providerRequest("ccbill", body, "application/json", "deadbeef"))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if len(proc.malformed) != 0 {
		t.Fatal("unverified payloads must not be recorded")
	}
}

func TestStripeWebhookVerifiesSignature(t *testing.T) {
	normalizer, err := whsvc.NewStripeNormalizer(testStripeSecret)
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}
	proc := &fakeProcessor{outcome: &whsvc.Outcome{Ignored: true}}
	payload, header := buildStripeEvent(t, "customer.created")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set(stripeSignatureHeader, header)
	resp := httptest.NewRecorder()
	Stripe(normalizer, proc, nil)(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if proc.calls != 1 || proc.last.Provider != whsvc.ProviderStripe {
		t.Fatalf("unexpected processing %+v", proc.last)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set(stripeSignatureHeader, "t=1,v1=bad")
	resp = httptest.NewRecorder()
	Stripe(normalizer, proc, nil)(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func buildStripeEvent(t *testing.T, eventType stripe.EventType) ([]byte, string) {
	t.Helper()
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       eventType,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Created:    time.Now().Unix(),
		Data:       &stripe.EventData{Raw: json.RawMessage(`{"id":"cus_1","object":"customer"}`)},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testStripeSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return payload, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
