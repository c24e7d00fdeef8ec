package webhooksig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"
)

const testSecret = "whsec_test_secret"

func signStripe(t *testing.T, payload []byte, secret string, ts time.Time) string {
	t.Helper()
	timestamp := fmt.Sprintf("%d", ts.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func signPersona(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyStripe_AcceptsValidSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	header := signStripe(t, payload, testSecret, time.Now())

	if !VerifyStripe(payload, header, testSecret) {
		t.Fatal("expected valid signature to verify")
	}
}

func TestVerifyStripe_AcceptsRotatedSecretCandidates(t *testing.T) {
	payload := []byte(`{"id":"evt_2"}`)
	valid := signStripe(t, payload, testSecret, time.Now())
	timestamp, sig, _ := strings.Cut(valid, ",v1=")

	// The stale candidate (old secret) comes first; the valid one second.
	stale := signPersona(payload, "whsec_old_secret")
	header := fmt.Sprintf("%s,v1=%s,v1=%s", timestamp, stale, sig)

	if !VerifyStripe(payload, header, testSecret) {
		t.Fatal("expected any matching candidate to verify")
	}
}

func TestVerifyStripe_RejectsTamperedBody(t *testing.T) {
	payload := []byte(`{"amount":100}`)
	header := signStripe(t, payload, testSecret, time.Now())

	tampered := []byte(`{"amount":999}`)
	if VerifyStripe(tampered, header, testSecret) {
		t.Fatal("expected tampered body to fail verification")
	}
}

func TestVerifyStripe_RejectsExpiredTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_3"}`)
	header := signStripe(t, payload, testSecret, time.Now().Add(-301*time.Second))

	if VerifyStripe(payload, header, testSecret) {
		t.Fatal("expected expired timestamp to fail even with a valid MAC")
	}
}

func TestVerifyStripe_RejectsFutureTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_4"}`)
	header := signStripe(t, payload, testSecret, time.Now().Add(10*time.Minute))

	if VerifyStripe(payload, header, testSecret) {
		t.Fatal("expected far-future timestamp to fail")
	}
}

func TestVerifyStripe_MalformedHeaders(t *testing.T) {
	payload := []byte(`{}`)
	tests := []struct {
		name   string
		header string
	}{
		{name: "empty header", header: ""},
		{name: "missing timestamp", header: "v1=deadbeef"},
		{name: "missing signature", header: "t=1700000000"},
		{name: "non numeric timestamp", header: "t=abc,v1=deadbeef"},
		{name: "not hex signature", header: fmt.Sprintf("t=%d,v1=zzzz", time.Now().Unix())},
		{name: "garbage", header: "////,,=="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifyStripe(payload, tt.header, testSecret) {
				t.Fatalf("expected malformed header %q to fail", tt.header)
			}
		})
	}
}

func TestVerifyStripe_MissingSecretFails(t *testing.T) {
	payload := []byte(`{}`)
	header := signStripe(t, payload, testSecret, time.Now())

	if VerifyStripe(payload, header, "") {
		t.Fatal("expected verification without a secret to fail")
	}
}

func TestVerifyPersona_AcceptsBareHexDigest(t *testing.T) {
	payload := []byte(`{"data":{"attributes":{"name":"inquiry.approved"}}}`)
	header := signPersona(payload, testSecret)

	if !VerifyPersona(payload, header, testSecret) {
		t.Fatal("expected legacy hex digest to verify")
	}
}

func TestVerifyPersona_AcceptsTimestampedHeader(t *testing.T) {
	payload := []byte(`{"data":{}}`)
	header := signStripe(t, payload, testSecret, time.Now())

	if !VerifyPersona(payload, header, testSecret) {
		t.Fatal("expected timestamped persona header to verify")
	}
}

func TestVerifyPersona_RejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"data":{}}`)
	header := signPersona(payload, "other_secret")

	if VerifyPersona(payload, header, testSecret) {
		t.Fatal("expected digest under a different secret to fail")
	}
}

func TestVerifyPersona_RejectsReserializedBody(t *testing.T) {
	// Same JSON meaning, different bytes. The MAC is byte-exact.
	original := []byte(`{"a":1,"b":2}`)
	reserialized := []byte(`{"b":2,"a":1}`)
	header := signPersona(original, testSecret)

	if VerifyPersona(reserialized, header, testSecret) {
		t.Fatal("expected byte-different body to fail verification")
	}
}
