package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Delivery headers attached to every webhook request.
const (
	HeaderSignature = "X-Gateway-Signature"
	HeaderEventType = "X-Gateway-Event-Type"
	HeaderEventID   = "X-Gateway-Event-Id"
)

// Sign produces the signature header value for a payload:
//
//	t=<unix seconds>,v1=<hex hmac-sha256 over "<t>.<payload>">
//
// Binding the timestamp into the MAC lets receivers reject replays without
// a second header.
func Sign(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + computeHMAC(secret, ts, payload)
}

// VerifySignature checks a received signature header against the payload.
// A zero tolerance skips the timestamp check.
func VerifySignature(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	ts, signature, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	expected := computeHMAC(secret, ts, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}

	if tolerance > 0 {
		unix, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q", ts)
		}
		age := now.Sub(time.Unix(unix, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return fmt.Errorf("timestamp outside tolerance")
		}
	}
	return nil
}

func computeHMAC(secret, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (ts, signature string, err error) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			return "", "", fmt.Errorf("malformed signature header")
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			signature = value
		}
	}
	if ts == "" || signature == "" {
		return "", "", fmt.Errorf("signature header missing t or v1")
	}
	return ts, signature, nil
}
