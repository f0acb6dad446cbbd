package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Signature headers set on every signed delivery.
const (
	HeaderSignature = "X-Signature"
	HeaderEventType = "X-Event-Type"
	HeaderTimestamp = "X-Signature-Timestamp"
)

// SignHMAC returns lowercase hex of HMAC-SHA256 over "<timestamp>.<body>".
func SignHMAC(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC checks a signature produced by SignHMAC.
func VerifyHMAC(secret string, ts int64, body []byte, provided string) bool {
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(SignHMAC(secret, ts, body))
	return hmac.Equal(expected, b)
}

// VerifyRequest validates the signature headers of a received delivery, rejecting timestamps
// older than maxSkew.
func VerifyRequest(secret string, h http.Header, body []byte, maxSkew time.Duration, now time.Time) bool {
	ts, err := strconv.ParseInt(h.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return false
	}
	if maxSkew > 0 {
		d := now.Sub(time.Unix(ts, 0))
		if d < -maxSkew || d > maxSkew {
			return false
		}
	}
	return VerifyHMAC(secret, ts, body, h.Get(HeaderSignature))
}

func sign(req *http.Request, secret, eventType string, body []byte, now time.Time) {
	req.Header.Set(HeaderEventType, eventType)
	if secret == "" {
		return
	}
	ts := now.Unix()
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, SignHMAC(secret, ts, body))
}
