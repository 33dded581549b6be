package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ReplayWindow is the maximum allowed clock skew between a signed request's
// timestamp and the verifier's local clock (§4.1).
const ReplayWindow = 300 * time.Second

// ErrExpired is returned when a signed request falls outside ReplayWindow.
var ErrExpired = errors.New("identity: request timestamp outside replay window")

// ErrUnknownSigner is returned when a signed request's pubkey is not in the
// caller-supplied allow-list for the endpoint.
var ErrUnknownSigner = errors.New("identity: unknown signer pubkey")

// CanonicalJSON re-serialises body with object keys sorted lexicographically
// and minimal whitespace, recursively, so that two semantically equal JSON
// documents that differ only in key order or formatting produce the same
// canonical string (§4.1, property test 6).
func CanonicalJSON(body []byte) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", fmt.Errorf("canonical json: %w", err)
	}
	var sb strings.Builder
	if err := writeCanonical(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeCanonical(sb *strings.Builder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(kb)
			sb.WriteByte(':')
			if err := writeCanonical(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, e); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		sb.Write(b)
	}
	return nil
}

// CanonicalRequestString builds the string that is actually signed:
// UPPER(method) ":" path ":" decimal_timestamp ":" canonical_json(body)
func CanonicalRequestString(method, path string, timestamp int64, body []byte) (string, error) {
	cj, err := CanonicalJSON(body)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(method) + ":" + path + ":" + strconv.FormatInt(timestamp, 10) + ":" + cj, nil
}

// AuthenticateRequest verifies a signed HTTP request per §4.1: replay window,
// signature validity, and optional pubkey allow-listing (isKnown may be nil
// to skip that check, e.g. for endpoints open to any signer).
func AuthenticateRequest(method, path string, timestamp int64, body []byte, pubkeyHex, sigHex string, now time.Time, isKnown func(pubkeyHex string) bool) error {
	skew := now.Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > ReplayWindow {
		return ErrExpired
	}
	if isKnown != nil && !isKnown(pubkeyHex) {
		return ErrUnknownSigner
	}
	pub, err := PubKeyFromHex(pubkeyHex)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	msg, err := CanonicalRequestString(method, path, timestamp, body)
	if err != nil {
		return err
	}
	return Verify(pub, []byte(msg), sigHex)
}

// SignRequest produces the X-Signature header value for an outgoing request.
func SignRequest(priv PrivateKey, method, path string, timestamp int64, body []byte) (string, error) {
	msg, err := CanonicalRequestString(method, path, timestamp, body)
	if err != nil {
		return "", err
	}
	return Sign(priv, []byte(msg)), nil
}
