// Copyright 2025 Bluenote Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ghapp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/pkg/errors"
)

const (
	// SignatureHeader is the header carrying the HMAC-SHA256 payload
	// signature on webhook deliveries.
	SignatureHeader = "X-Hub-Signature-256"

	// SignatureHeaderSHA1 is the legacy HMAC-SHA1 signature header.
	// GitHub sends both; SHA-256 is preferred when present.
	SignatureHeaderSHA1 = "X-Hub-Signature"
)

// SignatureVerifier checks that webhook payloads were signed with a shared
// secret. Verification always runs over the exact raw request bytes; a
// re-serialized payload is not guaranteed byte-identical and would fail.
//
// SignatureVerifier is stateless apart from the secret and safe for
// concurrent use.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier creates a verifier for the given webhook secret.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Verify checks signature, a value of the form "sha256=<hex>" (or the
// legacy "sha1=<hex>"), against the HMAC digest of body under the
// configured secret. The comparison is constant-time.
//
// It returns ErrMissingSecret if the verifier has no secret,
// ErrMalformedSignature if the header is empty or not in the expected
// form, and ErrSignatureMismatch if the digests differ.
func (v *SignatureVerifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return ErrMissingSecret
	}
	if signature == "" {
		return errors.Wrap(ErrMalformedSignature, "no signature provided")
	}

	scheme, sigHex, ok := strings.Cut(signature, "=")
	if !ok {
		return errors.Wrapf(ErrMalformedSignature, "signature %q has no scheme", signature)
	}

	var newHash func() hash.Hash
	switch scheme {
	case "sha256":
		newHash = sha256.New
	case "sha1":
		newHash = sha1.New
	default:
		return errors.Wrapf(ErrMalformedSignature, "unsupported signature scheme %q", scheme)
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return errors.Wrap(ErrMalformedSignature, "signature is not valid hex")
	}

	mac := hmac.New(newHash, v.secret)
	_, _ = mac.Write(body)

	if !hmac.Equal(sig, mac.Sum(nil)) {
		return ErrSignatureMismatch
	}
	return nil
}

// SignBody computes the "sha256=<hex>" signature of body under secret. It
// is the inverse of Verify, useful for tests and for delivery replay
// tooling.
func SignBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
