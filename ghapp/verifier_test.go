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
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signSHA1(secret, body []byte) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestSignatureVerifier(t *testing.T) {
	secret := "such-secret"
	body := []byte(`{"action":"opened","number":1}`)

	tests := map[string]struct {
		Secret    string
		Body      []byte
		Signature string
		Err       error
	}{
		"validSHA256": {
			Secret:    secret,
			Body:      body,
			Signature: SignBody([]byte(secret), body),
		},
		"validSHA1": {
			Secret:    secret,
			Body:      body,
			Signature: signSHA1([]byte(secret), body),
		},
		"wrongSecret": {
			Secret:    secret,
			Body:      body,
			Signature: SignBody([]byte("other-secret"), body),
			Err:       ErrSignatureMismatch,
		},
		"missingSecret": {
			Secret:    "",
			Body:      body,
			Signature: SignBody([]byte(secret), body),
			Err:       ErrMissingSecret,
		},
		"missingHeader": {
			Secret: secret,
			Body:   body,
			Err:    ErrMalformedSignature,
		},
		"noScheme": {
			Secret:    secret,
			Body:      body,
			Signature: "0123456789abcdef",
			Err:       ErrMalformedSignature,
		},
		"unsupportedScheme": {
			Secret:    secret,
			Body:      body,
			Signature: "md5=0123456789abcdef",
			Err:       ErrMalformedSignature,
		},
		"notHex": {
			Secret:    secret,
			Body:      body,
			Signature: "sha256=this-is-not-hex",
			Err:       ErrMalformedSignature,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			v := NewSignatureVerifier(test.Secret)
			err := v.Verify(test.Body, test.Signature)
			if test.Err != nil {
				assert.ErrorIs(t, err, test.Err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSignatureVerifierByteFlip(t *testing.T) {
	secret := []byte("such-secret")
	body := []byte(`{"action":"opened","number":1}`)
	signature := SignBody(secret, body)

	v := NewSignatureVerifier(string(secret))
	require.NoError(t, v.Verify(body, signature))

	// flipping any single byte of the payload must break the signature
	for i := range body {
		flipped := append([]byte(nil), body...)
		flipped[i] ^= 0x01
		assert.ErrorIs(t, v.Verify(flipped, signature), ErrSignatureMismatch, "flipped byte %d", i)
	}
}
