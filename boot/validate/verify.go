/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package validate

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"math/big"

	"golang.org/x/crypto/ed25519"

	"mynewt.apache.org/bootcore/artifact/image"
	"mynewt.apache.org/bootcore/util"
)

// TrustedKey is one public key the KeyVerifier will accept signatures from.
// Exactly one of the three fields is set.
type TrustedKey struct {
	Rsa     *rsa.PublicKey
	Ec      *ecdsa.PublicKey
	Ed25519 ed25519.PublicKey
}

// Hash is the same 4-byte truncated SHA256 the image tooling stamps into the
// KEYHASH TLV (see artifact/image.RawKeyHash), computed over the key's
// marshaled form.
func (k TrustedKey) Hash() ([]byte, error) {
	var der []byte
	var err error

	switch {
	case k.Rsa != nil:
		der, err = asn1.Marshal(*k.Rsa)
	case k.Ec != nil:
		der, err = x509.MarshalPKIXPublicKey(k.Ec)
	case k.Ed25519 != nil:
		der, err = x509.MarshalPKIXPublicKey(k.Ed25519)
	default:
		return nil, util.NewNewtError("trusted key has no public key material")
	}
	if err != nil {
		return nil, util.FmtChildNewtError(err, "failed to marshal trusted key")
	}

	sum := sha256.Sum256(der)
	return sum[:4], nil
}

// KeyVerifier is the stock Verifier implementation: a fixed ring of trusted
// public keys, matched by KEYHASH when present and tried exhaustively
// otherwise.
type KeyVerifier struct {
	Keys []TrustedKey
}

func (kv *KeyVerifier) candidates(keyHash []byte) ([]TrustedKey, error) {
	if len(keyHash) == 0 {
		return kv.Keys, nil
	}

	var out []TrustedKey
	for _, k := range kv.Keys {
		h, err := k.Hash()
		if err != nil {
			return nil, err
		}
		if bytesEqual(h, keyHash) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (kv *KeyVerifier) Verify(tlvType uint8, keyHash []byte, hash []byte, sig []byte) (bool, error) {
	candidates, err := kv.candidates(keyHash)
	if err != nil {
		return false, err
	}

	for _, k := range candidates {
		ok, err := verifyOne(tlvType, k, hash, sig)
		if err != nil {
			continue
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}

func verifyOne(tlvType uint8, k TrustedKey, hash []byte, sig []byte) (bool, error) {
	switch tlvType {
	case image.IMAGE_TLV_RSA2048:
		if k.Rsa == nil {
			return false, util.NewNewtError("key is not an RSA key")
		}
		err := rsa.VerifyPSS(k.Rsa, crypto.SHA256, hash, sig, nil)
		return err == nil, nil

	case image.IMAGE_TLV_ECDSA224, image.IMAGE_TLV_ECDSA256:
		if k.Ec == nil {
			return false, util.NewNewtError("key is not an ECDSA key")
		}
		var parsed struct {
			R *big.Int
			S *big.Int
		}
		if _, err := asn1.Unmarshal(sig, &parsed); err != nil {
			return false, util.FmtChildNewtError(err, "failed to parse ECDSA signature")
		}
		return ecdsa.Verify(k.Ec, hash, parsed.R, parsed.S), nil

	case image.IMAGE_TLV_ED25519:
		if k.Ed25519 == nil {
			return false, util.NewNewtError("key is not an Ed25519 key")
		}
		return ed25519.Verify(k.Ed25519, hash, sig), nil

	default:
		return false, util.FmtNewtError("unsupported signature TLV type 0x%02x", tlvType)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
