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

package image

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"hash"
	"io/ioutil"

	keywrap "github.com/NickBall/go-aes-key-wrap"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/pbkdf2"

	"mynewt.apache.org/bootcore/util"
)

// KeyPassword is consulted when ParsePrivateKey encounters a PKCS#8 key
// encrypted under PBES2 -- the format openssl produces with
// "pkcs8 -topk8 -v2 <cipher>". Left empty, an encrypted key fails to parse.
var KeyPassword []byte

var (
	oidPBES2      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 13}
	oidPBKDF2     = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 12}
	oidHMACSHA1   = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 7}
	oidHMACSHA224 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 8}
	oidHMACSHA256 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 9}
	oidHMACSHA384 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 10}
	oidHMACSHA512 = asn1.ObjectIdentifier{1, 2, 840, 113549, 2, 11}
	oidAES128CBC  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 2}
	oidAES192CBC  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 22}
	oidAES256CBC  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 42}
)

type encryptedPrivateKeyInfo struct {
	Algo          pkix.AlgorithmIdentifier
	EncryptedData []byte
}

type pbes2Params struct {
	Kdf    pkix.AlgorithmIdentifier
	Scheme pkix.AlgorithmIdentifier
}

type pbkdf2Params struct {
	Salt      []byte
	Iter      int
	KeyLength int                      `asn1:"optional"`
	Prf       pkix.AlgorithmIdentifier `asn1:"optional"`
}

func pbkdf2Hash(oid asn1.ObjectIdentifier) (func() hash.Hash, error) {
	switch {
	case len(oid) == 0, oid.Equal(oidHMACSHA1):
		return sha1.New, nil
	case oid.Equal(oidHMACSHA224):
		return sha256.New224, nil
	case oid.Equal(oidHMACSHA256):
		return sha256.New, nil
	case oid.Equal(oidHMACSHA384):
		return sha512.New384, nil
	case oid.Equal(oidHMACSHA512):
		return sha512.New, nil
	default:
		return nil, util.FmtNewtError("Unsupported PBKDF2 PRF: %v", oid)
	}
}

func aesKeySize(oid asn1.ObjectIdentifier) (int, error) {
	switch {
	case oid.Equal(oidAES128CBC):
		return 16, nil
	case oid.Equal(oidAES192CBC):
		return 24, nil
	case oid.Equal(oidAES256CBC):
		return 32, nil
	default:
		return 0, util.FmtNewtError("Unsupported PBES2 cipher: %v", oid)
	}
}

// parseEncryptedPrivateKey decrypts a PKCS#8 "ENCRYPTED PRIVATE KEY" block
// (PBES2 with a PBKDF2-derived key and an AES-CBC cipher) using
// KeyPassword, then parses the resulting PKCS#8 DER.
func parseEncryptedPrivateKey(der []byte) (interface{}, error) {
	var info encryptedPrivateKeyInfo
	if _, err := asn1.Unmarshal(der, &info); err != nil {
		return nil, util.FmtNewtError("Malformed EncryptedPrivateKeyInfo: %s", err)
	}
	if !info.Algo.Algorithm.Equal(oidPBES2) {
		return nil, util.NewNewtError("Only PBES2-encrypted PKCS#8 keys are supported")
	}

	var params pbes2Params
	if _, err := asn1.Unmarshal(info.Algo.Parameters.FullBytes, &params); err != nil {
		return nil, util.FmtNewtError("Malformed PBES2-params: %s", err)
	}
	if !params.Kdf.Algorithm.Equal(oidPBKDF2) {
		return nil, util.NewNewtError("Only PBKDF2 key derivation is supported")
	}

	var kdf pbkdf2Params
	if _, err := asn1.Unmarshal(params.Kdf.Parameters.FullBytes, &kdf); err != nil {
		return nil, util.FmtNewtError("Malformed PBKDF2-params: %s", err)
	}
	hashFunc, err := pbkdf2Hash(kdf.Prf.Algorithm)
	if err != nil {
		return nil, err
	}

	keySize, err := aesKeySize(params.Scheme.Algorithm)
	if err != nil {
		return nil, err
	}
	var iv []byte
	if _, err := asn1.Unmarshal(params.Scheme.Parameters.FullBytes, &iv); err != nil {
		return nil, util.FmtNewtError("Malformed cipher IV: %s", err)
	}

	derivedKey := pbkdf2.Key(KeyPassword, kdf.Salt, kdf.Iter, keySize, hashFunc)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, util.FmtNewtError("Failed to build AES cipher: %s", err)
	}
	if block.BlockSize() == 0 || len(info.EncryptedData)%block.BlockSize() != 0 ||
		len(iv) != block.BlockSize() {
		return nil, util.NewNewtError("Corrupt PBES2 ciphertext")
	}

	plain := make([]byte, len(info.EncryptedData))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, info.EncryptedData)

	padLen := int(plain[len(plain)-1])
	if padLen == 0 || padLen > block.BlockSize() || padLen > len(plain) {
		return nil, util.NewNewtError("Invalid PKCS#7 padding on decrypted key")
	}

	return x509.ParsePKCS8PrivateKey(plain[:len(plain)-padLen])
}

type ImageSigKey struct {
	// Only one of these members is non-nil.
	Rsa     *rsa.PrivateKey
	Ec      *ecdsa.PrivateKey
	Ed25519 ed25519.PrivateKey
}

func ParsePrivateKey(keyBytes []byte) (interface{}, error) {
	var privKey interface{}
	var err error

	block, data := pem.Decode(keyBytes)
	if block != nil && block.Type == "EC PARAMETERS" {
		/*
		 * Openssl prepends an EC PARAMETERS block before the
		 * key itself.  If we see this first, just skip it,
		 * and go on to the data block.
		 */
		block, _ = pem.Decode(data)
	}
	if block != nil && block.Type == "RSA PRIVATE KEY" {
		/*
		 * ParsePKCS1PrivateKey returns an RSA private key from its ASN.1
		 * PKCS#1 DER encoded form.
		 */
		privKey, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, util.FmtNewtError(
				"Private key parsing failed: %s", err)
		}
	}
	if block != nil && block.Type == "EC PRIVATE KEY" {
		/*
		 * ParseECPrivateKey returns a EC private key
		 */
		privKey, err = x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, util.FmtNewtError(
				"Private key parsing failed: %s", err)
		}
	}
	if block != nil && block.Type == "PRIVATE KEY" {
		// This indicates a PKCS#8 unencrypted private key.
		// The particular type of key will be indicated within
		// the key itself.
		privKey, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, util.FmtNewtError(
				"Private key parsing failed: %s", err)
		}
	}
	if block != nil && block.Type == "ENCRYPTED PRIVATE KEY" {
		// This indicates a PKCS#8 key wrapped with PKCS#5
		// encryption.
		privKey, err = parseEncryptedPrivateKey(block.Bytes)
		if err != nil {
			return nil, util.FmtNewtError("Unable to decode encrypted private key: %s", err)
		}
	}
	if privKey == nil {
		return nil, util.NewNewtError("Unknown private key format, EC/RSA private " +
			"key in PEM format only.")
	}

	return privKey, nil
}

// ParseSigKey turns the bytes of a PEM-encoded private key (optionally
// PBES2-encrypted; see KeyPassword) into a signing key of whichever kind
// it turns out to be.
func ParseSigKey(keyBytes []byte) (ImageSigKey, error) {
	key := ImageSigKey{}

	privKey, err := ParsePrivateKey(keyBytes)
	if err != nil {
		return key, err
	}

	switch priv := privKey.(type) {
	case *rsa.PrivateKey:
		key.Rsa = priv
	case *ecdsa.PrivateKey:
		key.Ec = priv
	case ed25519.PrivateKey:
		key.Ed25519 = priv
	case *ed25519.PrivateKey:
		key.Ed25519 = *priv
	default:
		return key, util.NewNewtError("Unknown private key format")
	}

	return key, nil
}

func ReadKey(filename string) (ImageSigKey, error) {
	keyBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return ImageSigKey{}, util.FmtNewtError("Error reading key file: %s", err)
	}

	return ParseSigKey(keyBytes)
}

func ReadKeys(filenames []string) ([]ImageSigKey, error) {
	keys := make([]ImageSigKey, len(filenames))

	for i, filename := range filenames {
		key, err := ReadKey(filename)
		if err != nil {
			return nil, err
		}

		keys[i] = key
	}

	return keys, nil
}

func (key *ImageSigKey) assertValid() {
	set := 0
	if key.Rsa != nil {
		set++
	}
	if key.Ec != nil {
		set++
	}
	if key.Ed25519 != nil {
		set++
	}
	if set != 1 {
		panic("invalid key; exactly one of RSA, ECC, or Ed25519 must be set")
	}
}

func (key *ImageSigKey) PubBytes() ([]uint8, error) {
	key.assertValid()

	var pubkey []byte

	switch {
	case key.Rsa != nil:
		pubkey, _ = asn1.Marshal(key.Rsa.PublicKey)
	case key.Ec != nil:
		switch key.Ec.Curve.Params().Name {
		case "P-224":
			fallthrough
		case "P-256":
			pubkey, _ = x509.MarshalPKIXPublicKey(&key.Ec.PublicKey)
		default:
			return nil, util.NewNewtError("Unsupported ECC curve")
		}
	case key.Ed25519 != nil:
		pub := key.Ed25519.Public().(ed25519.PublicKey)
		pubkey, _ = x509.MarshalPKIXPublicKey(pub)
	}

	return pubkey, nil
}

func RawKeyHash(pubKeyBytes []byte) []byte {
	sum := sha256.Sum256(pubKeyBytes)
	return sum[:4]
}

func (key *ImageSigKey) sigLen() uint16 {
	key.assertValid()

	switch {
	case key.Rsa != nil:
		return 256
	case key.Ed25519 != nil:
		return ed25519.SignatureSize
	default:
		switch key.Ec.Curve.Params().Name {
		case "P-224":
			return 68
		case "P-256":
			return 72
		default:
			return 0
		}
	}
}

func (key *ImageSigKey) sigTlvType() uint8 {
	key.assertValid()

	switch {
	case key.Rsa != nil:
		return IMAGE_TLV_RSA2048
	case key.Ed25519 != nil:
		return IMAGE_TLV_ED25519
	default:
		switch key.Ec.Curve.Params().Name {
		case "P-224":
			return IMAGE_TLV_ECDSA224
		case "P-256":
			return IMAGE_TLV_ECDSA256
		default:
			return 0
		}
	}
}

func parseEncKeyPem(keyBytes []byte, plainSecret []byte) ([]byte, error) {
	b, _ := pem.Decode(keyBytes)
	if b == nil {
		return nil, nil
	}

	if b.Type != "PUBLIC KEY" && b.Type != "RSA PUBLIC KEY" {
		return nil, util.NewNewtError("Invalid PEM file")
	}

	pub, err := x509.ParsePKIXPublicKey(b.Bytes)
	if err != nil {
		return nil, util.FmtNewtError(
			"Error parsing pubkey file: %s", err.Error())
	}

	var pubk *rsa.PublicKey
	switch pub.(type) {
	case *rsa.PublicKey:
		pubk = pub.(*rsa.PublicKey)
	default:
		return nil, util.FmtNewtError(
			"Error parsing pubkey file: %s", err.Error())
	}

	rng := rand.Reader
	cipherSecret, err := rsa.EncryptOAEP(
		sha256.New(), rng, pubk, plainSecret, nil)
	if err != nil {
		return nil, util.FmtNewtError(
			"Error from encryption: %s\n", err.Error())
	}

	return cipherSecret, nil
}

func parseEncKeyBase64(keyBytes []byte, plainSecret []byte) ([]byte, error) {
	kek, err := base64.StdEncoding.DecodeString(string(keyBytes))
	if err != nil {
		return nil, util.FmtNewtError(
			"Error decoding kek: %s", err.Error())
	}
	if len(kek) != 16 {
		return nil, util.FmtNewtError(
			"Unexpected key size: %d != 16", len(kek))
	}

	cipher, err := aes.NewCipher(kek)
	if err != nil {
		return nil, util.FmtNewtError(
			"Error creating keywrap cipher: %s", err.Error())
	}

	cipherSecret, err := keywrap.Wrap(cipher, plainSecret)
	if err != nil {
		return nil, util.FmtNewtError("Error key-wrapping: %s", err.Error())
	}

	return cipherSecret, nil
}

func ReadEncKey(filename string, plainSecret []byte) ([]byte, error) {
	keyBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, util.FmtNewtError(
			"Error reading pubkey file: %s", err.Error())
	}

	// Try reading as PEM (asymetric key).
	cipherSecret, err := parseEncKeyPem(keyBytes, plainSecret)
	if err != nil {
		return nil, err
	}
	if cipherSecret != nil {
		return cipherSecret, nil
	}

	// Not PEM; assume this is a base64 encoded symetric key
	cipherSecret, err = parseEncKeyBase64(keyBytes, plainSecret)
	if err != nil {
		return nil, err
	}

	return cipherSecret, nil
}
