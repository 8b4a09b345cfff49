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

package validate_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/ed25519"

	"mynewt.apache.org/bootcore/artifact/flash"
	"mynewt.apache.org/bootcore/artifact/image"
	"mynewt.apache.org/bootcore/boot/flashsim"
	"mynewt.apache.org/bootcore/boot/validate"
)

const areaSize = 2048

func area() flash.FlashArea {
	return flash.FlashArea{Id: flash.AreaIdPrimary, Name: flash.FLASH_AREA_NAME_IMAGE_0, Device: 0, Offset: 0, Size: areaSize}
}

func writeImage(t *testing.T, dev *flashsim.Device, ic image.ImageCreator) {
	t.Helper()

	img, err := ic.Create()
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if _, err := img.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if err := dev.Write(0, 0, buf.Bytes()); err != nil {
		t.Fatal(err)
	}
}

func TestValidateAcceptsAWellFormedUnsignedImage(t *testing.T) {
	dev := flashsim.NewDevice(1)

	ic := image.NewImageCreator()
	ic.Body = bytes.Repeat([]byte{0x42}, 128)

	writeImage(t, dev, ic)

	v := &validate.Validator{Dev: dev, BufSz: 32}
	result, err := v.Validate(area(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Header.Magic != image.IMAGE_MAGIC {
		t.Fatalf("Header.Magic = 0x%x, want image magic", result.Header.Magic)
	}
	if len(result.Hash) != 32 {
		t.Fatalf("Hash length = %d, want 32 (sha256)", len(result.Hash))
	}
}

func TestValidateRejectsCorruptBody(t *testing.T) {
	dev := flashsim.NewDevice(1)

	ic := image.NewImageCreator()
	ic.Body = bytes.Repeat([]byte{0x42}, 128)

	img, err := ic.Create()
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if _, err := img.Write(&buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	raw[image.IMAGE_HEADER_SIZE] ^= 0xff
	if err := dev.Write(0, 0, raw); err != nil {
		t.Fatal(err)
	}

	v := &validate.Validator{Dev: dev, BufSz: 32}
	if _, err := v.Validate(area(), nil); err == nil {
		t.Fatal("expected a hash mismatch error for a corrupted body")
	}
}

func TestValidateRejectsEmptySlot(t *testing.T) {
	dev := flashsim.NewDevice(1)
	v := &validate.Validator{Dev: dev, BufSz: 32}

	if _, err := v.Validate(area(), nil); err != validate.ErrNoImage {
		t.Fatalf("got err %v, want ErrNoImage", err)
	}
}

func TestValidateChainsSeedForSplitImages(t *testing.T) {
	dev1 := flashsim.NewDevice(1)
	dev2 := flashsim.NewDevice(1)

	ic := image.NewImageCreator()
	ic.Body = bytes.Repeat([]byte{0x07}, 64)

	writeImage(t, dev1, ic)

	// The seeded copy is built with the same seed, as a split app is built
	// against its loader's hash.
	seed := []byte("a loader hash")
	icSeeded := image.NewImageCreator()
	icSeeded.Body = ic.Body
	icSeeded.InitialHash = seed
	writeImage(t, dev2, icSeeded)

	v := &validate.Validator{Dev: dev1, BufSz: 16}
	plain, err := v.Validate(area(), nil)
	if err != nil {
		t.Fatal(err)
	}

	v2 := &validate.Validator{Dev: dev2, BufSz: 16}
	seeded, err := v2.Validate(area(), seed)
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(plain.Hash, seeded.Hash) {
		t.Fatal("seeding the hash with a loader hash should change the computed digest")
	}
}

func TestValidateRejectsUnverifiableSignature(t *testing.T) {
	dev := flashsim.NewDevice(1)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	ic := image.NewImageCreator()
	ic.Body = bytes.Repeat([]byte{0x09}, 64)
	ic.SigKeys = []image.ImageSigKey{{Ed25519: priv}}

	writeImage(t, dev, ic)

	// No Verifier configured: a signed image with nothing to check it
	// against must not boot.
	v := &validate.Validator{Dev: dev, BufSz: 32}
	if _, err := v.Validate(area(), nil); err == nil {
		t.Fatal("expected an error validating a signed image with no verifier configured")
	}
}

func TestValidateAcceptsAValidEd25519Signature(t *testing.T) {
	dev := flashsim.NewDevice(1)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	ic := image.NewImageCreator()
	ic.Body = bytes.Repeat([]byte{0x09}, 64)
	ic.SigKeys = []image.ImageSigKey{{Ed25519: priv}}

	writeImage(t, dev, ic)

	kv := &validate.KeyVerifier{Keys: []validate.TrustedKey{{Ed25519: pub}}}
	v := &validate.Validator{Dev: dev, BufSz: 32, Verifier: kv}

	if _, err := v.Validate(area(), nil); err != nil {
		t.Fatal(err)
	}
}

func TestKeyVerifierRejectsWhenNoTrustedKeyMatchesTheKeyhash(t *testing.T) {
	dev := flashsim.NewDevice(1)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	ic := image.NewImageCreator()
	ic.Body = bytes.Repeat([]byte{0x0a}, 64)
	ic.SigKeys = []image.ImageSigKey{{Ed25519: priv}}

	writeImage(t, dev, ic)

	// The ring only knows about an unrelated key, so the image's KEYHASH
	// TLV matches nothing in it.
	kv := &validate.KeyVerifier{Keys: []validate.TrustedKey{{Ed25519: otherPub}}}
	v := &validate.Validator{Dev: dev, BufSz: 32, Verifier: kv}

	if _, err := v.Validate(area(), nil); err == nil {
		t.Fatal("expected signature verification to fail against an unrelated trusted key")
	}
}

func TestTrustedKeyHashMatchesTheImageToolingsKeyhashTlv(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	sigKey := image.ImageSigKey{Ed25519: priv}
	pubBytes, err := sigKey.PubBytes()
	if err != nil {
		t.Fatal(err)
	}
	want := image.RawKeyHash(pubBytes)

	tk := validate.TrustedKey{Ed25519: pub}
	got, err := tk.Hash()
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(got, want) {
		t.Fatalf("TrustedKey.Hash() = %x, want %x (the same hash image.BuildKeyHashTlv embeds)", got, want)
	}
}
