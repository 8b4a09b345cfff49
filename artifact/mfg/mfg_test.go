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

package mfg_test

import (
	"bytes"
	"strings"
	"testing"

	"mynewt.apache.org/bootcore/artifact/mfg"
)

func buildMfgImage(t *testing.T) []byte {
	t.Helper()

	hashTlv := mfg.MetaTlv{
		Header: mfg.MetaTlvHeader{Type: mfg.META_TLV_TYPE_HASH, Size: mfg.META_HASH_SZ},
		Data:   make([]byte, mfg.META_HASH_SZ),
	}
	meta := mfg.Meta{Tlvs: []mfg.MetaTlv{hashTlv}}
	meta.Footer = mfg.MetaFooter{
		Size:    uint16(meta.Size()),
		Version: mfg.META_VERSION,
		Pad8:    0xff,
		Magic:   mfg.META_MAGIC,
	}

	metaBin, err := meta.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	body := bytes.Repeat([]byte{0x11}, 256)
	return append(body, metaBin...)
}

func TestParseThenRecalcHashProducesAVerifiableImage(t *testing.T) {
	bin := buildMfgImage(t)

	m, err := mfg.Parse(bin, len(bin), 0xff)
	if err != nil {
		t.Fatal(err)
	}
	if m.Meta == nil {
		t.Fatal("expected Parse to find the meta region")
	}

	if err := m.RecalcHash(0xff); err != nil {
		t.Fatal(err)
	}
	recorded := append([]byte{}, m.Meta.Hash()...)
	if bytes.Equal(recorded, make([]byte, mfg.META_HASH_SZ)) {
		t.Fatal("RecalcHash should have filled in a non-zero hash")
	}

	// A second RecalcHash over the same content must reproduce exactly the
	// same hash -- it's a pure function of the image with the hash field
	// zeroed, not of the accumulated TLV mutation history.
	if err := m.RecalcHash(0xff); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(m.Meta.Hash(), recorded) {
		t.Fatal("RecalcHash should be idempotent given the same image contents")
	}

	got, err := m.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, recorded) {
		t.Fatal("Mfg.Hash() should return the recorded meta hash once one is present")
	}
}

func TestHashWithNoMetaFallsBackToWholeImageDigest(t *testing.T) {
	m := mfg.Mfg{Bin: bytes.Repeat([]byte{0x22}, 64)}

	h, err := m.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 32 {
		t.Fatalf("got hash length %d, want 32 (sha256)", len(h))
	}
}

func TestStripAndAddPaddingRoundTrip(t *testing.T) {
	body := []byte{0x01, 0x02, 0x03}
	padded := mfg.AddPadding(body, 0xff, 5)
	if len(padded) != 8 {
		t.Fatalf("got length %d, want 8", len(padded))
	}

	stripped := mfg.StripPadding(padded, 0xff)
	if !bytes.Equal(stripped, body) {
		t.Fatalf("StripPadding(%x) = %x, want %x", padded, stripped, body)
	}
}

func TestMetaJsonDescribesEveryTlv(t *testing.T) {
	bin := buildMfgImage(t)

	m, err := mfg.Parse(bin, len(bin), 0xff)
	if err != nil {
		t.Fatal(err)
	}

	j, err := m.Meta.Json(m.MetaOff + int(m.Meta.Footer.Size))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(j, "\"hash\"") {
		t.Fatalf("expected the hash TLV's type name in the dump, got:\n%s", j)
	}
}
