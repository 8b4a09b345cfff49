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

package boot_test

import (
	"bytes"
	"testing"

	"mynewt.apache.org/bootcore/artifact/flash"
	"mynewt.apache.org/bootcore/artifact/image"
	"mynewt.apache.org/bootcore/boot"
	"mynewt.apache.org/bootcore/boot/flashsim"
)

const slotSize = 2048

func buildImage(t *testing.T, major uint8) []byte {
	t.Helper()

	ic := image.NewImageCreator()
	ic.Version = image.ImageVersion{Major: major}
	ic.Body = bytes.Repeat([]byte{major}, 256)

	img, err := ic.Create()
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := img.Write(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newFixture(t *testing.T) (*flashsim.Device, *flashsim.AreaTable) {
	t.Helper()

	dev := flashsim.NewDevice(1)
	table := flashsim.NewAreaTable(slotSize)
	table.Add(flash.FlashArea{Id: flash.AreaIdPrimary, Name: flash.FLASH_AREA_NAME_IMAGE_0, Device: 0, Offset: 0, Size: slotSize})
	table.Add(flash.FlashArea{Id: flash.AreaIdSecondary, Name: flash.FLASH_AREA_NAME_IMAGE_1, Device: 0, Offset: slotSize, Size: slotSize})
	table.Add(flash.FlashArea{Id: flash.AreaIdScratch, Name: flash.FLASH_AREA_NAME_IMAGE_SCRATCH, Device: 0, Offset: 2 * slotSize, Size: slotSize})

	return dev, table
}

// TestGoRunsATestSwapThenStaysPutOnceConfirmed exercises a full test-then-
// confirm cycle end to end: a pended secondary image swaps into the primary
// slot on the next reset, and a second reset without confirmation would
// revert it -- but here we confirm it, so the swapped-in image stays.
func TestGoRunsATestSwapThenStaysPutOnceConfirmed(t *testing.T) {
	dev, table := newFixture(t)

	primaryBin := buildImage(t, 1)
	secondaryBin := buildImage(t, 2)

	if err := dev.Write(0, 0, primaryBin); err != nil {
		t.Fatal(err)
	}
	if err := dev.Write(0, slotSize, secondaryBin); err != nil {
		t.Fatal(err)
	}

	req := &boot.Request{Dev: dev, Table: table, BufSz: 64}

	if err := boot.SetPending(req); err != nil {
		t.Fatal(err)
	}

	resp, err := boot.Go(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.SwapType.String() != "test" {
		t.Fatalf("SwapType = %s, want test", resp.SwapType)
	}
	if resp.Header.Vers.Major != 2 {
		t.Fatalf("booted version major = %d, want 2 (the swapped-in image)", resp.Header.Vers.Major)
	}

	if err := boot.SetConfirmed(req); err != nil {
		t.Fatal(err)
	}

	resp2, err := boot.Go(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp2.SwapType.String() != "none" {
		t.Fatalf("SwapType on the confirmed boot = %s, want none", resp2.SwapType)
	}
	if resp2.Header.Vers.Major != 2 {
		t.Fatalf("booted version major = %d, want 2 (unchanged, already confirmed)", resp2.Header.Vers.Major)
	}
}

// TestGoErasesAnInvalidCandidateAndFallsBack covers a secondary slot pended
// with a corrupt image: it is never swapped in, the loader falls back to
// the still-good primary image, and the bad candidate is wiped so a later
// reset doesn't keep retrying it.
func TestGoErasesAnInvalidCandidateAndFallsBack(t *testing.T) {
	dev, table := newFixture(t)

	primaryBin := buildImage(t, 1)
	secondaryBin := buildImage(t, 2)
	// Corrupt a body byte so the secondary image's SHA256 TLV no longer
	// matches.
	secondaryBin[40] ^= 0xff

	if err := dev.Write(0, 0, primaryBin); err != nil {
		t.Fatal(err)
	}
	if err := dev.Write(0, slotSize, secondaryBin); err != nil {
		t.Fatal(err)
	}

	req := &boot.Request{Dev: dev, Table: table, BufSz: 64}
	if err := boot.SetPending(req); err != nil {
		t.Fatal(err)
	}

	resp, err := boot.Go(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.SwapType.String() != "none" {
		t.Fatalf("SwapType = %s, want none (corrupt candidate rejected)", resp.SwapType)
	}
	if resp.Header.Vers.Major != 1 {
		t.Fatalf("booted version major = %d, want 1 (stayed on the good primary image)", resp.Header.Vers.Major)
	}

	secondaryArea, err := table.Open(flash.AreaIdSecondary)
	if err != nil {
		t.Fatal(err)
	}
	erased := make([]byte, secondaryArea.Size)
	if err := dev.Read(secondaryArea.Device, secondaryArea.Offset, erased); err != nil {
		t.Fatal(err)
	}
	for i, b := range erased {
		if b != 0xff {
			t.Fatalf("secondary slot byte %d = 0x%02x, want erased (0xff) after the invalid image was wiped", i, b)
		}
	}
}

func TestGoWithNothingPendedBootsPrimaryUnchanged(t *testing.T) {
	dev, table := newFixture(t)

	primaryBin := buildImage(t, 1)
	if err := dev.Write(0, 0, primaryBin); err != nil {
		t.Fatal(err)
	}

	req := &boot.Request{Dev: dev, Table: table, BufSz: 64}
	resp, err := boot.Go(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.SwapType.String() != "none" {
		t.Fatalf("SwapType = %s, want none", resp.SwapType)
	}
	if resp.Header.Vers.Major != 1 {
		t.Fatalf("booted version major = %d, want 1", resp.Header.Vers.Major)
	}
}
