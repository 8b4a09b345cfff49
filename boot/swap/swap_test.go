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

package swap_test

import (
	"bytes"
	"testing"

	"mynewt.apache.org/bootcore/artifact/flash"
	"mynewt.apache.org/bootcore/boot/flashsim"
	"mynewt.apache.org/bootcore/boot/swap"
	"mynewt.apache.org/bootcore/boot/trailer"
)

const sectorSize = 1024
const slotSize = 2 * sectorSize
const scratchSize = sectorSize

// metaSize mirrors swap.Engine's unexported metaSize() for a trailer with no
// write-alignment padding, so tests can predict exactly which tail bytes of
// the end-area group are left untouched by the secondary-bound copy.
var metaSize = trailer.Size + trailer.StatusSize(1)

func sectorsOf(device, offset, size int, name string, id int) []flash.FlashArea {
	return []flash.FlashArea{
		{Id: id, Name: name, Device: device, Offset: offset, Size: sectorSize},
		{Id: id, Name: name, Device: device, Offset: offset + sectorSize, Size: sectorSize},
	}
}

func TestPlanGroupsSectorsInReverseOrder(t *testing.T) {
	primary := sectorsOf(0, 0, slotSize, flash.FLASH_AREA_NAME_IMAGE_0, flash.AreaIdPrimary)
	secondary := sectorsOf(0, slotSize, slotSize, flash.FLASH_AREA_NAME_IMAGE_1, flash.AreaIdSecondary)
	scratch := flash.FlashArea{Id: flash.AreaIdScratch, Device: 0, Offset: 2 * slotSize, Size: scratchSize}

	groups, err := swap.Plan(primary, secondary, scratch)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	if !groups[0].EndArea {
		t.Fatal("group 0 should be the end-area group (nearest the trailer)")
	}
	if groups[0].PrimaryOffset != sectorSize {
		t.Fatalf("group 0 PrimaryOffset = %d, want %d (the last sector)", groups[0].PrimaryOffset, sectorSize)
	}
	if groups[1].PrimaryOffset != 0 {
		t.Fatalf("group 1 PrimaryOffset = %d, want 0 (the first sector)", groups[1].PrimaryOffset)
	}
	if groups[1].EndArea {
		t.Fatal("only group 0 should be the end-area group")
	}
}

func TestPlanRejectsSectorCountMismatch(t *testing.T) {
	primary := sectorsOf(0, 0, slotSize, flash.FLASH_AREA_NAME_IMAGE_0, flash.AreaIdPrimary)
	secondary := primary[:1]
	scratch := flash.FlashArea{Size: scratchSize}

	if _, err := swap.Plan(primary, secondary, scratch); err == nil {
		t.Fatal("expected an error when primary and secondary have different sector counts")
	}
}

func TestPlanRejectsSectorLargerThanScratch(t *testing.T) {
	primary := []flash.FlashArea{{Device: 0, Offset: 0, Size: 4096}}
	secondary := []flash.FlashArea{{Device: 0, Offset: 4096, Size: 4096}}
	scratch := flash.FlashArea{Size: 1024}

	if _, err := swap.Plan(primary, secondary, scratch); err == nil {
		t.Fatal("expected an error when a sector is larger than the scratch area")
	}
}

func fixture(t *testing.T) (*flashsim.Device, flash.FlashArea, flash.FlashArea, flash.FlashArea) {
	t.Helper()

	dev := flashsim.NewDevice(1)
	primary := flash.FlashArea{Id: flash.AreaIdPrimary, Name: flash.FLASH_AREA_NAME_IMAGE_0, Device: 0, Offset: 0, Size: slotSize}
	secondary := flash.FlashArea{Id: flash.AreaIdSecondary, Name: flash.FLASH_AREA_NAME_IMAGE_1, Device: 0, Offset: slotSize, Size: slotSize}
	scratch := flash.FlashArea{Id: flash.AreaIdScratch, Name: flash.FLASH_AREA_NAME_IMAGE_SCRATCH, Device: 0, Offset: 2 * slotSize, Size: scratchSize}
	return dev, primary, secondary, scratch
}

// TestEngineRunSwapsFullSlotsExceptTheWithheldTrailerTail drives a full,
// uninterrupted Run over a two-group plan and checks the exact byte-level
// outcome the three-substep group runner promises: a full exchange of both
// sectors, except that the secondary slot's copy of the end-area group's
// trailer/status tail is left erased rather than overwritten with the
// primary's old trailer -- that tail only ever gets written again once this
// slot is itself pended in a future swap.
func TestEngineRunSwapsFullSlotsExceptTheWithheldTrailerTail(t *testing.T) {
	dev, primary, secondary, scratch := fixture(t)

	primaryBytes := bytes.Repeat([]byte{0xaa}, slotSize)
	secondaryBytes := bytes.Repeat([]byte{0x55}, slotSize)
	if err := dev.Write(0, primary.Offset, primaryBytes); err != nil {
		t.Fatal(err)
	}
	if err := dev.Write(0, secondary.Offset, secondaryBytes); err != nil {
		t.Fatal(err)
	}

	primarySectors := sectorsOf(0, 0, slotSize, flash.FLASH_AREA_NAME_IMAGE_0, flash.AreaIdPrimary)
	secondarySectors := sectorsOf(0, slotSize, slotSize, flash.FLASH_AREA_NAME_IMAGE_1, flash.AreaIdSecondary)
	groups, err := swap.Plan(primarySectors, secondarySectors, scratch)
	if err != nil {
		t.Fatal(err)
	}

	engine := &swap.Engine{
		Dev:            dev,
		BufSz:          37, // deliberately doesn't divide the sector size evenly
		PrimaryTrailer: &trailer.Accessor{Dev: dev, Area: primary, Align: 1},
		ScratchTrailer: &trailer.Accessor{Dev: dev, Area: scratch, Align: 1},
	}

	if err := engine.Run(groups, 0, 0); err != nil {
		t.Fatal(err)
	}

	gotPrimary := make([]byte, slotSize)
	if err := dev.Read(0, primary.Offset, gotPrimary); err != nil {
		t.Fatal(err)
	}
	gotSecondary := make([]byte, slotSize)
	if err := dev.Read(0, secondary.Offset, gotSecondary); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(gotPrimary, secondaryBytes) {
		t.Fatal("primary slot should end up holding the full original secondary contents")
	}

	withheld := slotSize - metaSize
	if !bytes.Equal(gotSecondary[:withheld], primaryBytes[:withheld]) {
		t.Fatal("secondary slot should hold the original primary contents outside the withheld tail")
	}
	for i := withheld; i < slotSize; i++ {
		if gotSecondary[i] != 0xff {
			t.Fatalf("secondary byte %d = 0x%02x, want erased (0xff) in the withheld trailer tail", i, gotSecondary[i])
		}
	}
}

// TestEngineRunResumesFromRecordedStatus confirms that a Run restarted with
// the (idx, state) a prior attempt got to before being interrupted lands on
// the exact same final state as an uninterrupted Run -- the whole point of
// recording status per sub-step.
func TestEngineRunResumesFromRecordedStatus(t *testing.T) {
	dev, primary, secondary, scratch := fixture(t)

	primaryBytes := bytes.Repeat([]byte{0xaa}, slotSize)
	secondaryBytes := bytes.Repeat([]byte{0x55}, slotSize)
	if err := dev.Write(0, primary.Offset, primaryBytes); err != nil {
		t.Fatal(err)
	}
	if err := dev.Write(0, secondary.Offset, secondaryBytes); err != nil {
		t.Fatal(err)
	}

	primarySectors := sectorsOf(0, 0, slotSize, flash.FLASH_AREA_NAME_IMAGE_0, flash.AreaIdPrimary)
	secondarySectors := sectorsOf(0, slotSize, slotSize, flash.FLASH_AREA_NAME_IMAGE_1, flash.AreaIdSecondary)
	groups, err := swap.Plan(primarySectors, secondarySectors, scratch)
	if err != nil {
		t.Fatal(err)
	}

	engine := &swap.Engine{
		Dev:            dev,
		BufSz:          256,
		PrimaryTrailer: &trailer.Accessor{Dev: dev, Area: primary, Align: 1},
		ScratchTrailer: &trailer.Accessor{Dev: dev, Area: scratch, Align: 1},
	}

	// Run only the first group (idx 0), as if power was lost right after.
	if err := engine.Run(groups[:1], 0, 0); err != nil {
		t.Fatal(err)
	}

	resumeIdx, resumeState, err := engine.PrimaryTrailer.ReadStatus()
	if err != nil {
		t.Fatal(err)
	}
	if resumeIdx != 1 || resumeState != 0 {
		t.Fatalf("recorded resume point = (%d, %d), want (1, 0) after group 0 completes", resumeIdx, resumeState)
	}

	// Resume with the full plan from the recorded point; group 0's work
	// must not be redone (it already erased/copied scratch, which a second
	// blind pass would stumble over).
	if err := engine.Run(groups, resumeIdx, resumeState); err != nil {
		t.Fatal(err)
	}

	gotPrimary := make([]byte, slotSize)
	if err := dev.Read(0, primary.Offset, gotPrimary); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotPrimary, secondaryBytes) {
		t.Fatal("resumed run should reach the same fully-swapped primary contents")
	}
}
