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

// Package decision turns the raw trailer bytes of a slot pair into a swap
// decision. It is pure: no flash I/O, no side effects, just table lookups
// over trailer.Img values. Both tables are literal data, matched top to
// bottom with 0 acting as a wildcard field; this mirrors the row layout the
// boot loader this core is modeled on used, rather than an if/else cascade,
// so adding a new combination is a one-line table edit.
package decision

import (
	"mynewt.apache.org/bootcore/boot/trailer"
	"mynewt.apache.org/bootcore/util"
)

type SwapType int

const (
	SwapNone SwapType = iota
	SwapTest
	SwapRevert
	SwapPermanent
)

func (t SwapType) String() string {
	switch t {
	case SwapNone:
		return "none"
	case SwapTest:
		return "test"
	case SwapRevert:
		return "revert"
	case SwapPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

type StatusSource int

const (
	StatusSourceNone StatusSource = iota
	StatusSourcePrimarySlot
	StatusSourceScratch
)

func (s StatusSource) String() string {
	switch s {
	case StatusSourceNone:
		return "none"
	case StatusSourcePrimarySlot:
		return "primary"
	case StatusSourceScratch:
		return "scratch"
	default:
		return "unknown"
	}
}

// swapTypeRow is one line of the swap-type table. A zero field is a
// wildcard: it matches any trailer value in that column.
type swapTypeRow struct {
	magicPrimary   uint32
	magicSecondary uint32
	imageOkPrimary uint8
	swapType       SwapType
}

var swapTypeTable = []swapTypeRow{
	// Nothing pending anywhere: boot the primary slot as-is.
	{trailer.ErasedMagic, trailer.ErasedMagic, 0, SwapNone},
	// Secondary is pended, whatever the primary holds: a fresh test swap.
	{0, trailer.ImgMagic, 0, SwapTest},
	// Primary carries copy-start but was never confirmed: revert.
	{trailer.ImgMagic, trailer.ErasedMagic, trailer.ErasedByte, SwapRevert},
	// Primary carries copy-start and was confirmed: stays put, permanently.
	{trailer.ImgMagic, trailer.ErasedMagic, 0x01, SwapNone},
}

// SwapTypeOf classifies a trailer pair. An unmatched combination is treated
// as a fatal inconsistency rather than silently defaulting to SwapNone: it
// means the two trailers disagree about the boot history in a way none of
// the known scenarios produce, and guessing would risk swapping in an image
// that was never actually copied.
func SwapTypeOf(primary, secondary trailer.Img) (SwapType, error) {
	for _, row := range swapTypeTable {
		if !matches32(row.magicPrimary, primary.CopyStart) {
			continue
		}
		if !matches32(row.magicSecondary, secondary.CopyStart) {
			continue
		}
		if !matches8(row.imageOkPrimary, primary.ImageOK) {
			continue
		}
		return row.swapType, nil
	}

	return 0, util.FmtNewtError(
		"inconsistent trailer state: no swap-type rule matches "+
			"(primary copy-start=0x%08x image-ok=0x%02x, secondary copy-start=0x%08x)",
		primary.CopyStart, primary.ImageOK, secondary.CopyStart)
}

// statusSourceRow is one line of the status-source table.
type statusSourceRow struct {
	magicPrimary uint32
	magicScratch uint32
	copyDonePrim uint8
	statusSource StatusSource
}

var statusSourceTable = []statusSourceRow{
	{trailer.ImgMagic, 0, 0x01, StatusSourceNone},
	{trailer.ImgMagic, 0, trailer.ErasedByte, StatusSourcePrimarySlot},
	{0, trailer.ImgMagic, 0, StatusSourceScratch},
	{trailer.ErasedMagic, 0, trailer.ErasedByte, StatusSourcePrimarySlot},
}

// StatusSourceOf decides which trailer's status-entry array (if either) is
// authoritative for resuming a partial swap.
func StatusSourceOf(primary, scratch trailer.Img) (StatusSource, error) {
	for _, row := range statusSourceTable {
		if !matches32(row.magicPrimary, primary.CopyStart) {
			continue
		}
		if !matches32(row.magicScratch, scratch.CopyStart) {
			continue
		}
		if !matches8(row.copyDonePrim, primary.CopyDone) {
			continue
		}
		return row.statusSource, nil
	}

	return 0, util.FmtNewtError(
		"inconsistent trailer state: no status-source rule matches "+
			"(primary copy-start=0x%08x copy-done=0x%02x, scratch copy-start=0x%08x)",
		primary.CopyStart, primary.CopyDone, scratch.CopyStart)
}

// PartialSwapType remaps the swap type recorded before a reset interrupted a
// swap already in progress. A swap that was underway always finishes: NONE
// becomes REVERT (the copy was already moving the old primary image back
// out) and REVERT becomes TEST (so the far side gets one more boot to prove
// itself). Any other persisted type mid-swap is a logic error upstream.
func PartialSwapType(t SwapType) (SwapType, error) {
	switch t {
	case SwapNone:
		return SwapRevert, nil
	case SwapRevert:
		return SwapTest, nil
	default:
		return 0, util.FmtNewtError(
			"swap type %s cannot be in progress; status area is corrupt", t)
	}
}

func matches32(wildcardOrValue uint32, actual uint32) bool {
	return wildcardOrValue == 0 || wildcardOrValue == actual
}

func matches8(wildcardOrValue uint8, actual uint8) bool {
	return wildcardOrValue == 0 || wildcardOrValue == actual
}
