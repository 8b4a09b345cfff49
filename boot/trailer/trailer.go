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

// Package trailer reads and writes the boot trailer and status-entry area
// that live at the tail of the primary, secondary, and scratch slots.  It
// only knows about bytes and offsets; the decision of what those bytes mean
// belongs to boot/decision and boot/swap.
//
// The trailer this package implements is the modern one: a fixed 8-byte
// record (copy-start magic, copy-done flag, image-ok flag) immediately
// preceded by a status-entry array. An older, ffs-file-backed trailer format
// existed in early Mynewt releases; it is not implemented here; see
// DESIGN.md.
package trailer

import (
	"encoding/binary"

	"mynewt.apache.org/bootcore/artifact/flash"
	"mynewt.apache.org/bootcore/util"
)

// ImgMagic is written to CopyStart to mark a slot as "swap me in".  It is
// never produced by erasing flash, so its presence is unambiguous evidence
// of an explicit pend/revert decision.
const ImgMagic uint32 = 0x12344321

// ErasedMagic is what CopyStart reads back as over freshly erased flash.
const ErasedMagic uint32 = 0xffffffff

// ErasedByte is what any other trailer or status byte reads back as over
// freshly erased flash.
const ErasedByte uint8 = 0xff

// StatusStateCount is the number of sub-steps (erase-scratch, erase-secondary,
// erase-primary) the swap engine records a byte for per sector group.
const StatusStateCount = 3

// MaxEntries bounds how many sector groups the status area can record
// progress for. It sizes the status area; swap plans with more groups than
// this cannot be resumed mid-swap and are rejected up front.
const MaxEntries = 128

// Img is the 8-byte record at the very end of a slot.
type Img struct {
	CopyStart uint32
	CopyDone  uint8
	ImageOK   uint8
	Pad       uint16
}

// Size is the encoded size of Img, in bytes.
const Size = 4 + 1 + 1 + 2

// StatusSize returns the byte length of the status-entry array that
// precedes the trailer, given the slot's write alignment.
func StatusSize(align int) int {
	if align < 1 {
		align = 1
	}
	return MaxEntries * StatusStateCount * align
}

// Accessor reads and writes the trailer and status area of a single flash
// area (primary, secondary, or scratch) through a Device.
type Accessor struct {
	Dev   flash.Device
	Area  flash.FlashArea
	Align int
}

func (a *Accessor) align() int {
	if a.Align < 1 {
		return 1
	}
	return a.Align
}

// trailerOffset is the device-relative offset of the 8-byte Img record.
func (a *Accessor) trailerOffset() int {
	return a.Area.Offset + a.Area.Size - Size
}

// statusOffset is the device-relative offset of the first status byte.
func (a *Accessor) statusOffset() int {
	return a.trailerOffset() - StatusSize(a.align())
}

// Read decodes the trailer currently on flash.
func (a *Accessor) Read() (Img, error) {
	buf := make([]byte, Size)
	if err := a.Dev.Read(a.Area.Device, a.trailerOffset(), buf); err != nil {
		return Img{}, util.FmtChildNewtError(err,
			"failed to read trailer from area %s", a.Area.Name)
	}

	var t Img
	t.CopyStart = binary.LittleEndian.Uint32(buf[0:4])
	t.CopyDone = buf[4]
	t.ImageOK = buf[5]
	t.Pad = binary.LittleEndian.Uint16(buf[6:8])
	return t, nil
}

// WriteMagic stamps CopyStart with ImgMagic. It is a no-op if the magic is
// already present, matching the hardware invariant that a slot can only be
// "pended" once per erase cycle.
func (a *Accessor) WriteMagic() error {
	cur, err := a.Read()
	if err != nil {
		return err
	}
	if cur.CopyStart == ImgMagic {
		return nil
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, ImgMagic)
	if err := a.Dev.Write(a.Area.Device, a.trailerOffset(), buf); err != nil {
		return util.FmtChildNewtError(err,
			"failed to write copy-start magic to area %s", a.Area.Name)
	}
	return nil
}

// WriteCopyDone stamps the copy-done byte.
func (a *Accessor) WriteCopyDone() error {
	off := a.trailerOffset() + 4
	if err := a.Dev.Write(a.Area.Device, off, []byte{0x01}); err != nil {
		return util.FmtChildNewtError(err,
			"failed to write copy-done flag to area %s", a.Area.Name)
	}
	return nil
}

// WriteImageOK stamps the image-ok byte.
func (a *Accessor) WriteImageOK() error {
	off := a.trailerOffset() + 5
	if err := a.Dev.Write(a.Area.Device, off, []byte{0x01}); err != nil {
		return util.FmtChildNewtError(err,
			"failed to write image-ok flag to area %s", a.Area.Name)
	}
	return nil
}

// WriteRevertFinal performs the revert finalization write: copy-start,
// copy-done, and image-ok all in a single Write call, matching the
// original's combined write so a power failure never observes copy-done set
// without image-ok also set.
func (a *Accessor) WriteRevertFinal() error {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:4], ImgMagic)
	buf[4] = 0x01
	buf[5] = 0x01
	binary.LittleEndian.PutUint16(buf[6:8], 0)

	if err := a.Dev.Write(a.Area.Device, a.trailerOffset(), buf); err != nil {
		return util.FmtChildNewtError(err,
			"failed to write revert trailer to area %s", a.Area.Name)
	}
	return nil
}

// ReadStatus scans the status-entry array and reports the furthest
// (idx, state) pair recorded. A freshly erased area (no non-erased status
// bytes at all) reports (0, 0): no swap has started.
func (a *Accessor) ReadStatus() (idx int, state int, err error) {
	align := a.align()
	base := a.statusOffset()
	buf := make([]byte, 1)

	found := -1
	for pos := 0; pos < MaxEntries*StatusStateCount; pos++ {
		if err := a.Dev.Read(a.Area.Device, base+pos*align, buf); err != nil {
			return 0, 0, util.FmtChildNewtError(err,
				"failed to read status byte %d from area %s", pos, a.Area.Name)
		}
		if buf[0] != ErasedByte {
			found = pos
		}
	}

	if found < 0 {
		return 0, 0, nil
	}
	return found / StatusStateCount, found % StatusStateCount, nil
}

// WriteStatus records that sector group idx has reached sub-step state. The
// byte value written is the state itself, which is always < StatusStateCount
// and therefore never collides with the erased-byte sentinel.
func (a *Accessor) WriteStatus(idx int, state int) error {
	if idx < 0 || idx >= MaxEntries {
		return util.FmtNewtError(
			"swap group index %d exceeds status area capacity (%d)", idx, MaxEntries)
	}

	align := a.align()
	pos := idx*StatusStateCount + state
	off := a.statusOffset() + pos*align

	if err := a.Dev.Write(a.Area.Device, off, []byte{byte(state)}); err != nil {
		return util.FmtChildNewtError(err,
			"failed to write status entry (idx=%d, state=%d) to area %s",
			idx, state, a.Area.Name)
	}
	return nil
}
