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

// Package flashsim is an in-memory stand-in for a device's flash chip, used
// by the simulator CLI and by every boot/* package's tests in place of real
// hardware. It enforces the one invariant the whole swap engine depends on:
// a byte can only move away from its erased value through an explicit Write,
// and Write refuses to set a bit that's already clear, mirroring how NOR
// flash actually behaves.
package flashsim

import (
	"sort"

	"mynewt.apache.org/bootcore/artifact/flash"
	"mynewt.apache.org/bootcore/util"
)

const erasedByte = 0xff

// Device is an in-memory flash.Device. Each logical device index in use gets
// its own backing byte slice, sized on first access.
type Device struct {
	align int
	mem   map[int][]byte
}

func NewDevice(align int) *Device {
	if align < 1 {
		align = 1
	}
	return &Device{align: align, mem: make(map[int][]byte)}
}

func (d *Device) bank(deviceId int, minLen int) []byte {
	b := d.mem[deviceId]
	if len(b) < minLen {
		grown := make([]byte, minLen)
		for i := range grown {
			grown[i] = erasedByte
		}
		copy(grown, b)
		d.mem[deviceId] = grown
		b = grown
	}
	return b
}

func (d *Device) Read(deviceId int, offset int, buf []byte) error {
	b := d.bank(deviceId, offset+len(buf))
	copy(buf, b[offset:offset+len(buf)])
	return nil
}

// Write enforces the one constraint real NOR flash imposes: a write can only
// clear bits, never set them. Rewriting a location with the same value (or
// any value that is a subset of the bits already set) is fine; trying to
// resurrect a bit that a previous write already cleared is not.
func (d *Device) Write(deviceId int, offset int, buf []byte) error {
	b := d.bank(deviceId, offset+len(buf))
	for i, v := range buf {
		cur := b[offset+i]
		if v&^cur != 0 {
			return util.FmtNewtError(
				"write to device %d offset %d: would set a bit that is already clear",
				deviceId, offset+i)
		}
		b[offset+i] = v
	}
	return nil
}

func (d *Device) Erase(deviceId int, offset int, size int) error {
	b := d.bank(deviceId, offset+size)
	for i := offset; i < offset+size; i++ {
		b[i] = erasedByte
	}
	return nil
}

func (d *Device) Align(deviceId int) int {
	return d.align
}

// AreaTable is a literal, fixed-layout flash.AreaTable: the board's logical
// areas plus a declared sector size used to slice the primary and secondary
// slots into the groups the swap engine iterates over.
type AreaTable struct {
	Areas      map[int]flash.FlashArea
	SectorSize int
}

func NewAreaTable(sectorSize int) *AreaTable {
	return &AreaTable{Areas: make(map[int]flash.FlashArea), SectorSize: sectorSize}
}

func (t *AreaTable) Add(area flash.FlashArea) {
	t.Areas[area.Id] = area
}

func (t *AreaTable) Open(id int) (flash.FlashArea, error) {
	a, ok := t.Areas[id]
	if !ok {
		return flash.FlashArea{}, util.FmtNewtError("no flash area with id %d", id)
	}
	return a, nil
}

// Sectors slices the named area into SectorSize-aligned pieces. The final
// sector is truncated if the area size isn't an exact multiple.
func (t *AreaTable) Sectors(id int) ([]flash.FlashArea, error) {
	area, err := t.Open(id)
	if err != nil {
		return nil, err
	}
	if t.SectorSize < 1 {
		return nil, util.NewNewtError("area table has no sector size configured")
	}

	var sectors []flash.FlashArea
	for off := 0; off < area.Size; off += t.SectorSize {
		size := t.SectorSize
		if off+size > area.Size {
			size = area.Size - off
		}
		sectors = append(sectors, flash.FlashArea{
			Name:   area.Name,
			Id:     area.Id,
			Device: area.Device,
			Offset: area.Offset + off,
			Size:   size,
		})
	}
	return sectors, nil
}

// Ids returns the area table's logical IDs in ascending order, used by
// diagnostics that want to walk the whole board layout.
func (t *AreaTable) Ids() []int {
	ids := make([]int, 0, len(t.Areas))
	for id := range t.Areas {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Validate checks the table's areas for overlapping offset ranges and
// duplicate IDs, the two mistakes a hand-edited board layout is most prone
// to. It has no opinion on which areas are present -- callers that need a
// primary/secondary/scratch slot all check that for themselves.
func (t *AreaTable) Validate() error {
	areas := make([]flash.FlashArea, 0, len(t.Areas))
	for _, id := range t.Ids() {
		areas = append(areas, t.Areas[id])
	}

	overlaps, conflicts := flash.DetectErrors(areas)
	if len(overlaps) == 0 && len(conflicts) == 0 {
		return nil
	}
	return util.NewNewtError(flash.ErrorText(overlaps, conflicts))
}
