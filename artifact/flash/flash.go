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

// Package flash models a board's flash layout: named, offset areas (slots,
// scratch, the bootloader's own region) and the sanity checks a layout built
// from a scenario file or a manufacturing meta region needs before the boot
// core trusts it. AreaIdPrimary/Secondary/Scratch/Bootloader and the Device
// contract this package's areas are read and written through live in
// device.go.
package flash

import (
	"fmt"
	"sort"
)

const FLASH_AREA_NAME_BOOTLOADER = "FLASH_AREA_BOOTLOADER"
const FLASH_AREA_NAME_IMAGE_0 = "FLASH_AREA_IMAGE_0"
const FLASH_AREA_NAME_IMAGE_1 = "FLASH_AREA_IMAGE_1"
const FLASH_AREA_NAME_IMAGE_SCRATCH = "FLASH_AREA_IMAGE_SCRATCH"

// FlashArea is a single named region of a flash device: a slot, scratch, or
// the bootloader's own area. Offset and Size are relative to Device, the
// logical device index flash.Device's methods take.
type FlashArea struct {
	Name   string
	Id     int
	Device int
	Offset int
	Size   int
}

type byDevOff []FlashArea

func (s byDevOff) Len() int      { return len(s) }
func (s byDevOff) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s byDevOff) Less(i, j int) bool {
	if s[i].Device != s[j].Device {
		return s[i].Device < s[j].Device
	}
	return s[i].Offset < s[j].Offset
}

// SortFlashAreasByDevOff orders areas by (device, offset), the order a
// device manifest's flash map should always be rendered in regardless of
// what order its TLVs happened to arrive in.
func SortFlashAreasByDevOff(areas []FlashArea) []FlashArea {
	sorted := make([]FlashArea, len(areas))
	copy(sorted, areas)
	sort.Sort(byDevOff(sorted))
	return sorted
}

func areasOverlap(a, b FlashArea) bool {
	if a.Device != b.Device {
		return false
	}
	lo, hi := a, b
	if hi.Offset < lo.Offset {
		lo, hi = hi, lo
	}
	return lo.Offset+lo.Size > hi.Offset
}

// DetectErrors reports every pair of areas that physically overlap and
// every pair that share a logical id, the two mistakes a hand-written or
// hand-edited board layout is most likely to contain. Both slices are nil
// when the layout is clean.
func DetectErrors(areas []FlashArea) (overlaps [][]FlashArea, conflicts [][]FlashArea) {
	for i := 0; i < len(areas)-1; i++ {
		for j := i + 1; j < len(areas); j++ {
			a, b := areas[i], areas[j]
			if areasOverlap(a, b) {
				overlaps = append(overlaps, []FlashArea{a, b})
			}
			if a.Id == b.Id {
				conflicts = append(conflicts, []FlashArea{a, b})
			}
		}
	}
	return overlaps, conflicts
}

// ErrorText renders the output of DetectErrors as the multi-line message a
// scenario-file or device-manifest load error wraps.
func ErrorText(overlaps [][]FlashArea, conflicts [][]FlashArea) string {
	str := ""

	if len(conflicts) > 0 {
		str += "conflicting flash area ids:\n"
		for _, pair := range conflicts {
			str += fmt.Sprintf("    id %d: %s =/= %s\n", pair[0].Id, pair[0].Name, pair[1].Name)
		}
	}

	if len(overlaps) > 0 {
		str += "overlapping flash areas:\n"
		for _, pair := range overlaps {
			str += fmt.Sprintf("    %s =/= %s\n", pair[0].Name, pair[1].Name)
		}
	}

	return str
}
