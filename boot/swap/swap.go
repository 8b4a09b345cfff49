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

// Package swap implements the power-fail-safe three-state sector swap: the
// only code in this tree allowed to erase or move image bytes. Everything
// else (decision, trailer) only reads and writes 8-byte records; this
// package is where the actual slot contents move.
package swap

import (
	"mynewt.apache.org/bootcore/artifact/flash"
	"mynewt.apache.org/bootcore/boot/trailer"
	"mynewt.apache.org/bootcore/util"
)

// sub-step values recorded in the status area for the group currently being
// swapped.
const (
	stateEraseScratch = 0
	stateEraseSecond  = 1
	stateErasePrimary = 2
)

// Group is one reverse-order chunk of sectors moved as a unit: primary and
// secondary sectors of matching size, swapped through scratch. Group 0 is
// the chunk nearest the end of the slots (and so, per EndArea, the one that
// carries the trailer/status area); the last group is the one nearest
// offset 0.
type Group struct {
	Idx             int
	PrimaryDevice   int
	PrimaryOffset   int
	SecondaryDevice int
	SecondaryOffset int
	ScratchDevice   int
	ScratchOffset   int
	Size            int
	// EndArea is true for the single group that contains the trailer and
	// status area. Its primary->secondary copy stops short of that
	// metadata, so the primary's old trailer and status bytes are not
	// carried into the secondary slot.
	EndArea bool
}

// Plan computes the reverse-order sector grouping for a primary/secondary
// slot pair moving through a given scratch area. Both sector slices must be
// in ascending-offset order and describe slots of identical sector layout;
// that symmetry is what lets a single grouping apply to both slots at once.
func Plan(primarySectors, secondarySectors []flash.FlashArea, scratch flash.FlashArea) ([]Group, error) {
	if len(primarySectors) != len(secondarySectors) {
		return nil, util.FmtNewtError(
			"primary and secondary slots have different sector counts (%d vs %d)",
			len(primarySectors), len(secondarySectors))
	}
	for i := range primarySectors {
		if primarySectors[i].Size != secondarySectors[i].Size {
			return nil, util.FmtNewtError(
				"primary and secondary sector %d differ in size (%d vs %d)",
				i, primarySectors[i].Size, secondarySectors[i].Size)
		}
	}

	var groups []Group
	end := len(primarySectors)
	idx := 0
	for end > 0 {
		size := 0
		cnt := 0
		for end-cnt-1 >= 0 && size+primarySectors[end-cnt-1].Size <= scratch.Size {
			size += primarySectors[end-cnt-1].Size
			cnt++
		}
		if cnt == 0 {
			return nil, util.FmtNewtError(
				"sector at offset %d is larger than the scratch area (scratch size %d)",
				primarySectors[end-1].Offset, scratch.Size)
		}

		start := end - cnt
		groups = append(groups, Group{
			Idx:             idx,
			PrimaryDevice:   primarySectors[start].Device,
			PrimaryOffset:   primarySectors[start].Offset,
			SecondaryDevice: secondarySectors[start].Device,
			SecondaryOffset: secondarySectors[start].Offset,
			ScratchDevice:   scratch.Device,
			ScratchOffset:   scratch.Offset,
			Size:            size,
			EndArea:         idx == 0,
		})

		end = start
		idx++
	}

	if len(groups) > trailer.MaxEntries {
		return nil, util.FmtNewtError(
			"swap plan needs %d sector groups, which exceeds the %d the status "+
				"area can track", len(groups), trailer.MaxEntries)
	}

	return groups, nil
}

// Engine drives groups through flash. BufSz bounds how much of a group is
// held in memory at once during a copy; it does not need to evenly divide
// a group's size.
type Engine struct {
	Dev   flash.Device
	BufSz int

	// PrimaryTrailer and ScratchTrailer back the status-entry array used to
	// record progress. Status for group 0 lives in scratch (it is the only
	// area guaranteed erased before the swap starts); status for every
	// later group lives in the primary slot, which by then holds nothing
	// the decision engine still needs to read.
	PrimaryTrailer *trailer.Accessor
	ScratchTrailer *trailer.Accessor
}

// statusTrailer returns the accessor that owns the status-entry array for
// group idx.
func (e *Engine) statusTrailer(idx int) *trailer.Accessor {
	if idx == 0 {
		return e.ScratchTrailer
	}
	return e.PrimaryTrailer
}

func (e *Engine) bufSz() int {
	if e.BufSz < 1 {
		return 1024
	}
	return e.BufSz
}

// metaSize is the byte span at the tail of the end-area group that must be
// preserved verbatim rather than overwritten by the incoming image, i.e. the
// trailer plus its status-entry array.
func (e *Engine) metaSize() int {
	return trailer.Size + trailer.StatusSize(e.statusAlign())
}

func (e *Engine) statusAlign() int {
	if e.PrimaryTrailer != nil {
		return e.PrimaryTrailer.Align
	}
	return 1
}

// Run drives the given groups to completion, resuming from (startIdx,
// startState) if a previous attempt was interrupted. Passing (0, 0) runs the
// whole plan from scratch.
func (e *Engine) Run(groups []Group, startIdx, startState int) error {
	for _, g := range groups {
		state := 0
		if g.Idx < startIdx {
			continue
		}
		if g.Idx == startIdx {
			state = startState
		}

		if err := e.runGroup(g, state); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runGroup(g Group, state int) error {
	if state <= stateEraseScratch {
		if err := e.Dev.Erase(g.ScratchDevice, g.ScratchOffset, g.Size); err != nil {
			return util.FmtChildNewtError(err, "failed to erase scratch for group %d", g.Idx)
		}
		if err := e.copy(g.SecondaryDevice, g.SecondaryOffset, g.ScratchDevice, g.ScratchOffset, g.Size); err != nil {
			return util.FmtChildNewtError(err, "failed to copy secondary->scratch for group %d", g.Idx)
		}
		if err := e.statusTrailer(g.Idx).WriteStatus(g.Idx, stateEraseSecond); err != nil {
			return err
		}
	}

	if state <= stateEraseSecond {
		if err := e.Dev.Erase(g.SecondaryDevice, g.SecondaryOffset, g.Size); err != nil {
			return util.FmtChildNewtError(err, "failed to erase secondary for group %d", g.Idx)
		}

		copySz := g.Size
		if g.EndArea {
			copySz -= e.metaSize()
		}
		if err := e.copy(g.PrimaryDevice, g.PrimaryOffset, g.SecondaryDevice, g.SecondaryOffset, copySz); err != nil {
			return util.FmtChildNewtError(err, "failed to copy primary->secondary for group %d", g.Idx)
		}
		if err := e.statusTrailer(g.Idx).WriteStatus(g.Idx, stateErasePrimary); err != nil {
			return err
		}
	}

	if state <= stateErasePrimary {
		if err := e.Dev.Erase(g.PrimaryDevice, g.PrimaryOffset, g.Size); err != nil {
			return util.FmtChildNewtError(err, "failed to erase primary for group %d", g.Idx)
		}
		if err := e.copy(g.ScratchDevice, g.ScratchOffset, g.PrimaryDevice, g.PrimaryOffset, g.Size); err != nil {
			return util.FmtChildNewtError(err, "failed to copy scratch->primary for group %d", g.Idx)
		}
		if err := e.statusTrailer(g.Idx+1).WriteStatus(g.Idx+1, stateEraseScratch); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) copy(srcDev, srcOff, dstDev, dstOff, size int) error {
	buf := make([]byte, e.bufSz())
	for size > 0 {
		n := len(buf)
		if n > size {
			n = size
		}
		if err := e.Dev.Read(srcDev, srcOff, buf[:n]); err != nil {
			return err
		}
		if err := e.Dev.Write(dstDev, dstOff, buf[:n]); err != nil {
			return err
		}
		srcOff += n
		dstOff += n
		size -= n
	}
	return nil
}

// FinalizeTest marks a just-completed test swap as unconfirmed: the new
// primary image gets exactly one boot to call SetConfirmed before the next
// reset reverts it.
func FinalizeTest(primary *trailer.Accessor) error {
	return primary.WriteCopyDone()
}

// FinalizeRevert marks a just-completed revert swap as already confirmed,
// in one combined write, so a reset between the copy-done and image-ok
// writes can never leave the restored image looking unconfirmed.
func FinalizeRevert(primary *trailer.Accessor) error {
	return primary.WriteRevertFinal()
}

// FinalizePermanent marks the image already running in the primary slot as
// confirmed, without touching copy-start or copy-done.
func FinalizePermanent(primary *trailer.Accessor) error {
	return primary.WriteImageOK()
}
