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

// Package boot is the orchestrator: it wires the trailer codec, decision
// engine, swap engine, and image validator into the single entry point a
// bootloader calls once per reset, Go. Every piece of state it needs travels
// through the *Request passed in; there is no package-level boot context, so
// a host process can run more than one simulated device side by side.
package boot

import (
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/bootcore/artifact/flash"
	"mynewt.apache.org/bootcore/artifact/image"
	"mynewt.apache.org/bootcore/boot/decision"
	"mynewt.apache.org/bootcore/boot/swap"
	"mynewt.apache.org/bootcore/boot/trailer"
	"mynewt.apache.org/bootcore/boot/validate"
	"mynewt.apache.org/bootcore/util"
)

// Request bundles everything a single Go() call needs: the flash contract,
// the board's area table, the streaming buffer size, and the optional
// signature verifier the validator should use.
type Request struct {
	Dev   flash.Device
	Table flash.AreaTable

	// BufSz sizes the in-memory buffer the swap engine and validator use
	// when streaming data through flash. Caller-owned so hosts with tight
	// RAM budgets can size it down; it never needs to fit a whole image.
	BufSz int

	Verifier validate.Verifier
}

// Response is what the device should actually boot: a physical location and
// the header found there. Both a plain swap and a reverted swap end up
// booting the primary slot; Response.Header is always the header of the
// image now sitting in it.
type Response struct {
	Area     flash.FlashArea
	Header   image.ImageHdr
	SwapType decision.SwapType
}

func (r *Request) areas() (primary, secondary, scratch flash.FlashArea, err error) {
	primary, err = r.Table.Open(flash.AreaIdPrimary)
	if err != nil {
		return
	}
	secondary, err = r.Table.Open(flash.AreaIdSecondary)
	if err != nil {
		return
	}
	scratch, err = r.Table.Open(flash.AreaIdScratch)
	return
}

func (r *Request) trailerAccessor(area flash.FlashArea) *trailer.Accessor {
	return &trailer.Accessor{Dev: r.Dev, Area: area, Align: r.Dev.Align(area.Device)}
}

func (r *Request) validator() *validate.Validator {
	return &validate.Validator{Dev: r.Dev, BufSz: r.BufSz, Verifier: r.Verifier}
}

// Go runs one full boot decision: it reads both trailers, determines (and if
// necessary resumes) a swap, validates the image that ends up in the primary
// slot, and returns where to jump. It mirrors the reference boot loader's
// boot_go almost line for line; see DESIGN.md.
func Go(req *Request) (*Response, error) {
	primaryArea, secondaryArea, scratchArea, err := req.areas()
	if err != nil {
		return nil, util.FmtChildNewtError(err, "failed to open boot areas")
	}

	primaryTrailer := req.trailerAccessor(primaryArea)
	secondaryTrailer := req.trailerAccessor(secondaryArea)
	scratchTrailer := req.trailerAccessor(scratchArea)

	primaryImg, err := primaryTrailer.Read()
	if err != nil {
		return nil, err
	}
	secondaryImg, err := secondaryTrailer.Read()
	if err != nil {
		return nil, err
	}
	scratchImg, err := scratchTrailer.Read()
	if err != nil {
		return nil, err
	}

	statusSource, err := decision.StatusSourceOf(primaryImg, scratchImg)
	if err != nil {
		return nil, err
	}

	var resumeIdx, resumeState int
	switch statusSource {
	case decision.StatusSourcePrimarySlot:
		resumeIdx, resumeState, err = primaryTrailer.ReadStatus()
	case decision.StatusSourceScratch:
		resumeIdx, resumeState, err = scratchTrailer.ReadStatus()
	}
	if err != nil {
		return nil, err
	}

	// A status source of primary/scratch only means those trailers are
	// where progress *would* be recorded; it doesn't mean a swap actually
	// got underway. (0, 0) is what an untouched status area reads back as,
	// so it's the same as no status having been recorded at all.
	resuming := resumeIdx != 0 || resumeState != 0

	baseType, err := decision.SwapTypeOf(primaryImg, secondaryImg)
	if err != nil {
		return nil, err
	}

	var swapType decision.SwapType
	if resuming {
		swapType, err = decision.PartialSwapType(baseType)
		if err != nil {
			return nil, err
		}
		log.Infof("resuming partial swap at group %d state %d as %s",
			resumeIdx, resumeState, swapType)
	} else {
		swapType = baseType
		if swapType != decision.SwapNone {
			if _, err := req.validator().Validate(secondaryArea, nil); err != nil {
				// The candidate image in the secondary slot doesn't check
				// out. Rather than swap in something that fails to boot,
				// erase it and fall back to running what's already in the
				// primary slot.
				log.Warnf("secondary slot failed validation, erasing and skipping swap: %s", err.Error())
				if err := req.Dev.Erase(secondaryArea.Device, secondaryArea.Offset, secondaryArea.Size); err != nil {
					return nil, util.FmtChildNewtError(err, "failed to erase invalid secondary slot")
				}
				swapType = decision.SwapNone
			}
		}
	}

	primarySectors, err := req.Table.Sectors(flash.AreaIdPrimary)
	if err != nil {
		return nil, err
	}
	secondarySectors, err := req.Table.Sectors(flash.AreaIdSecondary)
	if err != nil {
		return nil, err
	}

	if resuming || swapType != decision.SwapNone {
		groups, err := swap.Plan(primarySectors, secondarySectors, scratchArea)
		if err != nil {
			return nil, err
		}

		engine := &swap.Engine{
			Dev:            req.Dev,
			BufSz:          req.BufSz,
			PrimaryTrailer: primaryTrailer,
			ScratchTrailer: scratchTrailer,
		}
		if err := engine.Run(groups, resumeIdx, resumeState); err != nil {
			return nil, err
		}

		switch swapType {
		case decision.SwapTest:
			if err := swap.FinalizeTest(primaryTrailer); err != nil {
				return nil, err
			}
		case decision.SwapRevert:
			if err := swap.FinalizeRevert(primaryTrailer); err != nil {
				return nil, err
			}
		case decision.SwapPermanent:
			// Already permanent; nothing further to stamp.
		}
	}

	v := req.validator()
	result, err := v.Validate(primaryArea, nil)
	if err != nil {
		return nil, util.FmtChildNewtError(err, "primary slot failed validation after boot decision")
	}

	return &Response{
		Area:     primaryArea,
		Header:   result.Header,
		SwapType: swapType,
	}, nil
}

// SetPending marks the secondary slot's image as the one to boot next,
// starting a test swap on the following reset. It is idempotent: calling it
// twice in a row without an intervening erase has no additional effect.
func SetPending(req *Request) error {
	_, secondaryArea, _, err := req.areas()
	if err != nil {
		return err
	}
	return req.trailerAccessor(secondaryArea).WriteMagic()
}

// SetConfirmed marks the image currently booted from the primary slot as
// permanent, preventing a future revert. It is a no-op unless the primary
// slot holds an image left by a finished test swap (copy-start set,
// copy-done set, image-ok not yet set); confirming an already-confirmed or
// never-pended image is harmless.
func SetConfirmed(req *Request) error {
	primaryArea, _, _, err := req.areas()
	if err != nil {
		return err
	}

	t := req.trailerAccessor(primaryArea)
	cur, err := t.Read()
	if err != nil {
		return err
	}

	if cur.CopyStart != trailer.ImgMagic {
		return nil
	}
	if cur.CopyDone == trailer.ErasedByte {
		return nil
	}
	if cur.ImageOK != trailer.ErasedByte {
		return nil
	}

	return swap.FinalizePermanent(t)
}
