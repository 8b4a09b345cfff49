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

package decision_test

import (
	"testing"

	"mynewt.apache.org/bootcore/boot/decision"
	"mynewt.apache.org/bootcore/boot/trailer"
)

func TestSwapTypeOfNoneWhenBothErased(t *testing.T) {
	primary := trailer.Img{CopyStart: trailer.ErasedMagic}
	secondary := trailer.Img{CopyStart: trailer.ErasedMagic}

	st, err := decision.SwapTypeOf(primary, secondary)
	if err != nil {
		t.Fatal(err)
	}
	if st != decision.SwapNone {
		t.Errorf("SwapTypeOf() = %s, want none", st)
	}
}

func TestSwapTypeOfTestWhenSecondaryPended(t *testing.T) {
	primary := trailer.Img{CopyStart: trailer.ErasedMagic}
	secondary := trailer.Img{CopyStart: trailer.ImgMagic}

	st, err := decision.SwapTypeOf(primary, secondary)
	if err != nil {
		t.Fatal(err)
	}
	if st != decision.SwapTest {
		t.Errorf("SwapTypeOf() = %s, want test", st)
	}
}

func TestSwapTypeOfRevertWhenPrimaryUnconfirmed(t *testing.T) {
	primary := trailer.Img{CopyStart: trailer.ImgMagic, ImageOK: trailer.ErasedByte}
	secondary := trailer.Img{CopyStart: trailer.ErasedMagic}

	st, err := decision.SwapTypeOf(primary, secondary)
	if err != nil {
		t.Fatal(err)
	}
	if st != decision.SwapRevert {
		t.Errorf("SwapTypeOf() = %s, want revert", st)
	}
}

func TestSwapTypeOfNoneWhenPrimaryConfirmed(t *testing.T) {
	primary := trailer.Img{CopyStart: trailer.ImgMagic, ImageOK: 0x01}
	secondary := trailer.Img{CopyStart: trailer.ErasedMagic}

	st, err := decision.SwapTypeOf(primary, secondary)
	if err != nil {
		t.Fatal(err)
	}
	if st != decision.SwapNone {
		t.Errorf("SwapTypeOf() = %s, want none", st)
	}
}

func TestSwapTypeOfUnmatchedIsFatal(t *testing.T) {
	// A secondary copy-start value that is neither the erased sentinel nor
	// the pend magic matches no row in the table; an unmatched row is
	// treated as a fatal inconsistency rather than silently defaulting to
	// SwapNone.
	primary := trailer.Img{CopyStart: trailer.ImgMagic, ImageOK: trailer.ErasedByte}
	secondary := trailer.Img{CopyStart: 0x5}

	if _, err := decision.SwapTypeOf(primary, secondary); err == nil {
		t.Fatal("expected an error for an unmatched swap-type row")
	}
}

func TestStatusSourceOf(t *testing.T) {
	cases := []struct {
		name     string
		primary  trailer.Img
		scratch  trailer.Img
		expected decision.StatusSource
	}{
		{
			name:     "nothing pending",
			primary:  trailer.Img{CopyStart: trailer.ErasedMagic, CopyDone: trailer.ErasedByte},
			scratch:  trailer.Img{},
			expected: decision.StatusSourcePrimarySlot,
		},
		{
			name:     "primary mid-swap",
			primary:  trailer.Img{CopyStart: trailer.ImgMagic, CopyDone: trailer.ErasedByte},
			scratch:  trailer.Img{},
			expected: decision.StatusSourcePrimarySlot,
		},
		{
			name:     "primary finished, already copy-done",
			primary:  trailer.Img{CopyStart: trailer.ImgMagic, CopyDone: 0x01},
			scratch:  trailer.Img{},
			expected: decision.StatusSourceNone,
		},
		{
			name:     "scratch holds the in-progress status",
			primary:  trailer.Img{CopyStart: trailer.ErasedMagic},
			scratch:  trailer.Img{CopyStart: trailer.ImgMagic},
			expected: decision.StatusSourceScratch,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := decision.StatusSourceOf(c.primary, c.scratch)
			if err != nil {
				t.Fatal(err)
			}
			if got != c.expected {
				t.Errorf("StatusSourceOf() = %s, want %s", got, c.expected)
			}
		})
	}
}

func TestPartialSwapType(t *testing.T) {
	if got, err := decision.PartialSwapType(decision.SwapNone); err != nil || got != decision.SwapRevert {
		t.Errorf("PartialSwapType(none) = (%s, %v), want (revert, nil)", got, err)
	}
	if got, err := decision.PartialSwapType(decision.SwapRevert); err != nil || got != decision.SwapTest {
		t.Errorf("PartialSwapType(revert) = (%s, %v), want (test, nil)", got, err)
	}
	if _, err := decision.PartialSwapType(decision.SwapPermanent); err == nil {
		t.Error("expected an error resuming a swap recorded as permanent")
	}
}
