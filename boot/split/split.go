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

// Package split implements the split-image extension: a small always-loaded
// loader image in the primary slot hands off to a larger app image that can
// be swapped independently. The app is only ever trusted alongside the exact
// loader build it shipped next to, which is why validating it seeds the
// hash with the loader's own hash rather than validating each in isolation.
package split

import (
	"mynewt.apache.org/bootcore/artifact/flash"
	"mynewt.apache.org/bootcore/boot/validate"
	"mynewt.apache.org/bootcore/util"
)

// Mode is the persisted policy read from bootcfg: whether to hand off to the
// app image at all, and whether that handoff is a one-time trial.
type Mode int

const (
	ModeNone Mode = iota
	ModeTest
	ModeApp
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeTest:
		return "test"
	case ModeApp:
		return "app"
	default:
		return "unknown"
	}
}

// Result reports whether the loader and app images are a matching,
// bootable pair.
type Result int

const (
	// ResultOK means entry is valid: boot the app.
	ResultOK Result = iota
	// ResultNonMatching means the pair failed validation; the loader
	// should keep running rather than jump into a broken or mismatched app.
	ResultNonMatching
	// ResultErr names an I/O-level failure that prevents a decision either
	// way. Go does not return it: Go reports every validation failure,
	// read errors included, as ResultNonMatching.
	ResultErr
)

// Go validates the app image in splitArea against the loader image in
// loaderArea and, if they match, returns the app's entry point: the start of
// its slot plus its own header size.
func Go(v *validate.Validator, loaderArea, splitArea flash.FlashArea) (entry int, result Result, err error) {
	loaderResult, err := v.Validate(loaderArea, nil)
	if err != nil {
		return 0, ResultNonMatching, nil
	}

	appResult, err := v.Validate(splitArea, loaderResult.Hash)
	if err != nil {
		return 0, ResultNonMatching, nil
	}

	entry = splitArea.Offset + int(appResult.Header.HdrSz)
	return entry, ResultOK, nil
}

// Check is the narrower status query used outside of an actual boot
// decision (e.g. a management command reporting whether the installed pair
// still matches).
func Check(v *validate.Validator, loaderArea, splitArea flash.FlashArea) (Result, error) {
	_, result, err := Go(v, loaderArea, splitArea)
	return result, err
}

// ModeStore is the persisted-policy collaborator split mode is read from and
// (for a one-shot test) cleared back to.
type ModeStore interface {
	Get(key string) (string, bool, error)
	Set(key string, value string) error
}

const modeKey = "split_mode"

// ReadMode loads the persisted split mode. An absent key means ModeNone: by
// default a device with a split image installed still boots only the
// loader until something explicitly asks it to try the app.
func ReadMode(s ModeStore) (Mode, error) {
	v, ok, err := s.Get(modeKey)
	if err != nil {
		return ModeNone, err
	}
	if !ok {
		return ModeNone, nil
	}

	switch v {
	case "none":
		return ModeNone, nil
	case "test":
		return ModeTest, nil
	case "app":
		return ModeApp, nil
	default:
		return ModeNone, util.FmtNewtError("unrecognized split mode %q", v)
	}
}

// WriteMode persists the split mode.
func WriteMode(s ModeStore, m Mode) error {
	return s.Set(modeKey, m.String())
}

// Decide applies the split_app_go policy: consult the persisted mode, clear
// a one-shot test back to "none", and validate the pair only if the mode
// says to try at all.
func Decide(s ModeStore, v *validate.Validator, loaderArea, splitArea flash.FlashArea) (entry int, boot bool, err error) {
	mode, err := ReadMode(s)
	if err != nil {
		return 0, false, err
	}

	if mode == ModeNone {
		return 0, false, nil
	}
	if mode == ModeTest {
		if err := WriteMode(s, ModeNone); err != nil {
			return 0, false, err
		}
	}

	entry, result, err := Go(v, loaderArea, splitArea)
	if err != nil {
		return 0, false, err
	}
	if result != ResultOK {
		return 0, false, nil
	}

	return entry, true, nil
}
