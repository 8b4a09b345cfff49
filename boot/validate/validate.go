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

// Package validate streams an image straight off a flash slot and checks it
// against its own trailing SHA256/signature TLVs, without ever holding the
// whole image in memory. It is the one consumer of artifact/image that reads
// from a flash.Device instead of a byte slice, which is why it lives apart
// from that package: artifact/image knows the wire format, this package
// knows how to walk it a block at a time.
package validate

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"mynewt.apache.org/bootcore/artifact/flash"
	"mynewt.apache.org/bootcore/artifact/image"
	"mynewt.apache.org/bootcore/util"
)

// ErrNoImage is returned by Validate when the header magic doesn't match.
// Callers treat this the same way the original boot loader treated a slot
// whose header reads back as all-0xFF: an empty slot, not a corrupt one.
var ErrNoImage = util.NewNewtError("slot does not contain a valid image header")

// Verifier is the optional signature-checking capability. A Validator with
// a nil Verifier still checks the SHA256 TLV, but refuses to boot any image
// that also carries a signature TLV -- there would be nothing to check it
// against, and silently accepting an unverifiable signature is worse than
// refusing to boot.
type Verifier interface {
	// Verify reports whether sig is a valid signature of hash under a
	// trusted key matching keyHash (the preceding KEYHASH TLV's value, nil
	// if none was present), as produced by the given TLV type.
	Verify(tlvType uint8, keyHash []byte, hash []byte, sig []byte) (bool, error)
}

// Result is everything downstream code (the boot orchestrator, the split
// extension) needs after a successful validation.
type Result struct {
	Header image.ImageHdr
	Hash    []byte
}

// Validator checks one image at a time against a flash.Device.
type Validator struct {
	Dev      flash.Device
	BufSz    int
	Verifier Verifier
	// HashFactory, when set, overrides the hash primitive. Defaults to
	// sha256.New.
	HashFactory func() hash.Hash
}

func (v *Validator) bufSz() int {
	if v.BufSz < 1 {
		return 256
	}
	return v.BufSz
}

func (v *Validator) newHash() hash.Hash {
	if v.HashFactory != nil {
		return v.HashFactory()
	}
	return sha256.New()
}

// Validate reads the header, payload, and TLV area of area and confirms the
// computed hash matches the embedded SHA256 TLV, and (if the Validator has a
// Verifier) that any signature TLV checks out.
//
// seed is non-nil only for the split-image app slot: its hash is seeded with
// the loader's own hash first, chaining the two validations together so the
// app image is only trusted paired with the exact loader it shipped with.
func (v *Validator) Validate(area flash.FlashArea, seed []byte) (Result, error) {
	hdr, err := v.readHeader(area)
	if err != nil {
		return Result{}, err
	}

	if int(hdr.HdrSz) < image.IMAGE_HEADER_SIZE {
		return Result{}, util.FmtNewtError(
			"image header size %d is smaller than the minimum %d",
			hdr.HdrSz, image.IMAGE_HEADER_SIZE)
	}
	if int(hdr.HdrSz)+int(hdr.ImgSz) > area.Size {
		return Result{}, util.FmtNewtError(
			"image (header %d + body %d) does not fit in area of size %d",
			hdr.HdrSz, hdr.ImgSz, area.Size)
	}
	if hdr.Flags&image.IMAGE_F_NON_BOOTABLE != 0 {
		return Result{}, util.FmtNewtError("image is marked non-bootable")
	}

	h := v.newHash()
	if len(seed) > 0 {
		h.Write(seed)
	}
	if err := v.hashRegion(h, area, 0, int(hdr.HdrSz)); err != nil {
		return Result{}, err
	}
	if err := v.hashRegion(h, area, int(hdr.HdrSz), int(hdr.ImgSz)); err != nil {
		return Result{}, err
	}
	computed := h.Sum(nil)

	tlvOff := int(hdr.HdrSz) + int(hdr.ImgSz)
	tlvs, err := v.readTlvs(area, tlvOff)
	if err != nil {
		return Result{}, err
	}

	sum, err := findTlv(tlvs, image.IMAGE_TLV_SHA256)
	if err != nil {
		return Result{}, err
	}
	if sum == nil {
		return Result{}, util.FmtNewtError("image is missing its SHA256 TLV")
	}
	if !bytes.Equal(sum.Data, computed) {
		return Result{}, util.FmtNewtError("image hash mismatch")
	}

	if err := v.checkSignature(tlvs, computed); err != nil {
		return Result{}, err
	}

	return Result{Header: hdr, Hash: computed}, nil
}

func (v *Validator) checkSignature(tlvs []image.ImageTlv, computed []byte) error {
	var sig *image.ImageTlv
	for i := range tlvs {
		if image.ImageTlvTypeIsSig(tlvs[i].Header.Type) {
			sig = &tlvs[i]
			break
		}
	}
	if sig == nil {
		return nil
	}

	if v.Verifier == nil {
		return util.FmtNewtError(
			"image carries a %s signature TLV but no verifier is configured",
			image.ImageTlvTypeName(sig.Header.Type))
	}

	keyHashTlv, err := findTlv(tlvs, image.IMAGE_TLV_KEYHASH)
	if err != nil {
		return err
	}
	var keyHash []byte
	if keyHashTlv != nil {
		keyHash = keyHashTlv.Data
	}

	ok, err := v.Verifier.Verify(sig.Header.Type, keyHash, computed, sig.Data)
	if err != nil {
		return util.FmtChildNewtError(err, "signature verification failed")
	}
	if !ok {
		return util.FmtNewtError("signature did not verify")
	}
	return nil
}

func findTlv(tlvs []image.ImageTlv, tlvType uint8) (*image.ImageTlv, error) {
	var found *image.ImageTlv
	for i := range tlvs {
		if tlvs[i].Header.Type != tlvType {
			continue
		}
		if found != nil {
			return nil, util.FmtNewtError(
				"image contains more than one %s TLV", image.ImageTlvTypeName(tlvType))
		}
		t := tlvs[i]
		found = &t
	}
	return found, nil
}

func (v *Validator) readHeader(area flash.FlashArea) (image.ImageHdr, error) {
	buf := make([]byte, image.IMAGE_HEADER_SIZE)
	if err := v.Dev.Read(area.Device, area.Offset, buf); err != nil {
		return image.ImageHdr{}, util.FmtChildNewtError(err,
			"failed to read image header from area %s", area.Name)
	}

	var hdr image.ImageHdr
	r := bytes.NewReader(buf)
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return image.ImageHdr{}, util.FmtChildNewtError(err, "failed to decode image header")
	}

	if hdr.Magic != image.IMAGE_MAGIC {
		return image.ImageHdr{}, ErrNoImage
	}

	return hdr, nil
}

func (v *Validator) hashRegion(h hash.Hash, area flash.FlashArea, localOff, size int) error {
	buf := make([]byte, v.bufSz())
	off := area.Offset + localOff
	for size > 0 {
		n := len(buf)
		if n > size {
			n = size
		}
		if err := v.Dev.Read(area.Device, off, buf[:n]); err != nil {
			return util.FmtChildNewtError(err, "failed to read image body from area %s", area.Name)
		}
		h.Write(buf[:n])
		off += n
		size -= n
	}
	return nil
}

// readTlvs reads the image trailer marker (artifact/image.ImageTrailer) at
// tlvOff and then walks exactly its declared TLV section.
func (v *Validator) readTlvs(area flash.FlashArea, tlvOff int) ([]image.ImageTlv, error) {
	trailerBuf := make([]byte, image.IMAGE_TRAILER_SIZE)
	if err := v.Dev.Read(area.Device, area.Offset+tlvOff, trailerBuf); err != nil {
		return nil, util.FmtChildNewtError(err, "failed to read TLV info marker from area %s", area.Name)
	}

	var trailer image.ImageTrailer
	if err := binary.Read(bytes.NewReader(trailerBuf), binary.LittleEndian, &trailer); err != nil {
		return nil, util.FmtChildNewtError(err, "failed to decode TLV info marker")
	}
	if trailer.Magic != image.IMAGE_TRAILER_MAGIC {
		return nil, util.FmtNewtError("image TLV info marker has bad magic 0x%04x", trailer.Magic)
	}

	remaining := int(trailer.TlvTotLen) - image.IMAGE_TRAILER_SIZE
	if remaining < 0 {
		return nil, util.FmtNewtError("image TLV section length is implausibly small")
	}

	off := area.Offset + tlvOff + image.IMAGE_TRAILER_SIZE
	var tlvs []image.ImageTlv
	for remaining > 0 {
		hdrBuf := make([]byte, image.IMAGE_TLV_SIZE)
		if err := v.Dev.Read(area.Device, off, hdrBuf); err != nil {
			return nil, util.FmtChildNewtError(err, "failed to read TLV header from area %s", area.Name)
		}

		var tlvHdr image.ImageTlvHdr
		if err := binary.Read(bytes.NewReader(hdrBuf), binary.LittleEndian, &tlvHdr); err != nil {
			return nil, util.FmtChildNewtError(err, "failed to decode TLV header")
		}

		dataOff := off + image.IMAGE_TLV_SIZE
		data := make([]byte, tlvHdr.Len)
		if tlvHdr.Len > 0 {
			if err := v.Dev.Read(area.Device, dataOff, data); err != nil {
				return nil, util.FmtChildNewtError(err, "failed to read TLV value from area %s", area.Name)
			}
		}

		tlvs = append(tlvs, image.ImageTlv{Header: tlvHdr, Data: data})

		consumed := image.IMAGE_TLV_SIZE + int(tlvHdr.Len)
		off += consumed
		remaining -= consumed
		if remaining < 0 {
			return nil, util.FmtNewtError("TLV section length does not match the sum of its entries")
		}
	}

	return tlvs, nil
}
