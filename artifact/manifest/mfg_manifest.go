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

package manifest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"

	"mynewt.apache.org/bootcore/artifact/flash"
	"mynewt.apache.org/bootcore/artifact/mfg"
	"mynewt.apache.org/bootcore/util"
)

// DeviceManifestMmr describes one manufacturing-meta-region reference found
// while scaffolding a device profile.
type DeviceManifestMmr struct {
	Area      string `json:"area"`
	Device    int    `json:"_device"`
	EndOffset int    `json:"_end_offset"`
}

// DeviceManifestMeta mirrors the footer-terminated TLV region mfg.Meta
// parses, flattened for human/CLI consumption.
type DeviceManifestMeta struct {
	EndOffset int                  `json:"end_offset"`
	Size      int                  `json:"size"`
	Hash      bool                 `json:"hash_present"`
	FlashMap  bool                 `json:"flash_map_present"`
	Mmrs      []DeviceManifestMmr  `json:"mmrs,omitempty"`
}

// DeviceManifest is a device profile: the board's flash area table plus
// whatever a manufacturing meta region on it advertises.  "newt init"'s
// bootcore analogue writes one of these as a starting point for a new board;
// "mfg show" prints one read back off a flash image.
type DeviceManifest struct {
	Name       string              `json:"name"`
	BuildTime  string              `json:"build_time"`
	MfgHash    string              `json:"mfg_hash,omitempty"`
	Bsp        string              `json:"bsp"`
	FlashAreas []flash.FlashArea   `json:"flash_map"`
	Meta       *DeviceManifestMeta `json:"meta,omitempty"`
}

func ReadDeviceManifest(path string) (DeviceManifest, error) {
	m := DeviceManifest{}

	content, err := ioutil.ReadFile(path)
	if err != nil {
		return m, util.ChildNewtError(err)
	}

	if err := json.Unmarshal(content, &m); err != nil {
		return m, util.FmtNewtError(
			"failure decoding device manifest with path \"%s\": %s",
			path, err.Error())
	}

	return m, nil
}

// BuildDeviceManifestFromMfg summarizes a parsed manufacturing image into a
// DeviceManifest: the flash areas it names via FLASH_AREA TLVs, and whether a
// hash TLV (and any MMR references) are present. It does not verify the
// recorded hash; that is RecalcHash's job (mfg.Mfg.RecalcHash).
func BuildDeviceManifestFromMfg(name string, bsp string, m *mfg.Mfg) DeviceManifest {
	dm := DeviceManifest{
		Name: name,
		Bsp:  bsp,
	}

	if m.Meta == nil {
		return dm
	}

	meta := DeviceManifestMeta{
		EndOffset: m.MetaOff + int(m.Meta.Footer.Size),
		Size:      int(m.Meta.Footer.Size),
	}

	if h := m.Meta.Hash(); h != nil {
		meta.Hash = true
		dm.MfgHash = hex.EncodeToString(h)
	}

	for _, tlv := range m.Meta.FindTlvs(mfg.META_TLV_TYPE_FLASH_AREA) {
		var body mfg.MetaTlvBodyFlashArea
		if err := binary.Read(bytes.NewReader(tlv.Data), binary.LittleEndian, &body); err != nil {
			continue
		}
		meta.FlashMap = true
		dm.FlashAreas = append(dm.FlashAreas, flash.FlashArea{
			Id:     int(body.Area),
			Device: int(body.Device),
			Offset: int(body.Offset),
			Size:   int(body.Size),
		})
	}

	for _, tlv := range m.Meta.FindTlvs(mfg.META_TLV_TYPE_MMR_REF) {
		if len(tlv.Data) < 1 {
			continue
		}
		meta.Mmrs = append(meta.Mmrs, DeviceManifestMmr{
			Area: fmt.Sprintf("area-%d", tlv.Data[0]),
		})
	}

	dm.FlashAreas = flash.SortFlashAreasByDevOff(dm.FlashAreas)

	dm.Meta = &meta
	return dm
}

func (m *DeviceManifest) MarshalJson() ([]byte, error) {
	buffer, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, util.FmtNewtError(
			"cannot encode device manifest: %s", err.Error())
	}

	return buffer, nil
}
