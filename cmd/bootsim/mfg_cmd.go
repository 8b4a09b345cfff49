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

package main

import (
	"bytes"
	"fmt"
	"io/ioutil"

	"github.com/spf13/cobra"

	"mynewt.apache.org/bootcore/artifact/manifest"
	"mynewt.apache.org/bootcore/artifact/mfg"
	"mynewt.apache.org/bootcore/util"
)

var (
	mfgShowBsp string
)

func mfgShowCmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		bsUsage(cmd, util.NewNewtError("mfg show requires exactly one argument: the flash image file"))
	}

	bin, err := ioutil.ReadFile(args[0])
	if err != nil {
		bsUsage(cmd, util.ChildNewtError(err))
	}

	// The meta region ends at the very end of the file; callers that only
	// have the bootloader area sliced out of a larger flash dump can pass
	// that slice directly.
	m, err := mfg.Parse(bin, len(bin), 0xff)
	if err != nil {
		bsUsage(cmd, err)
	}

	dm := manifest.BuildDeviceManifestFromMfg(args[0], mfgShowBsp, &m)

	buf, err := dm.MarshalJson()
	if err != nil {
		bsUsage(cmd, err)
	}

	fmt.Println(string(buf))
}

func mfgDumpCmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		bsUsage(cmd, util.NewNewtError("mfg dump requires exactly one argument: the flash image file"))
	}

	bin, err := ioutil.ReadFile(args[0])
	if err != nil {
		bsUsage(cmd, util.ChildNewtError(err))
	}

	m, err := mfg.Parse(bin, len(bin), 0xff)
	if err != nil {
		bsUsage(cmd, err)
	}
	if m.Meta == nil {
		bsUsage(cmd, util.NewNewtError("flash image carries no manufacturing meta region"))
	}

	j, err := m.Meta.Json(m.MetaOff + int(m.Meta.Footer.Size))
	if err != nil {
		bsUsage(cmd, err)
	}

	fmt.Println(j)
}

func mfgVerifyHashCmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		bsUsage(cmd, util.NewNewtError("mfg verify-hash requires exactly one argument: the flash image file"))
	}

	bin, err := ioutil.ReadFile(args[0])
	if err != nil {
		bsUsage(cmd, util.ChildNewtError(err))
	}

	m, err := mfg.Parse(bin, len(bin), 0xff)
	if err != nil {
		bsUsage(cmd, err)
	}
	if m.Meta == nil || m.Meta.Hash() == nil {
		bsUsage(cmd, util.NewNewtError("flash image carries no hash TLV to verify"))
	}

	recorded := append([]byte{}, m.Meta.Hash()...)

	if err := m.RecalcHash(0xff); err != nil {
		bsUsage(cmd, err)
	}

	if !bytes.Equal(m.Meta.Hash(), recorded) {
		bsUsage(cmd, util.NewNewtError(
			"manufacturing image hash mismatch: recorded hash does not match the image contents"))
	}

	fmt.Println("hash OK")
}

func mfgCmd() *cobra.Command {
	mCmd := &cobra.Command{
		Use:   "mfg",
		Short: "Inspect manufacturing-meta regions",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <flash-image>",
		Short: "Print a device's manufacturing meta region as a manifest",
		Run:   mfgShowCmd,
	}
	showCmd.Flags().StringVar(&mfgShowBsp, "bsp", "", "board support package name to record in the manifest")
	mCmd.AddCommand(showCmd)

	dumpCmd := &cobra.Command{
		Use:   "dump <flash-image>",
		Short: "Print the raw manufacturing meta TLVs as JSON",
		Run:   mfgDumpCmd,
	}
	mCmd.AddCommand(dumpCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify-hash <flash-image>",
		Short: "Recompute the manufacturing image hash and compare it against the recorded HASH TLV",
		Run:   mfgVerifyHashCmd,
	}
	mCmd.AddCommand(verifyCmd)

	return mCmd
}
