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
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mynewt.apache.org/bootcore/artifact/flash"
	"mynewt.apache.org/bootcore/artifact/manifest"
	"mynewt.apache.org/bootcore/util"
)

var (
	initFrom string
	initBsp  string
)

const defaultScenario = `# sectorsize and area must come before any load/boot/pending line.
sectorsize 4096
area 1 FLASH_AREA_IMAGE_0 0 0 65536
area 2 FLASH_AREA_IMAGE_1 0 65536 65536
area 3 FLASH_AREA_IMAGE_SCRATCH 0 131072 4096

# load 1 primary.img
# load 2 secondary.img
# pending
boot
`

func initDefaultLayout(dir string, bsp string) error {
	dm := manifest.DeviceManifest{
		Name: filepath.Base(dir),
		Bsp:  bsp,
		FlashAreas: []flash.FlashArea{
			{Name: flash.FLASH_AREA_NAME_BOOTLOADER, Id: flash.AreaIdBootloader, Device: 0, Offset: 0, Size: 0x8000},
			{Name: flash.FLASH_AREA_NAME_IMAGE_0, Id: flash.AreaIdPrimary, Device: 0, Offset: 0x8000, Size: 0x10000},
			{Name: flash.FLASH_AREA_NAME_IMAGE_1, Id: flash.AreaIdSecondary, Device: 0, Offset: 0x18000, Size: 0x10000},
			{Name: flash.FLASH_AREA_NAME_IMAGE_SCRATCH, Id: flash.AreaIdScratch, Device: 0, Offset: 0x28000, Size: 0x1000},
		},
	}

	buf, err := dm.MarshalJson()
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(filepath.Join(dir, "device.json"), buf, 0644); err != nil {
		return util.ChildNewtError(err)
	}

	if err := ioutil.WriteFile(filepath.Join(dir, "scenario.txt"), []byte(defaultScenario), 0644); err != nil {
		return util.ChildNewtError(err)
	}

	return nil
}

func initCmdRun(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		bsUsage(cmd, util.NewNewtError("init requires exactly one argument: the new scenario directory"))
	}
	dir := args[0]

	if _, err := os.Stat(dir); err == nil {
		bsUsage(cmd, util.FmtNewtError("%s already exists", dir))
	}

	if initFrom != "" {
		if err := util.CopyDir(initFrom, dir); err != nil {
			bsUsage(cmd, err)
		}
		fmt.Printf("Created %s from %s\n", dir, initFrom)
		return
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		bsUsage(cmd, util.ChildNewtError(err))
	}
	if err := initDefaultLayout(dir, initBsp); err != nil {
		bsUsage(cmd, err)
	}

	fmt.Printf("Created %s (device.json, scenario.txt)\n", dir)
}

func initCmd() *cobra.Command {
	iCmd := &cobra.Command{
		Use:   "init <dir>",
		Short: "Scaffold a new scenario directory with a starter device profile",
		Run:   initCmdRun,
	}
	iCmd.Flags().StringVar(&initFrom, "from", "",
		"clone an existing scenario directory instead of generating a default layout")
	iCmd.Flags().StringVar(&initBsp, "bsp", "generic",
		"board support package name to record in the generated device profile")
	return iCmd
}
