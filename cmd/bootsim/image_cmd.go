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

	"github.com/spf13/cobra"

	"mynewt.apache.org/bootcore/artifact/image"
	"mynewt.apache.org/bootcore/util"
)

var (
	imgCreateVersion string
	imgCreateKeys    []string
	imgCreateOutput  string
)

func imageCreateCmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		bsUsage(cmd, util.NewNewtError("image create requires exactly one argument: the raw binary"))
	}

	vers, err := image.ParseVersion(imgCreateVersion)
	if err != nil {
		bsUsage(cmd, err)
	}

	sigKeys, err := image.ReadKeys(imgCreateKeys)
	if err != nil {
		bsUsage(cmd, err)
	}

	opts := image.ImageCreateOpts{
		SrcBinFilename: args[0],
		Version:        vers,
		SigKeys:        sigKeys,
	}

	img, err := image.GenerateImage(opts)
	if err != nil {
		bsUsage(cmd, err)
	}

	if imgCreateOutput == "" {
		bsUsage(cmd, util.NewNewtError("-o/--output is required"))
	}
	if err := img.WriteToFile(imgCreateOutput); err != nil {
		bsUsage(cmd, err)
	}

	fmt.Printf("Wrote image to %s\n", imgCreateOutput)
}

func imageShowCmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		bsUsage(cmd, util.NewNewtError("image show requires exactly one argument: the image file"))
	}

	img, err := image.ReadImage(args[0])
	if err != nil {
		bsUsage(cmd, err)
	}

	j, err := img.Json()
	if err != nil {
		bsUsage(cmd, err)
	}

	fmt.Println(j)
}

func imageCmd() *cobra.Command {
	imgCmd := &cobra.Command{
		Use:   "image",
		Short: "Create and inspect signed boot images",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	createCmd := &cobra.Command{
		Use:   "create <binary>",
		Short: "Build a signed image from a raw application binary",
		Run:   imageCreateCmd,
	}
	createCmd.Flags().StringVarP(&imgCreateVersion, "version", "v", "0.0.0.0",
		"image version, major.minor.revision.build")
	createCmd.Flags().StringArrayVarP(&imgCreateKeys, "key", "k", nil,
		"signing key file (repeatable); RSA, EC, or Ed25519 PEM")
	createCmd.Flags().StringVarP(&imgCreateOutput, "output", "o", "",
		"output image file")
	imgCmd.AddCommand(createCmd)

	showCmd := &cobra.Command{
		Use:   "show <image>",
		Short: "Print an image's header, TLVs, and hash as JSON",
		Run:   imageShowCmd,
	}
	imgCmd.AddCommand(showCmd)

	return imgCmd
}
