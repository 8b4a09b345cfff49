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

// Command bootsim drives the boot core against an in-memory flash device: it
// builds signed images, runs scripted boot scenarios, and inspects
// manufacturing-meta regions, without needing real hardware.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mynewt.apache.org/bootcore/util"
)

func bsUsage(cmd *cobra.Command, err error) {
	if err != nil {
		if nerr, ok := err.(*util.NewtError); ok {
			fmt.Fprintf(os.Stderr, "Error: %s\n", nerr.Text)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		}
	}

	if cmd != nil {
		cmd.Usage()
	}
	os.Exit(1)
}

func parseCmds() *cobra.Command {
	bsCmd := &cobra.Command{
		Use:   "bootsim",
		Short: "bootsim builds images and simulates the A/B boot decision core",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	bsCmd.AddCommand(imageCmd())
	bsCmd.AddCommand(mfgCmd())
	bsCmd.AddCommand(simCmd())
	bsCmd.AddCommand(initCmd())

	return bsCmd
}

func main() {
	cmd := parseCmds()
	cmd.Execute()
}
