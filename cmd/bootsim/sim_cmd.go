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
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ed25519"

	"mynewt.apache.org/bootcore/artifact/flash"
	"mynewt.apache.org/bootcore/artifact/image"
	"mynewt.apache.org/bootcore/artifact/manifest"
	"mynewt.apache.org/bootcore/boot"
	"mynewt.apache.org/bootcore/boot/flashsim"
	"mynewt.apache.org/bootcore/boot/split"
	"mynewt.apache.org/bootcore/boot/validate"
	"mynewt.apache.org/bootcore/bootcfg"
	"mynewt.apache.org/bootcore/util"
)

var (
	simKeys   []string
	simOutput string
)

// scenario is the live state a scripted run accumulates: the simulated
// device, its area table, and the policy store split mode reads from. One
// scenario is shared across every line of a script, the same way a real
// device's flash and config region persist across resets.
type scenario struct {
	dev     *flashsim.Device
	table   *flashsim.AreaTable
	store   bootcfg.Store
	keys    []validate.TrustedKey
	last    *manifest.BootManifest
	devName string
}

func newScenario() *scenario {
	return &scenario{
		dev:   flashsim.NewDevice(1),
		table: flashsim.NewAreaTable(0),
		store: bootcfg.NewMemStore(),
	}
}

func (s *scenario) verifier() validate.Verifier {
	if len(s.keys) == 0 {
		return nil
	}
	return &validate.KeyVerifier{Keys: s.keys}
}

func (s *scenario) bootReq() *boot.Request {
	return &boot.Request{
		Dev:      s.dev,
		Table:    s.table,
		BufSz:    256,
		Verifier: s.verifier(),
	}
}

func (s *scenario) bootSlot(area flash.FlashArea, hdr *image.ImageHdr) *manifest.BootSlot {
	slot := &manifest.BootSlot{
		FlashID: area.Device,
		Offset:  area.Offset,
	}
	if hdr != nil {
		slot.Version = hdr.Vers.String()
	}
	return slot
}

// run executes one tokenized scenario-script line. Unrecognized commands and
// malformed arguments are reported as *util.NewtError so the CLI's usage
// path can surface them without a panic.
func (s *scenario) run(tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	switch tokens[0] {
	case "sectorsize":
		if len(tokens) != 2 {
			return util.NewNewtError("usage: sectorsize <bytes>")
		}
		n, err := cast.ToIntE(tokens[1])
		if err != nil {
			return util.FmtChildNewtError(err, "sectorsize")
		}
		s.table.SectorSize = n
		return nil

	case "align":
		if len(tokens) != 2 {
			return util.NewNewtError("usage: align <bytes>")
		}
		n, err := cast.ToIntE(tokens[1])
		if err != nil {
			return util.FmtChildNewtError(err, "align")
		}
		s.dev = flashsim.NewDevice(n)
		return nil

	case "area":
		if len(tokens) != 6 {
			return util.NewNewtError("usage: area <id> <name> <device> <offset> <size>")
		}
		id, err := cast.ToIntE(tokens[1])
		if err != nil {
			return util.FmtChildNewtError(err, "area id")
		}
		device, err := cast.ToIntE(tokens[3])
		if err != nil {
			return util.FmtChildNewtError(err, "area device")
		}
		offset, err := cast.ToIntE(tokens[4])
		if err != nil {
			return util.FmtChildNewtError(err, "area offset")
		}
		size, err := cast.ToIntE(tokens[5])
		if err != nil {
			return util.FmtChildNewtError(err, "area size")
		}
		s.table.Add(flash.FlashArea{
			Id:     id,
			Name:   tokens[2],
			Device: device,
			Offset: offset,
			Size:   size,
		})
		return s.table.Validate()

	case "key":
		if len(tokens) != 2 {
			return util.NewNewtError("usage: key <pem-file>")
		}
		sigKey, err := image.ReadKey(tokens[1])
		if err != nil {
			return err
		}
		tk, err := trustedKeyFromSigKey(sigKey)
		if err != nil {
			return err
		}
		s.keys = append(s.keys, tk)
		return nil

	case "load":
		if len(tokens) != 3 {
			return util.NewNewtError("usage: load <area-id> <image-file>")
		}
		id, err := cast.ToIntE(tokens[1])
		if err != nil {
			return util.FmtChildNewtError(err, "load area id")
		}
		area, err := s.table.Open(id)
		if err != nil {
			return err
		}
		bin, err := os.ReadFile(tokens[2])
		if err != nil {
			return util.ChildNewtError(err)
		}
		if len(bin) > area.Size {
			return util.FmtNewtError(
				"image file %s (%d bytes) does not fit in area %d (%d bytes)",
				tokens[2], len(bin), id, area.Size)
		}
		if err := s.dev.Erase(area.Device, area.Offset, area.Size); err != nil {
			return err
		}
		return s.dev.Write(area.Device, area.Offset, bin)

	case "pending":
		return boot.SetPending(s.bootReq())

	case "confirm":
		return boot.SetConfirmed(s.bootReq())

	case "split-mode":
		if len(tokens) != 2 {
			return util.NewNewtError("usage: split-mode <none|test|app>")
		}
		var mode split.Mode
		switch tokens[1] {
		case "none":
			mode = split.ModeNone
		case "test":
			mode = split.ModeTest
		case "app":
			mode = split.ModeApp
		default:
			return util.FmtNewtError("unrecognized split mode %q", tokens[1])
		}
		return split.WriteMode(s.store, mode)

	case "boot":
		resp, err := boot.Go(s.bootReq())
		m := &manifest.BootManifest{Name: s.devName}
		if err != nil {
			m.Error = err.Error()
			s.last = m
			return err
		}
		m.SwapType = resp.SwapType.String()
		m.Booted = s.bootSlot(resp.Area, &resp.Header)
		s.last = m
		return nil

	case "save":
		if len(tokens) != 2 {
			return util.NewNewtError("usage: save <manifest-file>")
		}
		if s.last == nil {
			return util.NewNewtError("no boot has run yet; nothing to save")
		}
		f, err := os.Create(tokens[1])
		if err != nil {
			return util.ChildNewtError(err)
		}
		defer f.Close()
		_, err = s.last.Write(f)
		return err

	case "#":
		return nil

	default:
		return util.FmtNewtError("unrecognized scenario command %q", tokens[0])
	}
}

func trustedKeyFromSigKey(k image.ImageSigKey) (validate.TrustedKey, error) {
	switch {
	case k.Rsa != nil:
		return validate.TrustedKey{Rsa: &k.Rsa.PublicKey}, nil
	case k.Ec != nil:
		return validate.TrustedKey{Ec: &k.Ec.PublicKey}, nil
	case k.Ed25519 != nil:
		pub := k.Ed25519.Public().(ed25519.PublicKey)
		return validate.TrustedKey{Ed25519: pub}, nil
	default:
		return validate.TrustedKey{}, util.NewNewtError("key has no recognized public half")
	}
}

func simRunCmd(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		bsUsage(cmd, util.NewNewtError("sim run requires exactly one argument: the scenario script"))
	}

	f, err := os.Open(args[0])
	if err != nil {
		bsUsage(cmd, util.ChildNewtError(err))
	}
	defer f.Close()

	s := newScenario()
	s.devName = args[0]

	for _, k := range simKeys {
		sigKey, err := image.ReadKey(k)
		if err != nil {
			bsUsage(cmd, err)
		}
		tk, err := trustedKeyFromSigKey(sigKey)
		if err != nil {
			bsUsage(cmd, err)
		}
		s.keys = append(s.keys, tk)
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens, err := shellquote.Split(line)
		if err != nil {
			bsUsage(cmd, util.FmtChildNewtError(err, "line %d", lineNo))
		}

		if err := s.run(tokens); err != nil {
			bsUsage(cmd, util.FmtChildNewtError(err, "line %d: %s", lineNo, line))
		}
	}
	if err := scanner.Err(); err != nil {
		bsUsage(cmd, util.ChildNewtError(err))
	}

	if s.last == nil {
		bsUsage(cmd, util.NewNewtError("scenario script never ran a boot"))
	}

	if simOutput != "" {
		out, err := os.Create(simOutput)
		if err != nil {
			bsUsage(cmd, util.ChildNewtError(err))
		}
		defer out.Close()
		if _, err := s.last.Write(out); err != nil {
			bsUsage(cmd, err)
		}
	} else {
		s.last.Write(os.Stdout)
	}

	if s.last.Error != "" {
		fmt.Fprintf(os.Stderr, "boot decision failed: %s\n", s.last.Error)
		os.Exit(1)
	}
}

func simCmd() *cobra.Command {
	sCmd := &cobra.Command{
		Use:   "sim",
		Short: "Run scripted boot scenarios against an in-memory flash device",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	runCmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Interpret a scenario script and print the resulting boot manifest",
		Run:   simRunCmd,
	}
	runCmd.Flags().StringArrayVarP(&simKeys, "key", "k", nil,
		"trusted signing key file (repeatable); only the public half is used")
	runCmd.Flags().StringVarP(&simOutput, "output", "o", "",
		"write the boot manifest here instead of stdout")
	sCmd.AddCommand(runCmd)

	return sCmd
}
