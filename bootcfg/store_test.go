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

package bootcfg_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"mynewt.apache.org/bootcore/bootcfg"
)

func TestMemStoreGetAbsent(t *testing.T) {
	s := bootcfg.NewMemStore()

	_, ok, err := s.Get("missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Get() on an absent key reported present")
	}
}

func TestMemStoreSetGet(t *testing.T) {
	s := bootcfg.NewMemStore()

	if err := s.Set("split_mode", "test"); err != nil {
		t.Fatal(err)
	}

	v, ok, err := s.Get("split_mode")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "test" {
		t.Errorf("Get() = (%q, %v), want (\"test\", true)", v, ok)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "bootcfgtest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.json")
	s := bootcfg.NewFileStore(path)

	if _, ok, err := s.Get("split_mode"); err != nil || ok {
		t.Fatalf("Get() on a never-created file = (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	if err := s.Set("split_mode", "app"); err != nil {
		t.Fatal(err)
	}

	// A second Store instance pointed at the same path picks up the write.
	s2 := bootcfg.NewFileStore(path)
	v, ok, err := s2.Get("split_mode")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "app" {
		t.Errorf("Get() = (%q, %v), want (\"app\", true)", v, ok)
	}
}
