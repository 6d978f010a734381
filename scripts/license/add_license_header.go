// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// add_license_header adds or checks the license headers of the Go sources
// and the module file of this repository.
//
// Usage: go run ./scripts/license --dir . [--check]
package main

import (
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

//go:embed license_header.txt
var licenseHeader string

var (
	dirFlag = cli.StringFlag{
		Name:     "dir",
		Usage:    "directory to process recursively",
		Required: true,
	}
	checkFlag = cli.BoolFlag{
		Name:  "check",
		Usage: "only verify headers, do not modify files",
	}
)

// ignored lists path fragments of files never processed.
var ignored = []string{"/_examples/", "/.git/"}

func main() {
	app := &cli.App{
		Name:   "add-license-header",
		Usage:  "adds or checks license headers",
		Flags:  []cli.Flag{&dirFlag, &checkFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	dir := ctx.String(dirFlag.Name)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("invalid target directory %q: %w", dir, err)
	}
	files, err := collectFiles(dir)
	if err != nil {
		return err
	}
	header := addPrefix(licenseHeader, "//")
	check := ctx.Bool(checkFlag.Name)
	var errs []error
	for _, file := range files {
		if err := processFile(file, header, check); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info("Processed license headers", "files", len(files), "failures", len(errs))
	return errors.Join(errs...)
}

// collectFiles lists all Go sources and module files below dir.
func collectFiles(dir string) ([]string, error) {
	var res []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || shouldIgnore(filepath.ToSlash(path)) {
			return nil
		}
		if strings.HasSuffix(path, ".go") || filepath.Base(path) == "go.mod" {
			res = append(res, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %s: %w", dir, err)
	}
	return res, nil
}

func shouldIgnore(path string) bool {
	for _, fragment := range ignored {
		if strings.Contains("/"+path, fragment) {
			return true
		}
	}
	return false
}

// processFile checks that the file starts with the given header exactly
// once. Unless checkOnly is set, a missing header is added.
func processFile(file, header string, checkOnly bool) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	if bytes.HasPrefix(content, []byte("// Code generated")) {
		return nil
	}
	if bytes.HasPrefix(content, []byte(header)) {
		firstLine, _, _ := strings.Cut(header, "\n")
		if bytes.Contains(content[len(header):], []byte(firstLine)) {
			return fmt.Errorf("double license header in %s", file)
		}
		return nil
	}
	if checkOnly {
		return fmt.Errorf("missing or incorrect license header: %s", file)
	}
	info, err := os.Stat(file)
	if err != nil {
		return err
	}
	return os.WriteFile(file, append([]byte(header+"\n"), content...), info.Mode().Perm())
}

func addPrefix(license, prefix string) string {
	var buf bytes.Buffer
	s := bufio.NewScanner(strings.NewReader(license))
	for s.Scan() {
		if line := s.Text(); line == "" {
			buf.WriteString(prefix + "\n")
		} else {
			buf.WriteString(prefix + " " + line + "\n")
		}
	}
	return buf.String()
}
