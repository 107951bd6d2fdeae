// Copyright (c) EDYSuperCore 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package fetch downloads driver packages from a source locator into a
// job's staging directory. Locators use Hashicorp's go-getter syntax, so
// local paths, HTTP(S) URLs and the other getter schemes all work.
package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	getter "github.com/hashicorp/go-getter/v2"

	"github.com/EDYSuperCore/ePrinty-sub000/internal/ctxlog"
)

// ErrDownload is returned when the source locator cannot be fetched.
var ErrDownload = errors.New("failed to download driver package")

// Download fetches src into dstDir and returns the local path of the
// fetched file.
func Download(ctx context.Context, src, dstDir string) (string, error) {
	if src == "" {
		return "", errors.Join(ErrDownload, errors.New("empty source locator"))
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", errors.Join(ErrDownload, err)
	}

	dst := filepath.Join(dstDir, filepath.Base(src))

	client := getter.Client{
		DisableSymlinks: true,
	}

	req := &getter.Request{
		Src:     src,
		Dst:     dst,
		Pwd:     wd,
		GetMode: getter.ModeFile,
	}

	ctxlog.Debug(ctx, "downloading driver package", "src", src, "dst", dst)

	res, err := client.Get(ctx, req)
	if err != nil {
		return "", errors.Join(ErrDownload, err)
	}

	return res.Dst, nil
}
