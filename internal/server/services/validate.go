package services

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
)

// MaxUploadSize is the hard ceiling for a single archive.
const MaxUploadSize = 512 << 20

// HeadProbeSize is how many leading bytes the validator inspects for magic
// numbers and embedded script fragments.
const HeadProbeSize = 1024

// Archive signatures. A zip may start with any of the three local/central
// record markers.
var (
	zipMagics = [][]byte{
		{0x50, 0x4B, 0x03, 0x04},
		{0x50, 0x4B, 0x05, 0x06},
		{0x50, 0x4B, 0x07, 0x08},
	}
	sevenZipMagic = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}
	rarMagic      = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07}

	scriptFragments = [][]byte{
		[]byte("<?php"),
		[]byte("<?="),
		[]byte("<script"),
	}
)

// FileMeta describes an incoming file before any bytes are trusted.
// TransportErr carries a receive-side failure (truncated body, aborted
// connection) so the validator can reject incomplete transfers first.
type FileMeta struct {
	Name         string
	Size         int64
	TransportErr error
}

// ValidationResult reports the first reason a file was refused. A file is
// acceptable only when OK is true.
type ValidationResult struct {
	OK     bool
	Reason string
}

func refused(format string, args ...any) ValidationResult {
	return ValidationResult{Reason: fmt.Sprintf(format, args...)}
}

// Validator runs the ordered acceptance checks on upload metadata and the
// leading bytes of the payload. It is pure: no clock, no filesystem, no
// store access.
type Validator struct {
	maxSize int64
}

func NewValidator(maxSize int64) *Validator {
	if maxSize <= 0 {
		maxSize = MaxUploadSize
	}
	return &Validator{maxSize: maxSize}
}

// Validate applies the checks in a fixed order and stops at the first
// failure: transport integrity, size, filename safety, extension, magic
// bytes, embedded script scan. head holds up to HeadProbeSize leading bytes
// of the payload.
func (v *Validator) Validate(meta FileMeta, head []byte) ValidationResult {
	if meta.TransportErr != nil {
		return refused("incomplete transfer: %v", meta.TransportErr)
	}
	if meta.Size <= 0 {
		return refused("empty file")
	}
	if meta.Size > v.maxSize {
		return refused("file exceeds %d bytes", v.maxSize)
	}
	if r := checkName(meta.Name); r != "" {
		return refused("%s", r)
	}

	ext := strings.ToLower(filepath.Ext(meta.Name))
	switch ext {
	case ".zip", ".7z", ".rar":
	default:
		return refused("extension %q not allowed", ext)
	}

	if !magicMatches(ext, head) {
		return refused("content does not match a %s archive", strings.TrimPrefix(ext, "."))
	}

	probe := head
	if len(probe) > HeadProbeSize {
		probe = probe[:HeadProbeSize]
	}
	lower := bytes.ToLower(probe)
	for _, frag := range scriptFragments {
		if bytes.Contains(lower, frag) {
			return refused("embedded script content detected")
		}
	}

	return ValidationResult{OK: true}
}

// checkName rejects names that could escape the storage directory or break
// downstream tooling. Returns an empty string when the name is safe.
func checkName(name string) string {
	if name == "" {
		return "missing filename"
	}
	if len(name) > 255 {
		return "filename too long"
	}
	if strings.ContainsAny(name, "/\\") {
		return "filename contains a path separator"
	}
	if strings.Contains(name, "..") {
		return "filename contains a parent reference"
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7F {
			return "filename contains a control character"
		}
	}
	return ""
}

func magicMatches(ext string, head []byte) bool {
	switch ext {
	case ".zip":
		for _, m := range zipMagics {
			if bytes.HasPrefix(head, m) {
				return true
			}
		}
		return false
	case ".7z":
		return bytes.HasPrefix(head, sevenZipMagic)
	case ".rar":
		return bytes.HasPrefix(head, rarMagic)
	}
	return false
}
