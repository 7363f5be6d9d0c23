package main

import _ "embed"

// The real fb boot loader (fb_mbr_rel/fb_mbr_dbg, a compiled x86 chainloader
// stub) never shipped alongside the rest of the source this tool is ported
// from. These blobs are placeholders with the same shape: a short jmp past
// a 3-byte BPB hole, a NOP-filled boot_code field, and a halting `jmp $`
// where the real loader would hand off to GRLDR/syslinux/whatever chained
// loader a menu entry names. Format/Update copy these in wholesale and then
// stamp the usual header fields (boot_base, fb_magic, max_sec, ...) over
// the tail Sector0 never touches itself.
//
//go:embed assets/mbr_release_sector0.bin
var releaseSector0 []byte

//go:embed assets/mbr_release_boot.bin
var releaseBootCode []byte

//go:embed assets/mbr_debug_sector0.bin
var debugSector0 []byte

//go:embed assets/mbr_debug_boot.bin
var debugBootCode []byte
