package container

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/oberien/opal-uefi-greeter/internal/blockio"
	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/errs"
)

// gptSignature is the 8-byte magic at the start of the GPT header LBA.
var gptSignature = [8]byte{'E', 'F', 'I', ' ', 'P', 'A', 'R', 'T'}

// gptRevision1 is the only revision spec.md §4.5 accepts; MBR-style tables
// are never interpreted as a partition table by this probe.
const gptRevision1 = 0x00010000

// gptSectorSizeCandidates are tried in order to locate LBA1, since a GPT
// header carries no indication of the sector size that was used to lay it
// out — the candidate that actually produces "EFI PART" wins.
var gptSectorSizeCandidates = []int64{512, 4096}

type gptEntry struct {
	typeGUID   [16]byte
	uniqueGUID [16]byte
	firstLBA   uint64
	lastLBA    uint64
}

// probeGPT hand-parses a GUID partition table directly off rs rather than
// going through go-diskfs's Disk abstraction: that abstraction is built
// around one physical os.File per Disk, not the recursively nested,
// in-memory-windowed readers this module's container chain produces at
// every other layer, so reading the fixed-size binary GPT header/entry
// array by hand (the same byte-level technique the teacher's own raw-fs
// sniffer uses for ext4/FAT) is the straighter path. It is transparent to
// the chain: every entry is probed with the *same* remaining chain as the
// multiplexed candidate for the expected outer partition.
func probeGPT(ctx context.Context, rs io.ReadSeeker, chain []bootcfg.Partition, targetFile string, deps Deps) ([]byte, error) {
	sectorSize, header, err := readGPTHeader(rs)
	if err != nil {
		return nil, fmt.Errorf("gpt: %w: %v", errs.ErrFileNotFound, err)
	}

	entries, err := readGPTEntries(rs, sectorSize, header)
	if err != nil {
		return nil, fmt.Errorf("gpt: read partition entries: %w", err)
	}

	var probeErr error
	for _, e := range entries {
		if e.firstLBA == 0 && e.lastLBA == 0 {
			continue
		}
		startByte := int64(e.firstLBA) * sectorSize
		lengthByte := int64(e.lastLBA-e.firstLBA+1) * sectorSize

		entryReader := blockio.NewPartialReader(rs, startByte, lengthByte)
		data, err := Resolve(ctx, entryReader, chain, targetFile, deps)
		if err == nil {
			return data, nil
		}
		probeErr = err
	}
	if probeErr == nil {
		probeErr = errs.ErrFileNotFound
	}
	return nil, fmt.Errorf("gpt: no partition table entry matched: %w", probeErr)
}

// EFISystemPartitionGUID is the well-known GPT partition type GUID for an
// EFI System Partition, used by cmd/greeterctl's --guess-esp diagnostic
// mode to reproduce the original's find_boot_partition ESP scan.
const EFISystemPartitionGUID = "c12a7328-f81f-11d2-ba4b-00a0c93ec93b"

// GPTPartitionInfo is a read-only summary of one GPT partition table entry.
type GPTPartitionInfo struct {
	TypeGUID   string
	UniqueGUID string
	FirstLBA   uint64
	LastLBA    uint64
}

// ListGPTPartitions reads a GPT header and its entry array off rs and
// returns every non-empty entry, for diagnostic tooling that needs the raw
// partition list rather than a resolved file.
func ListGPTPartitions(rs io.ReadSeeker) ([]GPTPartitionInfo, error) {
	sectorSize, header, err := readGPTHeader(rs)
	if err != nil {
		return nil, fmt.Errorf("gpt: %w: %v", errs.ErrFileNotFound, err)
	}
	entries, err := readGPTEntries(rs, sectorSize, header)
	if err != nil {
		return nil, fmt.Errorf("gpt: read partition entries: %w", err)
	}
	infos := make([]GPTPartitionInfo, 0, len(entries))
	for _, e := range entries {
		if e.firstLBA == 0 && e.lastLBA == 0 {
			continue
		}
		infos = append(infos, GPTPartitionInfo{
			TypeGUID:   formatGPTGUID(e.typeGUID[:]),
			UniqueGUID: formatGPTGUID(e.uniqueGUID[:]),
			FirstLBA:   e.firstLBA,
			LastLBA:    e.lastLBA,
		})
	}
	return infos, nil
}

type gptHeader struct {
	headerLBA       uint64
	partitionLBA    uint64
	numEntries      uint32
	entrySize       uint32
}

func readGPTHeader(rs io.ReadSeeker) (int64, gptHeader, error) {
	for _, sectorSize := range gptSectorSizeCandidates {
		if _, err := rs.Seek(sectorSize, io.SeekStart); err != nil {
			return 0, gptHeader{}, err
		}
		buf := make([]byte, 92)
		if _, err := io.ReadFull(rs, buf); err != nil {
			continue
		}
		if string(buf[0:8]) != string(gptSignature[:]) {
			continue
		}
		revision := binary.LittleEndian.Uint32(buf[8:12])
		if revision != gptRevision1 {
			continue
		}
		h := gptHeader{
			headerLBA:    binary.LittleEndian.Uint64(buf[24:32]),
			partitionLBA: binary.LittleEndian.Uint64(buf[72:80]),
			numEntries:   binary.LittleEndian.Uint32(buf[80:84]),
			entrySize:    binary.LittleEndian.Uint32(buf[84:88]),
		}
		return sectorSize, h, nil
	}
	return 0, gptHeader{}, fmt.Errorf("no LBA1 candidate produced a valid revision-1 GPT header")
}

func readGPTEntries(rs io.ReadSeeker, sectorSize int64, h gptHeader) ([]gptEntry, error) {
	if h.entrySize < 128 || h.numEntries == 0 || h.numEntries > 4096 {
		return nil, fmt.Errorf("implausible entry geometry: size=%d count=%d", h.entrySize, h.numEntries)
	}
	off := int64(h.partitionLBA) * sectorSize
	if _, err := rs.Seek(off, io.SeekStart); err != nil {
		return nil, err
	}
	entries := make([]gptEntry, 0, h.numEntries)
	buf := make([]byte, h.entrySize)
	for i := uint32(0); i < h.numEntries; i++ {
		if _, err := io.ReadFull(rs, buf); err != nil {
			return nil, err
		}
		var e gptEntry
		copy(e.typeGUID[:], buf[0:16])
		copy(e.uniqueGUID[:], buf[16:32])
		e.firstLBA = binary.LittleEndian.Uint64(buf[32:40])
		e.lastLBA = binary.LittleEndian.Uint64(buf[40:48])
		entries = append(entries, e)
	}
	return entries, nil
}
