// Package resolver implements C6: the top-level orchestrator that, given a
// boot entry's partition/file reference, walks every visible block device,
// optionally unlocks an Opal self-encrypting drive standing in the way, and
// recurses into internal/container to produce the resolved file's bytes.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oberien/opal-uefi-greeter/internal/blockio"
	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/container"
	"github.com/oberien/opal-uefi-greeter/internal/errs"
	"github.com/oberien/opal-uefi-greeter/internal/keyslot"
	"github.com/oberien/opal-uefi-greeter/internal/logger"
	"github.com/oberien/opal-uefi-greeter/internal/opal"
	"github.com/oberien/opal-uefi-greeter/internal/platform"
	"github.com/oberien/opal-uefi-greeter/internal/secureproto"
)

// spuriousBlockSize and spuriousEndLBA identify the 256-TiB stub devices
// some firmware enumerates for unpopulated controller slots.
const spuriousEndLBA = 0xFFFFFFFF
const spuriousBlockSize = 65535

// Resolver holds everything C6 needs across the lifetime of one boot
// selection: the parsed config, the platform capability bundle, and the two
// caches (keyslot material, LUKS2 master keys) shared across every lookup
// so a password is only asked for once.
type Resolver struct {
	cfg        *bootcfg.Config
	sys        platform.System
	keyslots   *keyslot.Cache
	masterKeys *container.MasterKeyCache
}

// New constructs a Resolver with fresh, empty caches.
func New(cfg *bootcfg.Config, sys platform.System) *Resolver {
	return &Resolver{
		cfg:        cfg,
		sys:        sys,
		keyslots:   keyslot.NewCache(),
		masterKeys: container.NewMasterKeyCache(),
	}
}

// ResolveFile implements keyslot.FileResolver: a File-sourced keyslot
// recurses back into this same resolver to obtain its key material,
// closing the loop C4 and C5 were built against an injected interface for.
func (r *Resolver) ResolveFile(ctx context.Context, partition, file string, extraPartitions []string) ([]byte, error) {
	return r.FindReadFile(ctx, bootcfg.FileRef{Partition: partition, File: file, ExtraPartitions: extraPartitions})
}

// FindReadFile resolves one FileRef: it opportunistically primes every
// listed extra_partitions (ignoring their errors — this exists purely to
// populate the master-key/keyslot caches before the main lookup, per
// spec.md §4.6) and then performs the real lookup.
func (r *Resolver) FindReadFile(ctx context.Context, ref bootcfg.FileRef) ([]byte, error) {
	for _, extra := range ref.ExtraPartitions {
		if _, err := r.resolvePartitionFile(ctx, extra, ref.File); err != nil {
			logger.Logger().Debugf("resolver: speculative extra_partitions prime of %q failed (ignored): %v", extra, err)
		}
	}
	return r.resolvePartitionFile(ctx, ref.Partition, ref.File)
}

func (r *Resolver) resolvePartitionFile(ctx context.Context, partitionName, file string) ([]byte, error) {
	chain, err := buildChain(r.cfg, partitionName)
	if err != nil {
		return nil, err
	}
	return r.findReadFile(ctx, chain, file)
}

// findReadFile is find_read_file(cfg, chain, file_path): enumerate every
// block device, skip spurious stubs, try an Opal pre-check/unlock against
// the outermost chain entry, and otherwise hand the device's whole byte
// range (from LBA 0, not start_lba, so any leading reserved area is
// visible to GPT/LVM) to C5.
func (r *Resolver) findReadFile(ctx context.Context, chain []bootcfg.Partition, targetFile string) ([]byte, error) {
	devices, err := r.sys.Devices.EnumerateBlockDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolver: enumerate block devices: %w", err)
	}

	var lastErr error
	for _, h := range devices {
		if isSpuriousStub(h) {
			logger.Logger().Debugf("resolver: skipping spurious stub device %q", h.ID)
			continue
		}

		if len(chain) > 0 && chain[0].UUID != "" {
			unlocked, err := r.tryOpalPreCheck(ctx, h, chain[0])
			if err != nil {
				lastErr = err
				continue
			}
			if unlocked {
				// The outer partition is this drive; after an unlock the
				// namespace behind it only becomes visible to enumeration
				// following the controller reconnect, so re-enumerate from
				// scratch with the outer partition consumed.
				return r.findReadFile(ctx, chain[1:], targetFile)
			}
		}

		data, err := r.probeDevice(ctx, h, chain, targetFile)
		if err == nil {
			return data, nil
		}
		logger.Logger().Debugf("resolver: device %q exhausted: %v", h.ID, err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errs.ErrFileNotFound
	}
	return nil, fmt.Errorf("resolver: %w", lastErr)
}

func (r *Resolver) probeDevice(ctx context.Context, h platform.BlockDeviceHandle, chain []bootcfg.Partition, targetFile string) ([]byte, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("resolver: empty chain: %w", errs.ErrFileNotFound)
	}
	bio, err := r.sys.Devices.OpenBlockIO(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("resolver: open block io on %q: %w", h.ID, err)
	}
	raw, err := blockio.NewBlockIoReader(ctx, bio, 0, h.EndLBA)
	if err != nil {
		return nil, fmt.Errorf("resolver: block io reader on %q: %w", h.ID, err)
	}
	rs := blockio.NewOptimizedSeek(raw)
	return container.Resolve(ctx, rs, chain, targetFile, r.containerDeps())
}

func (r *Resolver) containerDeps() container.Deps {
	return container.Deps{
		Console:      r.sys.Console,
		Cache:        r.keyslots,
		Keyslots:     r.cfg.Keyslots,
		MasterKeys:   r.masterKeys,
		FileResolver: r,
	}
}

// isSpuriousStub matches spec.md §4.6's firmware-stub heuristic: a handle
// reporting start_lba=0, end_lba=0xFFFFFFFF, block_size=65535 is a
// 256-TiB placeholder for an unpopulated controller slot, not a real device.
func isSpuriousStub(h platform.BlockDeviceHandle) bool {
	return h.StartLBA == 0 && h.EndLBA == spuriousEndLBA && h.BlockSize == spuriousBlockSize
}

// BuildChain exposes buildChain for diagnostic tooling (greeterctl
// inspect-chain) that needs to report the partition chain without driving a
// full resolution.
func BuildChain(cfg *bootcfg.Config, name string) ([]bootcfg.Partition, error) {
	return buildChain(cfg, name)
}

// buildChain walks Partition.Parent pointers from name up to the root
// (Parent == ""), then reverses the result so chain[0] is the outermost
// partition (the one living directly on the raw device) and chain[len-1]
// is the one named by the caller.
func buildChain(cfg *bootcfg.Config, name string) ([]bootcfg.Partition, error) {
	var chain []bootcfg.Partition
	seen := make(map[string]bool)
	cur := name
	for cur != "" {
		if seen[cur] {
			return nil, fmt.Errorf("resolver: partition chain cycle at %q", cur)
		}
		seen[cur] = true
		p, ok := cfg.Partitions[cur]
		if !ok {
			return nil, fmt.Errorf("resolver: undefined partition %q: %w", cur, errs.ErrFileNotFound)
		}
		chain = append(chain, p)
		cur = p.Parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// tryOpalPreCheck opens a secure-passthrough channel on h, and if its
// reported serial matches expected.UUID, runs the password-retry loop
// against it if it is locked (then reconnects the controller) and reports
// true, so the caller consumes the outer partition whether or not an unlock
// was needed. A handle with no secure passthrough, or whose serial doesn't
// match, is reported as (false, nil) so the caller falls through to a plain
// container probe.
func (r *Resolver) tryOpalPreCheck(ctx context.Context, h platform.BlockDeviceHandle, expected bootcfg.Partition) (bool, error) {
	if r.sys.Secure == nil {
		return false, nil
	}
	pt, ok, err := r.sys.Secure.OpenSecurePassthrough(ctx, h)
	if err != nil || !ok {
		return false, nil
	}
	proto, err := openSecureProtocol(ctx, pt)
	if err != nil {
		return false, nil
	}
	if !sameSerial(proto.SerialNum(), expected.UUID) {
		return false, nil
	}

	dev, err := opal.NewSecureDevice(ctx, proto)
	if err != nil {
		return false, fmt.Errorf("resolver: opal discovery on %q: %w", h.ID, err)
	}
	if !dev.WasLocked() {
		return true, nil
	}

	ks, ok := r.cfg.Keyslots[expected.Keyslot]
	if !ok {
		return false, fmt.Errorf("resolver: undefined keyslot %q for partition %q: %w", expected.Keyslot, expected.Name, errs.ErrFileNotFound)
	}

	if err := r.unlockWithRetry(ctx, dev, proto, expected, ks); err != nil {
		return false, err
	}
	if err := proto.Reconnect(ctx); err != nil {
		return false, fmt.Errorf("resolver: reconnect controller after unlock: %w", err)
	}
	return true, nil
}

// unlockWithRetry is the Opal pre-check's password retry loop: prompt,
// attempt, and on a rejected password re-prompt with a discarded cache; on a
// tripped bad-password counter, warn, count down, and cold-reset.
// internal/container's LUKS2 probe and internal/bulkunlock each run their
// own copy of this loop.
func (r *Resolver) unlockWithRetry(ctx context.Context, dev *opal.SecureDevice, proto secureproto.SecureProtocol, partition bootcfg.Partition, ks bootcfg.Keyslot) error {
	mode := keyslot.Cached
	for {
		raw, err := keyslot.Resolve(ctx, r.sys.Console, r.keyslots, r, partition.Keyslot, ks, mode)
		if err != nil {
			return fmt.Errorf("resolver: resolve keyslot %q: %w", partition.Keyslot, err)
		}

		var pinHash []byte
		if ks.Source.Stdin {
			pinHash = keyslot.ForOpalStdin(raw, proto.SerialNum())
		} else {
			pinHash, err = keyslot.ForOpalFile(raw)
			if err != nil {
				return fmt.Errorf("resolver: opal key material for %q: %w", partition.Keyslot, err)
			}
		}

		err = opal.Unlock(ctx, dev, pinHash)
		if err == nil {
			return nil
		}
		if errors.Is(err, errs.ErrNotAuthorized) {
			logger.Logger().Infof("Invalid Password, try again!")
			if r.cfg.ClearOnRetry {
				_ = r.sys.Console.Clear()
			}
			mode = keyslot.Discard
			continue
		}
		if errors.Is(err, errs.ErrAuthorityLockedOut) {
			logger.Logger().Warnf("Too many bad tries, SED locked out, resetting in 10s..")
			r.sys.Timer.Sleep(10 * time.Second)
			if r.sys.ColdReset != nil {
				r.sys.ColdReset(platform.ResetWarnRequired)
			}
			return err
		}
		return fmt.Errorf("resolver: opal unlock: %w", err)
	}
}

// openSecureProtocol implements C7/C6's shared transport-selection rule:
// try NVMe first, and only fall back to ATA if the NVMe Identify Controller
// command itself fails (i.e. the passthrough isn't actually NVMe).
func openSecureProtocol(ctx context.Context, pt platform.SecurePassthrough) (secureproto.SecureProtocol, error) {
	if nvme, err := secureproto.NewNVMeTransport(ctx, pt); err == nil {
		return nvme, nil
	}
	ata, err := secureproto.NewATATransport(ctx, pt)
	if err != nil {
		return nil, fmt.Errorf("resolver: no usable secure transport: %w", err)
	}
	return ata, nil
}

// sameSerial compares a drive's raw ASCII serial field (space/NUL-padded)
// against a configured UUID string, trimming the padding before a
// case/whitespace-insensitive comparison (mirroring container.sameUUID,
// which this package cannot call directly since it is unexported there).
func sameSerial(serial []byte, uuid string) bool {
	trimmed := make([]byte, 0, len(serial))
	for _, b := range serial {
		if b == 0 {
			break
		}
		trimmed = append(trimmed, b)
	}
	s := strings.ToLower(strings.TrimSpace(string(trimmed)))
	u := strings.ToLower(strings.TrimSpace(uuid))
	return s != "" && s == u
}
