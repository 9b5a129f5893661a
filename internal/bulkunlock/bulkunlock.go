// Package bulkunlock implements C7: a standalone "Unlock configured Opal
// drives" pathway, independent of any boot-entry resolution, for decrypting
// every drive named in config.toml without chain-loading a kernel.
package bulkunlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/errs"
	"github.com/oberien/opal-uefi-greeter/internal/keyslot"
	"github.com/oberien/opal-uefi-greeter/internal/logger"
	"github.com/oberien/opal-uefi-greeter/internal/opal"
	"github.com/oberien/opal-uefi-greeter/internal/platform"
	"github.com/oberien/opal-uefi-greeter/internal/secureproto"
)

// Result reports what happened to one matched partition's drive.
type Result struct {
	Partition string
	DeviceID  string
	Unlocked  bool // false if it was already unlocked (WasLocked() == false)
	Err       error
}

// Run walks every enumerated block device, tries NVMe-then-ATA secure
// transport, reads its serial, and matches it against every configured
// partition's uuid. A match drives the same password-retry/lockout
// sequence spec.md §4.6's Opal pre-check uses, but never touches
// internal/container or internal/resolver: this pathway exists purely to
// decrypt drives for maintenance, not to read a file out of them.
func Run(ctx context.Context, cfg *bootcfg.Config, sys platform.System) ([]Result, error) {
	if sys.Secure == nil {
		return nil, fmt.Errorf("bulkunlock: %w: platform exposes no secure passthrough", errs.ErrUnsupported)
	}
	devices, err := sys.Devices.EnumerateBlockDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("bulkunlock: enumerate block devices: %w", err)
	}

	cache := keyslot.NewCache()
	var results []Result
	for _, h := range devices {
		pt, ok, err := sys.Secure.OpenSecurePassthrough(ctx, h)
		if err != nil || !ok {
			continue
		}
		proto, err := openSecureProtocol(ctx, pt)
		if err != nil {
			logger.Logger().Debugf("bulkunlock: %q has no usable secure transport: %v", h.ID, err)
			continue
		}

		partition, ok := matchPartition(cfg, proto.SerialNum())
		if !ok {
			continue
		}
		logger.Logger().Debugf("bulkunlock: %q matches partition %q (model %q)", h.ID, partition.Name, proto.ModelNumber())

		r := unlockOne(ctx, sys, cache, cfg, proto, partition, h.ID)
		results = append(results, r)
	}
	return results, nil
}

// matchPartition finds the configured partition whose uuid equals the
// drive's trimmed ASCII serial, case/whitespace-insensitively.
func matchPartition(cfg *bootcfg.Config, serial []byte) (bootcfg.Partition, bool) {
	s := trimSerial(serial)
	if s == "" {
		return bootcfg.Partition{}, false
	}
	for _, p := range cfg.Partitions {
		if foldEqual(s, p.UUID) {
			return p, true
		}
	}
	return bootcfg.Partition{}, false
}

func unlockOne(ctx context.Context, sys platform.System, cache *keyslot.Cache, cfg *bootcfg.Config, proto secureproto.SecureProtocol, partition bootcfg.Partition, deviceID string) Result {
	dev, err := opal.NewSecureDevice(ctx, proto)
	if err != nil {
		return Result{Partition: partition.Name, DeviceID: deviceID, Err: fmt.Errorf("bulkunlock: opal discovery: %w", err)}
	}
	if !dev.WasLocked() {
		return Result{Partition: partition.Name, DeviceID: deviceID, Unlocked: false}
	}

	ks, ok := cfg.Keyslots[partition.Keyslot]
	if !ok {
		return Result{Partition: partition.Name, DeviceID: deviceID, Err: fmt.Errorf("bulkunlock: undefined keyslot %q: %w", partition.Keyslot, errs.ErrFileNotFound)}
	}

	if err := unlockWithRetry(ctx, sys, cache, cfg, dev, proto, partition, ks); err != nil {
		return Result{Partition: partition.Name, DeviceID: deviceID, Err: err}
	}
	if err := proto.Reconnect(ctx); err != nil {
		return Result{Partition: partition.Name, DeviceID: deviceID, Err: fmt.Errorf("bulkunlock: reconnect controller after unlock: %w", err)}
	}
	return Result{Partition: partition.Name, DeviceID: deviceID, Unlocked: true}
}

// unlockWithRetry is the password retry loop of original_source/src/
// unlock_opal.rs's try_unlock_device, the same sequence
// internal/resolver's Opal pre-check runs: prompt, attempt, and on a
// rejected password re-prompt with a discarded cache; on a tripped
// bad-password counter, warn, count down, and cold-reset.
func unlockWithRetry(ctx context.Context, sys platform.System, cache *keyslot.Cache, cfg *bootcfg.Config, dev *opal.SecureDevice, proto secureproto.SecureProtocol, partition bootcfg.Partition, ks bootcfg.Keyslot) error {
	mode := keyslot.Cached
	// bulkunlock never recurses through a File-sourced keyslot: the drive
	// being unlocked here is never itself the container a keyfile lives
	// behind in this standalone pathway, so a FileResolver that always
	// fails is the correct behavior for a File-sourced keyslot.
	var noFiles noFileResolver
	for {
		raw, err := keyslot.Resolve(ctx, sys.Console, cache, noFiles, partition.Keyslot, ks, mode)
		if err != nil {
			return fmt.Errorf("bulkunlock: resolve keyslot %q: %w", partition.Keyslot, err)
		}

		var pinHash []byte
		if ks.Source.Stdin {
			pinHash = keyslot.ForOpalStdin(raw, proto.SerialNum())
		} else {
			pinHash, err = keyslot.ForOpalFile(raw)
			if err != nil {
				return fmt.Errorf("bulkunlock: opal key material for %q: %w", partition.Keyslot, err)
			}
		}

		err = opal.Unlock(ctx, dev, pinHash)
		if err == nil {
			return nil
		}
		if errors.Is(err, errs.ErrNotAuthorized) {
			logger.Logger().Infof("Invalid Password, try again!")
			if cfg.ClearOnRetry {
				_ = sys.Console.Clear()
			}
			mode = keyslot.Discard
			continue
		}
		if errors.Is(err, errs.ErrAuthorityLockedOut) {
			logger.Logger().Warnf("Too many bad tries, SED locked out, resetting in 10s..")
			sys.Timer.Sleep(10 * time.Second)
			if sys.ColdReset != nil {
				sys.ColdReset(platform.ResetWarnRequired)
			}
			return err
		}
		return fmt.Errorf("bulkunlock: opal unlock: %w", err)
	}
}

// noFileResolver rejects any File-sourced keyslot; bulkunlock's standalone
// path has no partition chain to recurse through.
type noFileResolver struct{}

func (noFileResolver) ResolveFile(ctx context.Context, partition, file string, extraPartitions []string) ([]byte, error) {
	return nil, fmt.Errorf("bulkunlock: file-sourced keyslots are not supported outside boot resolution: %w", errs.ErrUnsupported)
}

// openSecureProtocol mirrors internal/resolver's transport-selection rule:
// try NVMe first, fall back to ATA only if the NVMe Identify Controller
// command itself fails.
func openSecureProtocol(ctx context.Context, pt platform.SecurePassthrough) (secureproto.SecureProtocol, error) {
	if nvme, err := secureproto.NewNVMeTransport(ctx, pt); err == nil {
		return nvme, nil
	}
	ata, err := secureproto.NewATATransport(ctx, pt)
	if err != nil {
		return nil, fmt.Errorf("no usable secure transport: %w", err)
	}
	return ata, nil
}

func trimSerial(serial []byte) string {
	trimmed := make([]byte, 0, len(serial))
	for _, b := range serial {
		if b == 0 {
			break
		}
		trimmed = append(trimmed, b)
	}
	return string(trimmed)
}

func foldEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
