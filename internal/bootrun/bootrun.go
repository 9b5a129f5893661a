// Package bootrun implements the top-level control flow main.rs's run()
// and its #[entry] wrapper describe: console setup, watchdog disable,
// resolving and chain-loading one boot entry, and the terminal
// fatal-error/cold-reset behavior when anything along the way fails.
package bootrun

import (
	"context"
	"fmt"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/cmdline"
	"github.com/oberien/opal-uefi-greeter/internal/errs"
	"github.com/oberien/opal-uefi-greeter/internal/initramfs"
	"github.com/oberien/opal-uefi-greeter/internal/logger"
	"github.com/oberien/opal-uefi-greeter/internal/platform"
	"github.com/oberien/opal-uefi-greeter/internal/resolver"
)

// Main is the #[entry] equivalent: run one boot attempt, and on failure log
// it, wait for a keypress, and cold-reset, exactly as main.rs's main() does
// after run() returns an error. It never returns on success, since Start
// only returns on failure per platform.LoadedImage's contract; on a dev
// host where Start does return, Main returns that error to its caller
// instead of looping, since there is no firmware reset to fall back on.
func Main(ctx context.Context, cfg *bootcfg.Config, sys platform.System, entryName string) error {
	err := Run(ctx, cfg, sys, entryName)
	if err == nil {
		return nil
	}
	logger.Logger().Errorf("Error: %v", err)
	logger.Logger().Errorf("Encountered error. Reboot on Enter...")
	_, _ = sys.Console.Prompt("", platform.PromptLine)
	if sys.ColdReset != nil {
		sys.ColdReset(platform.ResetSuccess)
	}
	return err
}

// Run resolves and chain-loads one named boot entry (the default entry if
// entryName is ""), superseding the original's single flat config.image
// with SPEC_FULL's multi-entry, multi-container declarative model. The
// global "unlock every locked secure device up front" pass main.rs's
// run() performs (find_secure_devices) has no equivalent here: SPEC_FULL's
// declarative chain matches unlock targets against specific configured
// partitions instead, via internal/resolver's per-device Opal pre-check,
// triggered lazily as each boot entry's chain is walked.
func Run(ctx context.Context, cfg *bootcfg.Config, sys platform.System, entryName string) error {
	cols, rows := cfg.ConsoleTargetOrDefault()
	if err := sys.Console.SelectBestMode(cols, rows); err != nil {
		logger.Logger().Warnf("bootrun: select console mode %dx%d: %v", cols, rows, err)
	}
	if err := sys.Timer.DisableWatchdog(bootcfg.WatchdogDisableMagic); err != nil {
		logger.Logger().Warnf("bootrun: disable watchdog: %v", err)
	}

	entry, err := selectEntry(cfg, entryName)
	if err != nil {
		return err
	}

	r := resolver.New(cfg, sys)

	kernel, err := r.FindReadFile(ctx, entry.FileRef())
	if err != nil {
		return fmt.Errorf("bootrun: resolve kernel image: %w", err)
	}
	if len(kernel) < 2 || kernel[0] != 0x4d || kernel[1] != 0x5a {
		return fmt.Errorf("bootrun: %w", errs.ErrImageNotPeCoff)
	}

	options := entry.Options
	archive, err := initramfs.Assemble(ctx, r, entry)
	if err != nil {
		return fmt.Errorf("bootrun: assemble initramfs: %w", err)
	}
	if len(archive) > 0 {
		if sys.Memory == nil {
			return fmt.Errorf("bootrun: boot entry %q declares an initramfs but the platform exposes no memory allocator", entry.Name)
		}
		addr, mem, err := sys.Memory.AllocateRuntimeServicesPages(len(archive))
		if err != nil {
			return fmt.Errorf("bootrun: allocate initramfs pages: %w", err)
		}
		copy(mem, archive)
		options = cmdline.WithInitrdMem(options, addr, len(archive))
	}

	if sys.Loader == nil {
		return fmt.Errorf("bootrun: platform exposes no image loader")
	}
	loaded, err := sys.Loader.LoadImage(ctx, kernel)
	if err != nil {
		return fmt.Errorf("bootrun: load image: %w", err)
	}
	if err := loaded.SetLoadOptions(string(cmdline.ToLoadOptionsBytes(options))); err != nil {
		return fmt.Errorf("bootrun: set load options: %w", err)
	}
	if err := loaded.Start(ctx); err != nil {
		return fmt.Errorf("bootrun: start image: %w", err)
	}
	return nil
}

// selectEntry finds the boot entry named name, or the first entry marked
// default when name is "".
func selectEntry(cfg *bootcfg.Config, name string) (bootcfg.BootEntry, error) {
	if name != "" {
		idx, ok := cfg.BootEntryIndex[name]
		if !ok {
			return bootcfg.BootEntry{}, fmt.Errorf("bootrun: undefined boot entry %q: %w", name, errs.ErrFileNotFound)
		}
		return cfg.BootEntries[idx], nil
	}
	for _, e := range cfg.BootEntries {
		if e.Default {
			return e, nil
		}
	}
	if len(cfg.BootEntries) > 0 {
		return cfg.BootEntries[0], nil
	}
	return bootcfg.BootEntry{}, fmt.Errorf("bootrun: no boot entries declared: %w", errs.ErrFileNotFound)
}
