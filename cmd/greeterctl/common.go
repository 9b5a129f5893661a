package main

import (
	"fmt"
	"os"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/platform"
	"github.com/oberien/opal-uefi-greeter/internal/platform/linuxhost"
)

// loadConfigAndSystem parses --config and builds a platform.System wired to
// --image over linuxhost. There is no real ATA/NVMe passthrough wired on
// this reference host (see internal/platform/linuxhost.NoSecurePassthrough),
// so Opal unlock paths are exercised against real devices only when
// greeterctl is pointed at actual /dev block-device nodes on a machine
// whose kernel driver happens to expose passthrough ioctls a future
// build-tag-gated SecurePassthroughOpener could bind to; plain image files
// always report "no Opal capability" for any device, which is correct.
func loadConfigAndSystem() (*bootcfg.Config, platform.System, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, platform.System{}, fmt.Errorf("read %s: %w", configPath, err)
	}
	cfg, err := bootcfg.Load(data)
	if err != nil {
		return nil, platform.System{}, fmt.Errorf("parse %s: %w", configPath, err)
	}
	if len(imagePaths) == 0 {
		return nil, platform.System{}, fmt.Errorf("at least one --image is required")
	}

	sys := platform.System{
		Console: linuxhost.NewConsole(nil, nil),
		Timer:   linuxhost.Timer{},
		Devices: &linuxhost.Devices{Paths: imagePaths},
		Secure:  linuxhost.NoSecurePassthrough{},
	}
	return cfg, sys, nil
}

// loadConfig parses --config alone, for diagnostics that only need the
// declarative graph and never touch a block device.
func loadConfig() (*bootcfg.Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", configPath, err)
	}
	cfg, err := bootcfg.Load(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}
	return cfg, nil
}
