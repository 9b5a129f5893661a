// Package container implements C5: the fixed-order probe stack that, given
// a reader positioned at the start of one candidate container and the
// remaining declared chain, tries LVM2, LUKS2, ext4, FAT and GPT in turn,
// rewinding between attempts so each probe sees a fresh stream.
package container

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/errs"
	"github.com/oberien/opal-uefi-greeter/internal/keyslot"
	"github.com/oberien/opal-uefi-greeter/internal/logger"
	"github.com/oberien/opal-uefi-greeter/internal/platform"
)

// MasterKeyCache is luks_masterkey_buffer: a cache of already-derived LUKS2
// volume master keys, keyed by the LUKS UUID, so a password only has to be
// unlocked once even if several boot entries route through the same
// encrypted partition.
type MasterKeyCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMasterKeyCache returns an empty cache.
func NewMasterKeyCache() *MasterKeyCache {
	return &MasterKeyCache{data: make(map[string][]byte)}
}

func (c *MasterKeyCache) get(uuid string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.data[uuid]
	return k, ok
}

func (c *MasterKeyCache) set(uuid string, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[uuid] = key
}

// Discard drops a cached master key, used when the resolver must retry a
// chain after a password rejection instead of replaying a stale key.
func (c *MasterKeyCache) Discard(uuid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, uuid)
}

// Deps bundles the cross-package capabilities probes need: C4's keyslot
// resolution (for LUKS2 passwords) and the master-key cache. FileResolver
// is injected by internal/resolver (C6), which wraps this package, so a
// File-sourced keyslot can itself recurse through another container chain
// without internal/container importing internal/resolver.
type Deps struct {
	Console      platform.Console
	Cache        *keyslot.Cache
	Keyslots     map[string]bootcfg.Keyslot
	MasterKeys   *MasterKeyCache
	FileResolver keyslot.FileResolver
}

// probeFunc attempts to interpret rs as one container kind. chain[0] is the
// partition expected at this layer; chain[1:] is what remains to be walked
// after this layer is peeled. Probes that are transparent to the chain
// (GPT) recurse with the same chain; probes that consume one layer (LVM2,
// LUKS2) recurse with chain[1:].
type probeFunc func(ctx context.Context, rs io.ReadSeeker, chain []bootcfg.Partition, targetFile string, deps Deps) ([]byte, error)

var probes = []struct {
	name string
	fn   probeFunc
}{
	{"lvm2", probeLVM2},
	{"luks2", probeLUKS2},
	{"ext4", probeExt4},
	{"fat", probeFAT},
	{"gpt", probeGPT},
}

// Resolve walks the probe stack for the current layer. chain[0] names the
// partition expected to be found by the reader rs; chain[1:] describes what
// must still be found inside it before targetFile is reachable.
func Resolve(ctx context.Context, rs io.ReadSeeker, chain []bootcfg.Partition, targetFile string, deps Deps) ([]byte, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("container: empty chain: %w", errs.ErrFileNotFound)
	}
	expected := chain[0]

	var lastErr error
	for _, p := range probes {
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("container: rewind before %s probe: %w", p.name, err)
		}
		data, err := p.fn(ctx, rs, chain, targetFile, deps)
		if err == nil {
			return data, nil
		}
		logger.Logger().Debugf("container: %s probe on partition %q: %v", p.name, expected.Name, err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errs.ErrFileNotFound
	}
	return nil, fmt.Errorf("container: partition %q exhausted all probes: %w", expected.Name, lastErr)
}
