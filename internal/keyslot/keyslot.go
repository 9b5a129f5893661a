// Package keyslot implements C4: resolving named key material from either
// an interactive prompt or a file behind (possibly nested) encryption, with
// per-boot-menu-activation memoization so a keyslot shared by several
// partitions or boot entries is only ever prompted for, or read from its
// file, once.
package keyslot

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/errs"
	"github.com/oberien/opal-uefi-greeter/internal/logger"
	"github.com/oberien/opal-uefi-greeter/internal/platform"
)

// FileResolver is the capability a File-sourced keyslot recurses through:
// internal/resolver implements it, and injects itself here, so this package
// never imports internal/resolver (which imports this one).
type FileResolver interface {
	ResolveFile(ctx context.Context, partition, file string, extraPartitions []string) ([]byte, error)
}

// CacheMode selects whether Resolve may answer from the memoized map.
// Discard is used by the password-retry loop after an invalid attempt, so
// the next call actually re-prompts/re-reads instead of replaying the bad
// material.
type CacheMode int

const (
	Cached CacheMode = iota
	Discard
)

// Cache memoizes resolved keyslot material by name for the lifetime of one
// boot-menu activation. Never persisted to stable storage.
type Cache struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{data: make(map[string][]byte)}
}

func (c *Cache) get(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[name]
	return b, ok
}

func (c *Cache) set(name string, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[name] = b
}

// Resolve returns the raw key material for a named keyslot, consulting the
// cache first unless mode is Discard.
func Resolve(ctx context.Context, console platform.Console, cache *Cache, fr FileResolver, name string, ks bootcfg.Keyslot, mode CacheMode) ([]byte, error) {
	if mode == Cached {
		if b, ok := cache.get(name); ok {
			return b, nil
		}
	}

	var material []byte
	var err error
	switch {
	case ks.Source.Stdin:
		material, err = promptStdin(console, name)
	case ks.Source.File != nil:
		material, err = fr.ResolveFile(ctx, ks.Source.File.Partition, ks.Source.File.File, ks.Source.File.ExtraPartitions)
	default:
		err = fmt.Errorf("keyslot %q: no source configured: %w", name, errs.ErrUnsupported)
	}
	if err != nil {
		return nil, err
	}

	cache.set(name, material)
	return material, nil
}

func promptStdin(console platform.Console, name string) ([]byte, error) {
	label := fmt.Sprintf("Password for keyslot %s: ", name)
	b, err := console.Prompt(label, platform.PromptPassword)
	if err != nil {
		return nil, fmt.Errorf("prompt keyslot %q: %w", name, err)
	}
	return b, nil
}

// opalKDFIterations/opalKDFKeyLen are the PBKDF2-HMAC-SHA1 parameters Opal
// Stdin-sourced material is hashed with, salted by the drive serial.
const (
	opalKDFIterations = 75000
	opalKDFKeyLen     = 32
)

// ForOpalStdin derives the 32-byte Opal authentication PIN hash from
// interactively-entered password bytes and the target drive's serial
// number.
func ForOpalStdin(password, serial []byte) []byte {
	return pbkdf2.Key(password, serial, opalKDFIterations, opalKDFKeyLen, sha1.New)
}

// ForOpalFile enforces that a File-sourced Opal keyslot is used raw and is
// exactly 32 bytes — there is no derivation step for this source, so any
// other length is a configuration error rather than something to silently
// truncate or zero-pad.
func ForOpalFile(raw []byte) ([]byte, error) {
	if len(raw) != opalKDFKeyLen {
		return nil, fmt.Errorf("%w: got %d bytes", errs.ErrRawKeyInvalidLength, len(raw))
	}
	return raw, nil
}

// minLuksRawKeyWarnLen is the length below which a File-sourced LUKS
// passphrase is almost certainly a mistake (a truncated keyfile, an empty
// line) rather than a deliberately short passphrase; it's a warning, not a
// rejection, since LUKS itself imposes no minimum length.
const minLuksRawKeyWarnLen = 16

// WarnIfShortForLUKS logs (but does not reject) a suspiciously short
// File-sourced LUKS passphrase/keyfile.
func WarnIfShortForLUKS(name string, raw []byte) {
	if len(raw) < minLuksRawKeyWarnLen {
		logger.Logger().Warnf("keyslot %q: file-sourced LUKS key material is only %d bytes", name, len(raw))
	}
}
