// Package identity manages the agent's persistent device id.
package identity

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ID is a 32 character lowercase hex device id.
type ID string

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ErrInvalid is returned for a malformed id.
var ErrInvalid = errors.New("invalid device id")

// Parse validates s as a device id.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if !idPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return ID(s), nil
}

func (id ID) String() string { return string(id) }

// URI is the device:// form shown in pairing QR codes.
func (id ID) URI() string { return "device://" + string(id) }

// Options controls where the id lives and how a new one is created.
type Options struct {
	Path string
	// MachineIDPath, when set, derives a new id from the MD5 of this file
	// (normally /etc/machine-id) instead of random bytes. Cloned images
	// share a machine id, so leave it empty unless that is wanted.
	MachineIDPath string
}

// LoadOrCreate returns the id stored at opts.Path. A missing or malformed
// file is replaced by a newly generated id. Failing to persist the new id
// is returned as an error; callers treat it as fatal.
func LoadOrCreate(opts Options) (ID, bool, error) {
	if opts.Path == "" {
		return "", false, errors.New("identity path is empty")
	}

	if data, err := os.ReadFile(opts.Path); err == nil {
		if id, err := Parse(string(data)); err == nil {
			return id, false, nil
		}
	}

	id, err := generate(opts.MachineIDPath)
	if err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return "", false, fmt.Errorf("create identity directory: %w", err)
	}
	if err := os.WriteFile(opts.Path, []byte(id), 0600); err != nil {
		return "", false, fmt.Errorf("persist device id: %w", err)
	}
	return id, true, nil
}

func generate(machineIDPath string) (ID, error) {
	if machineIDPath != "" {
		if data, err := os.ReadFile(machineIDPath); err == nil {
			if seed := strings.TrimSpace(string(data)); seed != "" {
				sum := md5.Sum([]byte(seed))
				return ID(hex.EncodeToString(sum[:])), nil
			}
		}
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return ID(hex.EncodeToString(b)), nil
}
