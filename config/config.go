// Package config holds the format-time parameters of a file system.
package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/util"
)

var ErrInvalid = errors.New("config: invalid")

type Format struct {
	Inodes      uint64 `yaml:"inodes"`
	SegBlocks   uint64 `yaml:"segment_blocks"`
	Segments    uint64 `yaml:"segments"`
	CacheBlocks uint64 `yaml:"cache_blocks"`
	Debug       uint64 `yaml:"debug"`
}

func Default() *Format {
	return &Format{
		Inodes:      common.IMAPSIZE * common.NENTRY,
		SegBlocks:   256,
		Segments:    64,
		CacheBlocks: 1024,
		Debug:       0,
	}
}

// Parse reads a YAML document; fields it leaves out keep their defaults.
func Parse(data []byte) (*Format, error) {
	f := Default()
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func Load(path string) (*Format, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

func (f *Format) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}

// ImapSize is the number of imap blocks needed for f.Inodes.
func (f *Format) ImapSize() uint64 {
	return util.RoundUp(f.Inodes, common.NENTRY)
}

// DiskBlocks is the size of the device the file system needs.
func (f *Format) DiskBlocks() uint64 {
	return common.SEGSTART + f.Segments*f.SegBlocks
}

func (f *Format) Validate() error {
	if f.Inodes == 0 {
		return fmt.Errorf("%w: no inodes", ErrInvalid)
	}
	if f.ImapSize() > common.MAXIMAPSIZE {
		return fmt.Errorf("%w: %d inodes need %d imap blocks, max %d",
			ErrInvalid, f.Inodes, f.ImapSize(), common.MAXIMAPSIZE)
	}
	// mkfs writes the whole imap into the first segment
	if f.SegBlocks <= f.ImapSize() || f.SegBlocks < 2 {
		return fmt.Errorf("%w: segment of %d blocks cannot hold %d imap blocks",
			ErrInvalid, f.SegBlocks, f.ImapSize())
	}
	if f.Segments == 0 {
		return fmt.Errorf("%w: no segments", ErrInvalid)
	}
	if f.Segments > (math.MaxUint32-common.SEGSTART)/f.SegBlocks {
		return fmt.Errorf("%w: disk too large for 32-bit block numbers", ErrInvalid)
	}
	if f.CacheBlocks == 0 {
		return fmt.Errorf("%w: no cache", ErrInvalid)
	}
	return nil
}

// Apply sets process-wide knobs (the debug level).
func (f *Format) Apply() {
	util.Debug = f.Debug
}
