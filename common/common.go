package common

import (
	"github.com/tchajed/goose/machine/disk"
)

const (
	// NENTRY is the number of inode mappings in one on-disk imap block.
	NENTRY uint64 = disk.BlockSize / 4

	// IMAPSIZE is the default number of imap blocks for a new file system.
	IMAPSIZE uint64 = 16

	// MAXIMAPSIZE bounds the imap so its address table fits in one
	// checkpoint block next to the checkpoint header.
	MAXIMAPSIZE uint64 = (disk.BlockSize - CKPTHDR) / 4
	CKPTHDR     uint64 = 64
)

// Fixed disk layout; segments start right after the checkpoint regions.
const (
	SUPERBLK Bnum = 0
	CKPTBLK0 Bnum = 1
	CKPTBLK1 Bnum = 2
	SEGSTART Bnum = 3
)

type Inum uint64
type Bnum = uint64

const (
	NULLINUM Inum = 0
	NULLBNUM Bnum = 0
)
