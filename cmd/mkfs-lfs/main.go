// Command mkfs-lfs formats a disk image (or block device) as an lfs file
// system and mounts it once to check the result.
package main

import (
	"flag"
	"log"

	"github.com/mit-pdos/go-lfs/config"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/lfs"
)

func main() {
	cfgPath := flag.String("config", "", "YAML format parameters (defaults if empty)")
	diskPath := flag.String("disk", "lfs.img", "disk image or block device")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatal(err)
		}
	}
	cfg.Apply()

	d, err := disk.NewFileDisk(*diskPath, cfg.DiskBlocks())
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()

	if err := lfs.Mkfs(d, cfg); err != nil {
		log.Fatal(err)
	}
	fs, err := lfs.Mount(d, 0, cfg.CacheBlocks)
	if err != nil {
		log.Fatalf("mount after mkfs: %v", err)
	}
	inum, err := fs.AllocInode(nil)
	if err != nil {
		log.Fatalf("root inode: %v", err)
	}
	fs.Shutdown()
	log.Printf("%s: %d inodes, %d segments of %d blocks, root inode %d\n",
		*diskPath, fs.NInodes(), cfg.Segments, cfg.SegBlocks, inum)
}
