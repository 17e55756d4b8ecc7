// Command myfs mounts a container image, built by mkfs.myfs, as a FUSE
// file system exposing its 64 fixed directory slots as a flat directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/myfs/myfs/internal/bridge"
	"github.com/myfs/myfs/internal/myfs"
)

const help = `myfs [-flags] <mountpoint>

Mount a myfs container as a FUSE file system.

Example:
  % myfs -cont container.bin /mnt/myfs
`

func main() {
	fset := flag.NewFlagSet("myfs", flag.ExitOnError)
	var (
		cont             = fset.String("cont", "", "path to the container file (default: $MYFS_CONTAINER or container.bin)")
		logPath          = fset.String("log", "", "path to a log file recording every bridge call (default: $MYFS_LOG, or none)")
		strictPermission = fset.Bool("strict-permission", false, "require both uid and gid to match on open, instead of either")
		flushOnMutation  = fset.Bool("flush-on-mutation", false, "persist metadata to the container after every mutating call")
	)
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, help)
		fset.PrintDefaults()
	}
	fset.Parse(os.Args[1:])
	if fset.NArg() != 1 {
		fset.Usage()
		os.Exit(1)
	}
	mountpoint := fset.Arg(0)

	cfg := myfs.Config{
		ContainerPath:    *cont,
		LogPath:          *logPath,
		StrictPermission: *strictPermission,
		FlushOnMutation:  *flushOnMutation,
	}.Resolve()

	var logger *log.Logger
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("opening log file: %v", err)
		}
		defer f.Close()
		logger = log.New(f, "", log.LstdFlags)
	}

	fs := myfs.NewFS(cfg)
	if err := fs.Load(); err != nil {
		log.Fatalf("loading %s: %v", cfg.ContainerPath, err)
	}
	defer fs.Close()

	mfs, err := bridge.Mount(mountpoint, fs, logger)
	if err != nil {
		log.Fatalf("mounting at %s: %v", mountpoint, err)
	}

	if err := mfs.Join(context.Background()); err != nil {
		log.Fatalf("serving: %v", err)
	}
}
