// Command mkfs.myfs builds a myfs container image from a list of host
// files, ready to be mounted with myfs.
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/myfs/myfs/internal/container"
)

const help = `usage: mkfs.myfs <container> <file1> [<file2> ...]

Build a myfs container at <container> holding the given host files
(at most 64). If the base name of <container> is not container.bin,
./container.bin is written instead. Each file's base name, content and
timestamps are copied in; uid/gid are those of the mkfs.myfs process and
the mode is a read-only regular file (0444). The container itself is
written atomically.
`

func main() {
	if len(os.Args) < 3 {
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	containerPath := os.Args[1]
	hostFiles := os.Args[2:]

	result, err := container.Build(containerPath, hostFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs.myfs: %v\n", err)
		os.Exit(1)
	}

	report(result)
}

// report prints a summary of the built container. Column alignment is
// only worth the trouble when stdout is a terminal a human is reading;
// piped output stays single-column and script-friendly.
func report(r *container.Result) {
	interactive := isatty.IsTerminal(os.Stdout.Fd())

	fmt.Printf("wrote %s (%d file(s))\n", r.ContainerPath, len(r.Files))
	for _, f := range r.Files {
		if interactive {
			fmt.Printf("  %-28s %10d bytes  %4d block(s)  first=%d\n", f.Name, f.Size, f.UsedBlocks, f.FirstDataBlock)
		} else {
			fmt.Printf("%s\t%d\t%d\t%d\n", f.Name, f.Size, f.UsedBlocks, f.FirstDataBlock)
		}
	}
}
