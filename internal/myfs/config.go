package myfs

import "os"

// Config holds the knobs the mount-time runtime needs. Fields left zero
// take the defaults documented on them.
type Config struct {
	// ContainerPath is the path to the container image. Falls back to
	// $MYFS_CONTAINER, then "container.bin" (see SPEC_FULL.md §6).
	ContainerPath string

	// LogPath, if non-empty, is the destination of the per-call bridge
	// log. Falls back to $MYFS_LOG.
	LogPath string

	// StrictPermission switches open()'s uid/gid check from the default
	// permissive OR to a strict AND; see SPEC_FULL.md §9 "Open question
	// (a)".
	StrictPermission bool

	// FlushOnMutation, if set, persists the superblock and affected
	// metadata blocks to the container after every mutating call
	// instead of only at unmount.
	FlushOnMutation bool
}

// Resolve fills in ContainerPath and LogPath from the environment when
// the caller left them empty, mirroring the distri env package's
// flag-then-environment-then-default resolution order.
func (c Config) Resolve() Config {
	if c.ContainerPath == "" {
		c.ContainerPath = envOr("MYFS_CONTAINER", "container.bin")
	}
	if c.LogPath == "" {
		c.LogPath = os.Getenv("MYFS_LOG")
	}
	return c
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
