// Command kennyfs mounts a composed brick tree as a FUSE filesystem (spec
// §6, "Command-line surface"). Grounded on the teacher's own cmd entry
// points' flag/usage conventions, adapted from cobra to pflag directly
// since the spec names a single flat flag set rather than a subcommand
// tree.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/hraban/kennyfs/brick"
	_ "github.com/hraban/kennyfs/backend/cache"
	_ "github.com/hraban/kennyfs/backend/mirror"
	_ "github.com/hraban/kennyfs/backend/pass"
	_ "github.com/hraban/kennyfs/backend/posix"
	_ "github.com/hraban/kennyfs/backend/tcp"
	"github.com/hraban/kennyfs/internal/config"
	"github.com/hraban/kennyfs/internal/log"
	"github.com/hraban/kennyfs/mount"
)

// version is the program's release tag, reported by -v/--version.
const version = "0.1.0"

const defaultConfigPath = "~/.kennyfs.ini"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("kennyfs", flag.ContinueOnError)
	flags.Usage = func() { usage(flags) }

	showHelp := flags.BoolP("help", "h", false, "show this help message")
	showVersion := flags.BoolP("version", "v", false, "print the version and exit")
	opts := flags.StringArrayP("option", "o", nil, "set an option, e.g. -o kfsconf=PATH")

	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *showHelp {
		usage(flags)
		return 0
	}
	if *showVersion {
		fmt.Println("kennyfs", version)
		return 0
	}

	confPath := defaultConfigPath
	for _, opt := range *opts {
		name, value, ok := splitOption(opt)
		if !ok {
			fmt.Fprintf(os.Stderr, "kennyfs: malformed -o option %q\n", opt)
			return 2
		}
		if name == "kfsconf" {
			confPath = value
		}
	}

	if flags.NArg() != 1 {
		usage(flags)
		return 2
	}
	mountpoint := flags.Arg(0)

	tree, err := config.Load(confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kennyfs: %v\n", err)
		return 1
	}

	root, err := brick.Assemble(config.RootSection, tree.Lookup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kennyfs: %v\n", err)
		return 1
	}
	defer brick.Halt(root)

	server, err := mount.Mount(mountpoint, root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kennyfs: mount %q: %v\n", mountpoint, err)
		return 1
	}
	log.Infof(nil, "mounted %q", mountpoint)
	server.Serve()
	return 0
}

func splitOption(opt string) (name, value string, ok bool) {
	for i := 0; i < len(opt); i++ {
		if opt[i] == '=' {
			return opt[:i], opt[i+1:], true
		}
	}
	return "", "", false
}

func usage(flags *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: kennyfs <mountpoint> [options]")
	flags.PrintDefaults()
}
