package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/pelletier/go-toml"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Microsoft/go-objns"
	"github.com/Microsoft/go-objns/internal/ntdef"
	"github.com/Microsoft/go-objns/internal/objdir"
	"github.com/Microsoft/go-objns/internal/oc"
	"github.com/Microsoft/go-objns/internal/usermem"
)

const (
	layoutFlag      = "layout"
	recursiveFlag   = "recursive"
	bufferSizeFlag  = "buffer-size"
	singleEntryFlag = "single-entry"
	restartFlag     = "restart"
	cursorFlag      = "cursor"
	debugFlag       = "debug"

	usage = `objns-util is a command line tool for exploring object namespace layouts and the directory query protocol`
)

func main() {
	app := cli.NewApp()
	app.Name = "objns-util"
	app.Commands = []cli.Command{
		populateCommand,
		listCommand,
		queryCommand,
	}
	app.Usage = usage
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  debugFlag,
			Usage: "Optional: enable debug logging and span export.",
		},
	}
	app.Before = func(cli *cli.Context) error {
		if cli.GlobalBool(debugFlag) {
			logrus.SetLevel(logrus.DebugLevel)
			trace.RegisterExporter(&oc.LogrusExporter{})
			trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// layout is the TOML description of a namespace to build before running a
// command against it.
type layout struct {
	CaseInsensitive bool `toml:"case-insensitive"`
	Directories     []struct {
		Path string `toml:"path"`
	} `toml:"directories"`
	Objects []struct {
		Path string `toml:"path"`
		Type string `toml:"type"`
	} `toml:"objects"`
}

func loadNamespace(ctx context.Context, path string) (*objns.Namespace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l layout
	if err := toml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse layout %s: %w", path, err)
	}

	ns, err := objns.NewNamespace(ctx, &objns.Options{CaseInsensitive: l.CaseInsensitive})
	if err != nil {
		return nil, err
	}
	for _, d := range l.Directories {
		h, status := ns.CreateDirectoryObject(ctx, ntdef.KernelMode,
			ntdef.ObjectAttributes{ObjectName: d.Path}, ntdef.DIRECTORY_ALL_ACCESS)
		if err := objns.AsError("CreateDirectoryObject", status); err != nil {
			return nil, fmt.Errorf("directory %s: %w", d.Path, err)
		}
		ns.Close(ctx, h)
	}
	for _, o := range l.Objects {
		h, status := ns.CreateObject(ctx, ntdef.KernelMode, o.Type,
			ntdef.ObjectAttributes{ObjectName: o.Path}, 0)
		if err := objns.AsError("CreateObject", status); err != nil {
			return nil, fmt.Errorf("object %s: %w", o.Path, err)
		}
		ns.Close(ctx, h)
	}
	return ns, nil
}

func requireLayout(cli *cli.Context, command string) (string, error) {
	if !cli.IsSet(layoutFlag) {
		return "", fmt.Errorf("`%s` command requires a layout file", command)
	}
	return cli.String(layoutFlag), nil
}

func formatEntries(entries []ntdef.DirectoryInformation) []string {
	return lo.Map(entries, func(e ntdef.DirectoryInformation, _ int) string {
		name := e.Name
		if name == "" {
			name = "<anonymous>"
		}
		return fmt.Sprintf("%-12s %s", e.TypeName, name)
	})
}

func childPath(parent, name string) string {
	if parent == string(ntdef.PathSeparator) {
		return parent + name
	}
	return parent + string(ntdef.PathSeparator) + name
}

// listTree lists root and every directory below it, fanning subdirectory
// reads out over an errgroup.
func listTree(ctx context.Context, ns *objns.Namespace, root string) (map[string][]ntdef.DirectoryInformation, error) {
	var (
		mu      sync.Mutex
		results = make(map[string][]ntdef.DirectoryInformation)
	)
	g, ctx := errgroup.WithContext(ctx)

	var walk func(path string) error
	walk = func(path string) error {
		entries, err := ns.List(ctx, path)
		if err != nil {
			return err
		}
		mu.Lock()
		results[path] = entries
		mu.Unlock()
		for _, e := range entries {
			if e.TypeName != objdir.DirectoryTypeName || e.Name == "" {
				continue
			}
			child := childPath(path, e.Name)
			g.Go(func() error { return walk(child) })
		}
		return nil
	}
	g.Go(func() error { return walk(root) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

var populateCommand = cli.Command{
	Name:      "populate",
	Usage:     "builds the namespace described by a layout file and prints a summary",
	ArgsUsage: "populate --layout <file>",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  layoutFlag,
			Usage: "Required: TOML file describing the namespace to build.",
		},
	},
	Action: func(cli *cli.Context) error {
		ctx := context.Background()
		layoutPath, err := requireLayout(cli, "populate")
		if err != nil {
			return err
		}
		ns, err := loadNamespace(ctx, layoutPath)
		if err != nil {
			return err
		}

		dirs, objects := 0, 0
		err = ns.Walk(ctx, string(ntdef.PathSeparator), func(_ string, entries []ntdef.DirectoryInformation) error {
			dirs++
			for _, e := range entries {
				if e.TypeName != objdir.DirectoryTypeName {
					objects++
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "namespace %s: %d directories, %d objects\n", ns.ID(), dirs, objects)
		return nil
	},
}

var listCommand = cli.Command{
	Name:      "list",
	Usage:     "builds the namespace described by a layout file and lists a directory",
	ArgsUsage: "list [flags] <path>",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  layoutFlag,
			Usage: "Required: TOML file describing the namespace to build.",
		},
		cli.BoolFlag{
			Name:  recursiveFlag,
			Usage: "Optional: descend into subdirectories.",
		},
	},
	Action: func(cli *cli.Context) error {
		ctx := context.Background()
		path := cli.Args().First()
		if path == "" {
			return errors.New("`list` command must specify a directory path")
		}
		layoutPath, err := requireLayout(cli, "list")
		if err != nil {
			return err
		}
		ns, err := loadNamespace(ctx, layoutPath)
		if err != nil {
			return err
		}

		if cli.Bool(recursiveFlag) {
			tree, err := listTree(ctx, ns, path)
			if err != nil {
				return err
			}
			paths := lo.Keys(tree)
			sort.Strings(paths)
			for _, p := range paths {
				fmt.Fprintf(os.Stdout, "%s (%d entries)\n", p, len(tree[p]))
				for _, line := range formatEntries(tree[p]) {
					fmt.Fprintf(os.Stdout, "  %s\n", line)
				}
			}
			return nil
		}

		entries, err := ns.List(ctx, path)
		if err != nil {
			return err
		}
		for _, line := range formatEntries(entries) {
			fmt.Fprintln(os.Stdout, line)
		}
		return nil
	},
}

var queryCommand = cli.Command{
	Name:      "query",
	Usage:     "runs the raw directory query protocol against a directory, one call per line",
	ArgsUsage: "query [flags] <path>",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  layoutFlag,
			Usage: "Required: TOML file describing the namespace to build.",
		},
		cli.UintFlag{
			Name:  bufferSizeFlag,
			Usage: "Optional: destination buffer size in bytes per call.",
			Value: 256,
		},
		cli.BoolFlag{
			Name:  singleEntryFlag,
			Usage: "Optional: request one entry per call.",
		},
		cli.UintFlag{
			Name:  cursorFlag,
			Usage: "Optional: resume the scan from this cursor instead of the start.",
		},
		cli.BoolFlag{
			Name:  restartFlag,
			Usage: "Optional: force a restart scan on the first call even with a cursor set.",
		},
	},
	Action: func(cli *cli.Context) error {
		ctx := context.Background()
		path := cli.Args().First()
		if path == "" {
			return errors.New("`query` command must specify a directory path")
		}
		layoutPath, err := requireLayout(cli, "query")
		if err != nil {
			return err
		}
		ns, err := loadNamespace(ctx, layoutPath)
		if err != nil {
			return err
		}

		h, status := ns.OpenDirectoryObject(ctx, ntdef.KernelMode,
			ntdef.ObjectAttributes{ObjectName: path}, ntdef.DIRECTORY_QUERY)
		if err := objns.AsError("OpenDirectoryObject", status); err != nil {
			return err
		}
		defer ns.Close(ctx, h)

		var (
			cursor  = uint32(cli.Uint(cursorFlag))
			retLen  uint32
			restart = !cli.IsSet(cursorFlag) || cli.Bool(restartFlag)
			single  = cli.Bool(singleEntryFlag)
			buf     = make([]byte, cli.Uint(bufferSizeFlag))
		)
		for call := 1; ; call++ {
			clear(buf)
			retLen = 0
			status := ns.QueryDirectoryObject(ctx, ntdef.KernelMode, h,
				usermem.Bytes(buf), single, restart, &cursor, &retLen)
			restart = false

			entries, decodeErr := ntdef.DecodeDirectoryInformation(buf)
			fmt.Fprintf(os.Stdout, "call %-3d status=%-28s cursor=%-4d required=%-5d entries=%d\n",
				call, status, cursor, retLen, len(entries))
			for _, line := range formatEntries(entries) {
				fmt.Fprintf(os.Stdout, "  %s\n", line)
			}
			if decodeErr != nil {
				return decodeErr
			}

			switch status {
			case ntdef.STATUS_NO_MORE_ENTRIES:
				return nil
			case ntdef.STATUS_SUCCESS:
				if !single {
					return nil
				}
			case ntdef.STATUS_MORE_ENTRIES:
				if len(entries) == 0 && !single {
					return fmt.Errorf("no entry fits in a %d-byte buffer", len(buf))
				}
			default:
				return objns.AsError("QueryDirectoryObject", status)
			}
		}
	},
}
