package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/marmos91/moji/internal/logger"
	"github.com/marmos91/moji/pkg/config"
	"github.com/marmos91/moji/pkg/moji"
	"github.com/marmos91/moji/pkg/node"
)

// parseArgs parses the command's flags and checks the positional argument count.
func parseArgs(name string, fs *pflag.FlagSet, args []string, minArgs, maxArgs int) ([]string, error) {
	if fs == nil {
		fs = pflag.NewFlagSet(name, pflag.ContinueOnError)
	}
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, errUsage
	}
	if fs.NArg() < minArgs || fs.NArg() > maxArgs {
		return nil, errUsage
	}
	return fs.Args(), nil
}

// withFile runs fn against a handle for key and closes the client afterwards.
func withFile(ctx context.Context, e *env, key string, fn func(f *moji.File) error) error {
	client, err := config.NewClient(ctx, e.cfg, e.metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close tracker: %v", err)
		}
	}()

	return fn(client.File(e.cfg.Client.Domain, key, e.cfg.Client.StorageClass))
}

func runExists(ctx context.Context, e *env, args []string) error {
	args, err := parseArgs("exists", nil, args, 1, 1)
	if err != nil {
		return err
	}
	return withFile(ctx, e, args[0], func(f *moji.File) error {
		exists, err := f.Exists(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(e.stdout, exists)
		return err
	})
}

func runLength(ctx context.Context, e *env, args []string) error {
	args, err := parseArgs("length", nil, args, 1, 1)
	if err != nil {
		return err
	}
	return withFile(ctx, e, args[0], func(f *moji.File) error {
		length, err := f.Length(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(e.stdout, length)
		return err
	})
}

func runGet(ctx context.Context, e *env, args []string) error {
	args, err := parseArgs("get", nil, args, 1, 2)
	if err != nil {
		return err
	}
	return withFile(ctx, e, args[0], func(f *moji.File) error {
		if len(args) == 2 {
			return f.CopyToFile(ctx, args[1])
		}

		r, err := f.Reader(ctx)
		if err != nil {
			return err
		}

		_, copyErr := io.Copy(e.stdout, r)
		closeErr := r.Close()
		if copyErr != nil {
			return fmt.Errorf("download %s: %w", f, copyErr)
		}
		return closeErr
	})
}

func runPut(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("put", pflag.ContinueOnError)
	stream := fs.Bool("stream", false, "Stream to the first destination instead of buffering with retries")
	args, err := parseArgs("put", fs, args, 2, 2)
	if err != nil {
		return err
	}

	var src io.Reader = e.stdin
	size := int64(-1)
	if args[1] != "-" {
		file, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer func() { _ = file.Close() }()

		info, err := file.Stat()
		if err != nil {
			return err
		}
		src, size = file, info.Size()
	}

	return withFile(ctx, e, args[0], func(f *moji.File) error {
		if !*stream {
			data, err := io.ReadAll(src)
			if err != nil {
				return err
			}
			return f.Put(ctx, data)
		}

		w, err := f.SizedWriter(ctx, size)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, src); err != nil {
			_ = w.Close()
			return fmt.Errorf("upload %s: %w", f, err)
		}
		return w.Close()
	})
}

func runDelete(ctx context.Context, e *env, args []string) error {
	args, err := parseArgs("delete", nil, args, 1, 1)
	if err != nil {
		return err
	}
	return withFile(ctx, e, args[0], func(f *moji.File) error {
		return f.Delete(ctx)
	})
}

func runRename(ctx context.Context, e *env, args []string) error {
	args, err := parseArgs("rename", nil, args, 2, 2)
	if err != nil {
		return err
	}
	return withFile(ctx, e, args[0], func(f *moji.File) error {
		return f.Rename(ctx, args[1])
	})
}

func runClass(ctx context.Context, e *env, args []string) error {
	args, err := parseArgs("class", nil, args, 2, 2)
	if err != nil {
		return err
	}
	return withFile(ctx, e, args[0], func(f *moji.File) error {
		return f.ModifyStorageClass(ctx, args[1])
	})
}

func runAttrs(ctx context.Context, e *env, args []string) error {
	args, err := parseArgs("attrs", nil, args, 1, 1)
	if err != nil {
		return err
	}
	return withFile(ctx, e, args[0], func(f *moji.File) error {
		attrs, err := f.Attributes(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(e.stdout, "domain=%s\nkey=%s\nclass=%s\nlength=%d\ndevices=%d\nfid=%d\n",
			attrs.Domain, attrs.Key, attrs.StorageClass, attrs.Length, attrs.DeviceCount, attrs.FID)
		return err
	})
}

func runPaths(ctx context.Context, e *env, args []string) error {
	args, err := parseArgs("paths", nil, args, 1, 1)
	if err != nil {
		return err
	}
	return withFile(ctx, e, args[0], func(f *moji.File) error {
		paths, err := f.Paths(ctx)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if _, err := fmt.Fprintln(e.stdout, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func runList(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	limit := fs.IntP("limit", "n", 0, "Maximum number of keys (0 = all)")
	args, err := parseArgs("list", fs, args, 0, 1)
	if err != nil {
		return err
	}

	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}

	client, err := config.NewClient(ctx, e.cfg, e.metrics)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	keys, err := client.List(ctx, e.cfg.Client.Domain, prefix, *limit)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := fmt.Fprintln(e.stdout, k); err != nil {
			return err
		}
	}
	return nil
}

func runNode(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("node", pflag.ContinueOnError)
	listen := fs.String("listen", e.cfg.Node.Listen, "Address to listen on")
	root := fs.String("root", e.cfg.Node.Root, "Directory content is stored in")
	if _, err := parseArgs("node", fs, args, 0, 0); err != nil {
		return err
	}

	srv, err := node.NewServer(ctx, node.ServerConfig{Listen: *listen, Root: *root})
	if err != nil {
		return err
	}

	logger.Info("Storage node starting. Press Ctrl+C to stop.")
	return srv.Start(ctx)
}

func runInit(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	force := fs.BoolP("force", "f", false, "Overwrite an existing config file")
	path := fs.String("path", "", "Write to this file instead of the default location")
	if _, err := parseArgs("init", fs, args, 0, 0); err != nil {
		return err
	}

	target := *path
	if target == "" {
		target = e.opts.configPath
	}
	if target == "" {
		target = config.GetDefaultConfigPath()
	}

	if err := config.InitConfigToPath(target, *force); err != nil {
		return err
	}
	_, err := fmt.Fprintf(e.stdout, "Configuration written to %s\n", target)
	return err
}
