// Command textures downloads the orrery's planet texture set and prints
// the manifest the front-end embeds. With --paths-only it re-derives the
// manifest without touching the network.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/qavit/smorrery/internal/textures"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cmd := &cli.Command{
		Name:  "textures",
		Usage: "Download orrery planet textures and emit the local-path manifest",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "paths-only",
				Aliases: []string{"p"},
				Usage:   "emit the manifest without downloading anything",
			},
			&cli.StringFlag{
				Name:  "dir",
				Value: "textures",
				Usage: "directory to store downloaded textures in",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Value: textures.DefaultBaseURL,
				Usage: "texture host URL prefix",
			},
			&cli.StringFlag{
				Name:  "mapping",
				Usage: "YAML file overriding the built-in texture mapping",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			mapping := textures.DefaultMapping()
			if path := cmd.String("mapping"); path != "" {
				m, err := textures.LoadMapping(path)
				if err != nil {
					return err
				}
				mapping = m
			}

			d := textures.NewDownloader(cmd.String("base-url"), cmd.String("dir"), logger)
			res := d.Run(ctx, mapping, cmd.Bool("paths-only"))

			fmt.Println("SSS_TEXTURES object with local paths:")
			fmt.Print(res.Manifest())

			if len(res.Failed) > 0 {
				logger.Warn("some textures failed to download",
					"component", "textures",
					"failed", res.Failed,
					"succeeded", len(res.Paths),
				)
			}
			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
