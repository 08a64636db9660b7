// Package cli provides the command-line interface for the mod upload
// validation service.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	gh "github.com/modvet-project/modvet/internal/github"
	"github.com/modvet-project/modvet/internal/storage"
)

// ValidationReport represents a validation outcome for JSON output
type ValidationReport struct {
	Archive        string      `json:"archive"`
	SHA256         string      `json:"sha256"`
	Classification string      `json:"classification"`
	Accepted       bool        `json:"accepted"`
	Bypass         bool        `json:"bypass,omitempty"`
	ModID          string      `json:"mod_id,omitempty"`
	ModVersion     string      `json:"mod_version,omitempty"`
	Dependencies   []Reference `json:"dependencies,omitempty"`
	Conflicts      []Reference `json:"conflicts,omitempty"`
	Errors         []string    `json:"errors,omitempty"`
}

// Reference is a normalized dependency or conflict for JSON output
type Reference struct {
	ID    string `json:"id"`
	Range string `json:"range"`
}

// NewApp creates and configures the main CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:     "modvet",
		Usage:    "Validate uploaded game-mod archives",
		Version:  "1.0.0",
		Compiled: time.Now(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to validation policy configuration file",
				EnvVars: []string{"MODVET_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"MODVET_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "log format (json or text)",
				EnvVars: []string{"MODVET_LOG_FORMAT"},
			},
		},
		Commands: []*cli.Command{
			validateCommand(),
			inspectCommand(),
			historyCommand(),
			remoteCommand(),
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a mod archive and print the result",
		ArgsUsage: "<archive.zip>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "emit the result as JSON",
			},
			&cli.StringFlag{
				Name:  "signature",
				Usage: "detached signature file to verify before validating",
			},
			&cli.BoolFlag{
				Name:  "record",
				Usage: "record the scan in the history database",
			},
			&cli.BoolFlag{
				Name:  "malware-scan",
				Usage: "scan the archive with ClamAV before validating",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: modvet validate <archive.zip>", 2)
			}

			cfg, log, err := setup(c)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			path := c.Args().Get(0)
			upload, err := os.ReadFile(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to read archive: %v", err), 2)
			}

			if sig := c.String("signature"); sig != "" {
				if err := verifySignature(cfg, upload, sig); err != nil {
					return cli.Exit(fmt.Sprintf("signature check failed: %v", err), 1)
				}
				log.Info("signature verified", "archive", path)
			}

			if c.Bool("malware-scan") || cfg.Scanning.Enabled {
				if err := scanUpload(c.Context, cfg, log, filepath.Base(path), upload); err != nil {
					return cli.Exit(fmt.Sprintf("malware scan failed: %v", err), 1)
				}
			}

			report := runValidation(cfg, log, filepath.Base(path), upload)

			if c.Bool("record") {
				if err := recordScan(cfg, report); err != nil {
					log.Error("failed to record scan", "error", err)
				}
			}

			if err := printReport(c, report); err != nil {
				return err
			}
			if !report.Accepted {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Decode and print a mod archive's manifest without applying rules",
		ArgsUsage: "<archive.zip>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: modvet inspect <archive.zip>", 2)
			}

			cfg, _, err := setup(c)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			upload, err := os.ReadFile(c.Args().Get(0))
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to read archive: %v", err), 2)
			}

			dump, err := inspectArchive(cfg, upload)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			out, err := json.MarshalIndent(dump, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, string(out))
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded scans",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Value: 20,
				Usage: "maximum number of scans to list",
			},
			&cli.StringFlag{
				Name:  "mod",
				Usage: "only list scans for this mod id",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, _, err := setup(c)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			db, err := storage.InitDB(storage.Config{DatabasePath: cfg.Storage.DatabasePath})
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			defer db.Close()

			var scans []storage.Scan
			if modID := c.String("mod"); modID != "" {
				scans, err = db.FindByMod(modID)
			} else {
				scans, err = db.ListScans(c.Int("limit"))
			}
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			for _, s := range scans {
				status := "rejected"
				if s.Accepted {
					status = "accepted"
				}
				fmt.Fprintf(c.App.Writer, "%s  %-12s %-8s %s %s\n",
					s.ScannedAt.Format(time.RFC3339), s.Classification, status, s.ArchiveName, s.ModID)
			}
			return nil
		},
	}
}

func remoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "remote",
		Usage: "Fetch a GitHub release asset and validate it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "repo",
				Usage:    "repository in owner/repo format",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "tag",
				Usage:    "release tag",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "asset",
				Usage:    "asset filename to fetch",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "GitHub token (optional for public repositories)",
				EnvVars: []string{"GITHUB_TOKEN"},
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "emit the result as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := setup(c)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			client, err := gh.NewClient(c.String("token"), c.String("repo"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			asset := c.String("asset")
			upload, err := client.FetchAsset(context.Background(), c.String("tag"), asset)
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to fetch asset: %v", err), 1)
			}
			log.Info("fetched release asset", "repo", c.String("repo"), "tag", c.String("tag"), "asset", asset)

			report := runValidation(cfg, log, asset, upload)
			if err := printReport(c, report); err != nil {
				return err
			}
			if !report.Accepted {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}
