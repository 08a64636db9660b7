package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/modvet-project/modvet/internal/archive"
	"github.com/modvet-project/modvet/internal/config"
	"github.com/modvet-project/modvet/internal/dotnet"
	"github.com/modvet-project/modvet/internal/gpg"
	"github.com/modvet-project/modvet/internal/logger"
	"github.com/modvet-project/modvet/internal/malware"
	"github.com/modvet-project/modvet/internal/manifest"
	"github.com/modvet-project/modvet/internal/storage"
	"github.com/modvet-project/modvet/internal/validate"
)

// setup loads configuration and builds the logger from global flags.
func setup(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	level := c.String("log-level")
	if level == "" {
		level = cfg.Logging.Level
	}
	format := c.String("log-format")
	if format == "" {
		format = cfg.Logging.Format
	}

	log, err := logger.New(level, format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// newEngine builds a validation engine from the loaded policy.
func newEngine(cfg *config.Config, log *slog.Logger) *validate.Engine {
	return validate.New(validate.Options{
		Naming: archive.Naming{
			ManifestExt:    cfg.Naming.ManifestExtension,
			AssemblyExt:    cfg.Naming.AssemblyExtension,
			LoaderFilename: cfg.Naming.LoaderFilename,
		},
		ResourceSuffix: cfg.Naming.ResourceSuffix,
		Variant:        validate.SchemaVariant(cfg.Validation.SchemaVariant),
		Logger:         log,
	})
}

// runValidation validates one upload and folds the result into a report.
func runValidation(cfg *config.Config, log *slog.Logger, name string, upload []byte) ValidationReport {
	engine := newEngine(cfg, log)
	result := engine.ValidateAndPopulate(upload)

	digest := sha256.Sum256(upload)
	report := ValidationReport{
		Archive:        name,
		SHA256:         hex.EncodeToString(digest[:]),
		Classification: result.Classification.String(),
		Accepted:       result.Accepted,
		Bypass:         result.Bypass,
		Errors:         result.Errors,
	}
	if result.Metadata != nil {
		report.ModID = result.Metadata.ID
		report.ModVersion = result.Metadata.Version.String()
		for _, ref := range result.Metadata.Dependencies {
			report.Dependencies = append(report.Dependencies, Reference{ID: ref.ID, Range: ref.Range.String()})
		}
		for _, ref := range result.Metadata.Conflicts {
			report.Conflicts = append(report.Conflicts, Reference{ID: ref.ID, Range: ref.Range.String()})
		}
	}
	return report
}

// printReport writes the report as JSON or human-readable text.
func printReport(c *cli.Context, report ValidationReport) error {
	if c.Bool("json") {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, string(out))
		return nil
	}

	if report.Accepted {
		if report.Bypass {
			fmt.Fprintf(c.App.Writer, "ACCEPTED %s (loader bundle)\n", report.Archive)
			return nil
		}
		fmt.Fprintf(c.App.Writer, "ACCEPTED %s: %s %s (%s)\n",
			report.Archive, report.ModID, report.ModVersion, report.Classification)
		for _, dep := range report.Dependencies {
			fmt.Fprintf(c.App.Writer, "  depends on %s %s\n", dep.ID, dep.Range)
		}
		for _, con := range report.Conflicts {
			fmt.Fprintf(c.App.Writer, "  conflicts with %s %s\n", con.ID, con.Range)
		}
		return nil
	}

	fmt.Fprintf(c.App.Writer, "REJECTED %s (%s)\n", report.Archive, report.Classification)
	for _, msg := range report.Errors {
		fmt.Fprintf(c.App.Writer, "  %s\n", msg)
	}
	return nil
}

// recordScan stores the report in the scan-history database.
func recordScan(cfg *config.Config, report ValidationReport) error {
	db, err := storage.InitDB(storage.Config{DatabasePath: cfg.Storage.DatabasePath})
	if err != nil {
		return err
	}
	defer db.Close()

	errText := ""
	if len(report.Errors) > 0 {
		joined, err := json.Marshal(report.Errors)
		if err == nil {
			errText = string(joined)
		}
	}

	return db.RecordScan(&storage.Scan{
		ArchiveName:    report.Archive,
		SHA256:         report.SHA256,
		Classification: report.Classification,
		Accepted:       report.Accepted,
		ModID:          report.ModID,
		ModVersion:     report.ModVersion,
		Errors:         errText,
	})
}

// scanUpload runs the ClamAV gate over the upload and fails on any
// detected threat.
func scanUpload(ctx context.Context, cfg *config.Config, log *slog.Logger, name string, upload []byte) error {
	scanner := malware.NewClamAV(nil, cfg.Scanning.Image, log)
	report, err := scanner.Scan(ctx, name, upload)
	if err != nil {
		return err
	}
	if !report.Clean {
		return fmt.Errorf("threats detected: %s", strings.Join(report.Threats, ", "))
	}
	log.Info("malware scan clean", "archive", name, "engine", report.EngineVersion, "duration", report.Duration)
	return nil
}

// verifySignature checks a detached signature file against the upload
// using the policy's trusted key.
func verifySignature(cfg *config.Config, upload []byte, sigPath string) error {
	if !cfg.Signing.Enabled {
		return fmt.Errorf("signing is not enabled in the configuration")
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("failed to read signature file: %w", err)
	}
	kr, err := gpg.NewKeyRingFromFile(cfg.Signing.PublicKeyFile)
	if err != nil {
		return err
	}
	return kr.VerifyDetached(upload, sig)
}

// ManifestDump is the inspect command's output shape
type ManifestDump struct {
	Classification string            `json:"classification"`
	Entry          string            `json:"entry,omitempty"`
	AssemblyName   string            `json:"assembly_name,omitempty"`
	AssemblyVer    string            `json:"assembly_version,omitempty"`
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Author         string            `json:"author,omitempty"`
	Description    string            `json:"description,omitempty"`
	Version        string            `json:"version"`
	DependsOn      map[string]string `json:"depends_on,omitempty"`
	ConflictsWith  map[string]string `json:"conflicts_with,omitempty"`
	ExtraKeys      []string          `json:"extra_keys,omitempty"`
}

// inspectArchive decodes an upload's manifest without applying rules.
func inspectArchive(cfg *config.Config, upload []byte) (*ManifestDump, error) {
	entries, err := archive.List(upload)
	if err != nil {
		return nil, err
	}

	naming := archive.Naming{
		ManifestExt:    cfg.Naming.ManifestExtension,
		AssemblyExt:    cfg.Naming.AssemblyExtension,
		LoaderFilename: cfg.Naming.LoaderFilename,
	}
	cls := archive.Classify(entries, naming)

	dump := &ManifestDump{Classification: cls.Kind.String()}
	switch cls.Kind {
	case archive.KindBypass:
		return dump, nil
	case archive.KindUnclassified:
		return nil, archive.ErrNoManifest
	}
	dump.Entry = cls.Entry.Name()

	raw, err := archive.ReadEntry(cls.Entry)
	if err != nil {
		return nil, err
	}

	if cls.Kind == archive.KindPlugin {
		asm, err := dotnet.Load(raw)
		if err != nil {
			return nil, err
		}
		if id, ok := asm.Identity(); ok {
			dump.AssemblyName = id.Name
			dump.AssemblyVer = id.VersionString()
		}
		if raw, err = asm.Resource(cfg.Naming.ResourceSuffix); err != nil {
			return nil, err
		}
	}

	rec, err := manifest.Decode(raw)
	if err != nil {
		return nil, err
	}

	dump.ID = rec.ID
	dump.Name = rec.Name
	dump.Author = rec.Author
	dump.Description = rec.Description
	dump.Version = rec.Version.String()
	for _, req := range rec.DependsOn {
		if dump.DependsOn == nil {
			dump.DependsOn = make(map[string]string)
		}
		dump.DependsOn[req.ID] = req.Range
	}
	for _, req := range rec.ConflictsWith {
		if dump.ConflictsWith == nil {
			dump.ConflictsWith = make(map[string]string)
		}
		dump.ConflictsWith[req.ID] = req.Range
	}
	known := map[string]bool{
		"id": true, "name": true, "author": true, "description": true,
		"version": true, "dependsOn": true, "conflictsWith": true,
	}
	for key := range rec.Raw {
		if !known[key] {
			dump.ExtraKeys = append(dump.ExtraKeys, key)
		}
	}
	sort.Strings(dump.ExtraKeys)
	return dump, nil
}
