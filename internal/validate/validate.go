// Package validate runs the full mod-upload rule set: classify the
// archive, pull the manifest from the right place, decode it, and check
// identity, version agreement, and dependency/conflict ranges. Rule
// errors are aggregated; only structural failures (no manifest anywhere,
// undecodable manifest, unreadable assembly) end a run early.
package validate

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modvet-project/modvet/internal/archive"
	"github.com/modvet-project/modvet/internal/dotnet"
	"github.com/modvet-project/modvet/internal/manifest"
	"github.com/modvet-project/modvet/internal/version"
)

// Rule error messages. Wording is part of the host contract: rejection
// text is shown verbatim to mod authors.
const (
	msgMissingID       = "missing id"
	msgMissingName     = "missing name"
	msgMissingAuthor   = "missing author"
	msgMissingDesc     = "missing description"
	msgInvalidVersion  = "invalid version, must follow semantic-versioning rules"
	msgNoAssemblyName  = "assembly name missing"
	msgNoAssemblyVer   = "could not find assembly version"
	msgVersionMismatch = "assembly version does not match manifest version"
)

// SchemaVariant selects which manifest rule set applies.
type SchemaVariant string

const (
	// VariantStrict additionally requires an author and the presence of a
	// description key (any value, null included).
	VariantStrict SchemaVariant = "strict"
	// VariantMinimal enforces only id, name, version, and the
	// per-classification assembly rules.
	VariantMinimal SchemaVariant = "minimal"
)

// ModReference is a normalized dependency or conflict declaration.
type ModReference struct {
	ID    string
	Range version.Range
}

// ModMetadata is what an accepted upload contributes to the host's mod
// record: identity, version, and the two reference lists.
type ModMetadata struct {
	ID           string
	Version      version.Version
	Dependencies []ModReference
	Conflicts    []ModReference
}

// Result is the outcome of one validation call. Either Accepted is true
// and Metadata carries every derived field, or Errors carries every
// applicable message; never a partially populated mix.
type Result struct {
	Accepted       bool
	Bypass         bool
	Classification archive.Kind
	Metadata       *ModMetadata
	Errors         []string
}

// ErrorText joins the accumulated errors in evaluation order.
func (r Result) ErrorText() string {
	return strings.Join(r.Errors, "\n")
}

func rejected(kind archive.Kind, errs ...string) Result {
	return Result{Classification: kind, Errors: errs}
}

// Options configures an Engine.
type Options struct {
	Naming         archive.Naming
	ResourceSuffix string
	Variant        SchemaVariant
	Logger         *slog.Logger
}

// Engine validates uploads. Stateless across calls; safe for concurrent
// use because each call works on its own decoded copies of the input.
type Engine struct {
	naming         archive.Naming
	resourceSuffix string
	variant        SchemaVariant
	log            *slog.Logger
}

// Default filename conventions.
const (
	DefaultManifestExt    = ".manifest"
	DefaultAssemblyExt    = ".dll"
	DefaultResourceSuffix = "manifest.json"
	DefaultLoaderFilename = "ModLoader.exe"
)

// New creates an Engine, filling unset options with the defaults.
func New(opts Options) *Engine {
	e := &Engine{
		naming:         opts.Naming,
		resourceSuffix: opts.ResourceSuffix,
		variant:        opts.Variant,
		log:            opts.Logger,
	}
	if e.naming.ManifestExt == "" {
		e.naming.ManifestExt = DefaultManifestExt
	}
	if e.naming.AssemblyExt == "" {
		e.naming.AssemblyExt = DefaultAssemblyExt
	}
	if e.naming.LoaderFilename == "" {
		e.naming.LoaderFilename = DefaultLoaderFilename
	}
	if e.resourceSuffix == "" {
		e.resourceSuffix = DefaultResourceSuffix
	}
	if e.variant == "" {
		e.variant = VariantStrict
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// ValidateAndPopulate classifies the upload, extracts and decodes its
// manifest, and runs the rule set. All failure paths return a rejection
// Result; no error escapes the call.
func (e *Engine) ValidateAndPopulate(upload []byte) Result {
	entries, err := archive.List(upload)
	if err != nil {
		return rejected(archive.KindUnclassified, err.Error())
	}

	cls := archive.Classify(entries, e.naming)
	switch cls.Kind {
	case archive.KindBypass:
		// Loader bundle: accepted unconditionally, nothing populated.
		return Result{Accepted: true, Bypass: true, Classification: cls.Kind}
	case archive.KindUnclassified:
		return rejected(cls.Kind, archive.ErrNoManifest.Error())
	}

	raw, err := archive.ReadEntry(cls.Entry)
	if err != nil {
		return rejected(cls.Kind, err.Error())
	}

	var identity *dotnet.Identity
	if cls.Kind == archive.KindPlugin {
		asm, err := dotnet.Load(raw)
		if err != nil {
			return rejected(cls.Kind, e.describeExtraction(cls.Entry.Name(), err))
		}
		if id, ok := asm.Identity(); ok {
			identity = &id
		}
		raw, err = asm.Resource(e.resourceSuffix)
		if err != nil {
			return rejected(cls.Kind, e.describeExtraction(cls.Entry.Name(), err))
		}
	}

	rec, err := manifest.Decode(raw)
	if err != nil {
		return rejected(cls.Kind, err.Error())
	}

	return e.applyRules(cls.Kind, rec, identity)
}

// ValidateAndFix runs the same pipeline and, on acceptance, overwrites
// the given record's identity, version, and reference lists. The record
// is untouched on rejection.
func (e *Engine) ValidateAndFix(upload []byte, meta *ModMetadata) Result {
	result := e.ValidateAndPopulate(upload)
	if result.Accepted && result.Metadata != nil && meta != nil {
		meta.ID = result.Metadata.ID
		meta.Version = result.Metadata.Version
		meta.Dependencies = result.Metadata.Dependencies
		meta.Conflicts = result.Metadata.Conflicts
	}
	return result
}

// describeExtraction converts an assembly-reading failure into one
// rejection message, keeping the malformed-image and unknown-error
// categories distinguishable for operators.
func (e *Engine) describeExtraction(entryName string, err error) string {
	var unknown *dotnet.ExtractionError
	switch {
	case errors.Is(err, dotnet.ErrImageFormat):
		return err.Error()
	case errors.Is(err, dotnet.ErrNoManifestResource):
		return err.Error()
	case errors.As(err, &unknown):
		e.log.Error("unexpected assembly extraction failure",
			"entry", entryName, "error", unknown.Cause)
		return fmt.Sprintf("unknown error while reading assembly %s", entryName)
	default:
		e.log.Error("unexpected assembly extraction failure",
			"entry", entryName, "error", err)
		return fmt.Sprintf("unknown error while reading assembly %s", entryName)
	}
}

// applyRules evaluates every rule before returning, so a rejection
// carries the complete list of problems in rule order.
func (e *Engine) applyRules(kind archive.Kind, rec *manifest.Record, identity *dotnet.Identity) Result {
	var errs []string

	if strings.TrimSpace(rec.ID) == "" {
		errs = append(errs, msgMissingID)
	}
	if strings.TrimSpace(rec.Name) == "" {
		errs = append(errs, msgMissingName)
	}
	if e.variant == VariantStrict {
		if strings.TrimSpace(rec.Author) == "" {
			errs = append(errs, msgMissingAuthor)
		}
		// Presence-only: a null description satisfies this.
		if !rec.Has("description") {
			errs = append(errs, msgMissingDesc)
		}
	}
	if rec.Version.IsZero() {
		errs = append(errs, msgInvalidVersion)
	}

	if kind == archive.KindPlugin {
		errs = append(errs, e.assemblyRules(rec, identity)...)
	}

	deps, depErrs := resolveReferences(rec.DependsOn, "dependency")
	errs = append(errs, depErrs...)
	conflicts, conflictErrs := resolveReferences(rec.ConflictsWith, "confliction")
	errs = append(errs, conflictErrs...)

	if len(errs) > 0 {
		return rejected(kind, errs...)
	}

	return Result{
		Accepted:       true,
		Classification: kind,
		Metadata: &ModMetadata{
			ID:           rec.ID,
			Version:      rec.Version,
			Dependencies: deps,
			Conflicts:    conflicts,
		},
	}
}

// assemblyRules cross-checks the assembly's self-declared identity
// against the manifest. Pre-release and build metadata never enter the
// comparison.
func (e *Engine) assemblyRules(rec *manifest.Record, identity *dotnet.Identity) []string {
	if identity == nil {
		return []string{msgNoAssemblyName, msgNoAssemblyVer}
	}

	var errs []string
	if strings.TrimSpace(identity.Name) == "" {
		errs = append(errs, msgNoAssemblyName)
	}

	if !rec.Version.IsZero() {
		asmVer, err := version.Parse(fmt.Sprintf("%d.%d.%d", identity.Major, identity.Minor, identity.Build))
		if err != nil || !asmVer.CoreEquals(rec.Version) {
			errs = append(errs, msgVersionMismatch)
		}
	}
	return errs
}

// resolveReferences parses each declared range, collecting references
// and errors independently: one malformed entry never hides the rest.
func resolveReferences(reqs []manifest.Requirement, noun string) ([]ModReference, []string) {
	var refs []ModReference
	var errs []string
	for _, req := range reqs {
		rng, err := version.ParseRange(req.Range)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s %s has an invalid version range %q", noun, req.ID, req.Range))
			continue
		}
		refs = append(refs, ModReference{ID: req.ID, Range: rng})
	}
	return refs, errs
}
