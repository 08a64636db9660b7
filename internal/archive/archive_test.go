package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
)

var testNaming = Naming{
	ManifestExt:    ".manifest",
	AssemblyExt:    ".dll",
	LoaderFilename: "ModLoader.exe",
}

// buildZip creates an in-memory zip with the given name→content entries
// in order.
func buildZip(t *testing.T, entries map[string][]byte, order []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range order {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip entry %s: %v", name, err)
		}
		if _, err := f.Write(entries[name]); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func TestList(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"a.txt": []byte("hello"),
		"b.txt": []byte("world"),
	}, []string{"a.txt", "b.txt"})

	entries, err := List(data)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	got, err := ReadEntry(entries[0])
	if err != nil {
		t.Fatalf("ReadEntry failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("expected entry content hello, got %q", got)
	}
}

func TestList_NotAnArchive(t *testing.T) {
	_, err := List([]byte("definitely not a zip"))
	if !errors.Is(err, ErrNotArchive) {
		t.Errorf("expected ErrNotArchive, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		entries   []string
		wantKind  Kind
		wantEntry string
	}{
		{
			name:      "manifest only",
			entries:   []string{"CoolMod.manifest"},
			wantKind:  KindLibrary,
			wantEntry: "CoolMod.manifest",
		},
		{
			name:      "assembly only",
			entries:   []string{"CoolMod.dll"},
			wantKind:  KindPlugin,
			wantEntry: "CoolMod.dll",
		},
		{
			name:      "manifest wins over assembly",
			entries:   []string{"CoolMod.dll", "CoolMod.manifest"},
			wantKind:  KindLibrary,
			wantEntry: "CoolMod.manifest",
		},
		{
			name:      "manifest wins regardless of other entries",
			entries:   []string{"readme.txt", "lib/helper.dll", "CoolMod.manifest", "icon.png"},
			wantKind:  KindLibrary,
			wantEntry: "CoolMod.manifest",
		},
		{
			name:      "case-insensitive suffixes",
			entries:   []string{"CoolMod.DLL"},
			wantKind:  KindPlugin,
			wantEntry: "CoolMod.DLL",
		},
		{
			name:      "first matching entry wins on duplicates",
			entries:   []string{"first.dll", "second.dll"},
			wantKind:  KindPlugin,
			wantEntry: "first.dll",
		},
		{
			name:     "nothing qualifying",
			entries:  []string{"readme.txt", "icon.png"},
			wantKind: KindUnclassified,
		},
		{
			name:     "empty archive",
			entries:  nil,
			wantKind: KindUnclassified,
		},
		{
			name:     "loader bypass",
			entries:  []string{"ModLoader.exe"},
			wantKind: KindBypass,
		},
		{
			name:     "loader bypass beats manifest and assembly",
			entries:  []string{"CoolMod.manifest", "CoolMod.dll", "ModLoader.exe"},
			wantKind: KindBypass,
		},
		{
			name:     "loader name must match exactly",
			entries:  []string{"tools/ModLoader.exe", "notModLoader.exe"},
			wantKind: KindUnclassified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contents := make(map[string][]byte, len(tt.entries))
			for _, name := range tt.entries {
				contents[name] = []byte("content")
			}
			data := buildZip(t, contents, tt.entries)

			entries, err := List(data)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}

			cls := Classify(entries, testNaming)
			if cls.Kind != tt.wantKind {
				t.Fatalf("expected kind %v, got %v", tt.wantKind, cls.Kind)
			}
			if tt.wantEntry != "" {
				if cls.Entry == nil {
					t.Fatal("expected a matched entry")
				}
				if cls.Entry.Name() != tt.wantEntry {
					t.Errorf("expected entry %s, got %s", tt.wantEntry, cls.Entry.Name())
				}
			} else if cls.Entry != nil {
				t.Errorf("expected no matched entry, got %s", cls.Entry.Name())
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindUnclassified, "unclassified"},
		{KindLibrary, "library"},
		{KindPlugin, "plugin"},
		{KindBypass, "bypass"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
