// Package bundle packages a tape plus caller-supplied content (a SQLite
// snapshot, an optional workspace patch) into a single zip archive for
// sharing or local debugging, grounded in original_source's
// repro/bundle.rs.
//
// SQLite persistence and git worktree management are out of scope here:
// the caller supplies the db snapshot as a file path (copied verbatim) and
// the patch as a string, so the bundle FORMAT is fully implemented without
// this package owning either subsystem.
package bundle

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/conduitrun/conduit/tape"
)

// SchemaVersion is the current bundle format version.
const SchemaVersion uint32 = 1

const (
	metaJSON        = "meta.json"
	tapeJSONL       = "tape.jsonl"
	dbSQLite        = "db.sqlite"
	workspacePatch  = "workspace.patch"
	conduitDBName   = "conduit.db"
	reproDirName    = "repro"
)

// ExportMode controls scrubbing applied before writing a bundle.
type ExportMode string

const (
	ExportLocal     ExportMode = "local"
	ExportShareable ExportMode = "shareable"
)

// Meta is the bundle's meta.json contents.
type Meta struct {
	SchemaVersion uint32     `json:"schema_version"`
	ExportMode    ExportMode `json:"export_mode"`
	CreatedAtMs   uint64     `json:"created_at_ms"`
	AppVersion    string     `json:"app_version"`
	OS            string     `json:"os"`
	GitCommit     string     `json:"git_commit,omitempty"`
}

// Scrubber redacts sensitive data from a tape before a Shareable export.
// Its internals are a collaborator; Create only invokes it at the right
// point in the pipeline.
type Scrubber func(*tape.Tape)

// CreateParams bundles Create's inputs.
type CreateParams struct {
	OutPath         string
	Meta            Meta
	Tape            *tape.Tape
	DBPath          string
	WorkspacePatch  string // written only when HasWorkspacePatch is set
	HasWorkspacePatch bool
	Scrub           Scrubber // invoked only when Meta.ExportMode == ExportShareable
}

// Create writes a *.repro.zip to params.OutPath.
func Create(params CreateParams) error {
	meta := params.Meta
	meta.SchemaVersion = SchemaVersion

	t := params.Tape
	if t.SchemaVersion == 0 {
		t.SchemaVersion = tape.SchemaVersion
	}
	if meta.ExportMode == ExportShareable && params.Scrub != nil {
		params.Scrub(t)
	}

	f, err := os.Create(params.OutPath)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := writeZipMember(zw, metaJSON, metaBytes); err != nil {
		return err
	}

	tapeBytes, err := marshalTapeJSONL(t)
	if err != nil {
		return err
	}
	if err := writeZipMember(zw, tapeJSONL, tapeBytes); err != nil {
		return err
	}

	dbFile, err := os.Open(params.DBPath)
	if err != nil {
		return err
	}
	defer dbFile.Close()
	dbWriter, err := zw.Create(dbSQLite)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dbWriter, dbFile); err != nil {
		return err
	}

	if params.HasWorkspacePatch {
		if err := writeZipMember(zw, workspacePatch, []byte(params.WorkspacePatch)); err != nil {
			return err
		}
	}

	return zw.Close()
}

func writeZipMember(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalTapeJSONL(t *tape.Tape) ([]byte, error) {
	tmp, err := os.CreateTemp("", "conduit-bundle-tape-*.jsonl")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := tape.Write(tmp.Name(), t); err != nil {
		return nil, err
	}
	return os.ReadFile(tmp.Name())
}

// Opened describes an opened bundle's extracted contents.
type Opened struct {
	Meta                Meta
	Dir                 string
	DBPath              string
	TapePath            string
	WorkspacePatchPath  string
	HasWorkspacePatch   bool
}

// Open extracts a bundle's members into a fresh temp directory. Bundles
// with a schema_version newer than SchemaVersion are rejected.
func Open(path string) (*Opened, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	metaBytes, err := readZipMember(&r.Reader, metaJSON)
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, err
	}
	if meta.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("bundle: unsupported schema_version %d (max supported %d)", meta.SchemaVersion, SchemaVersion)
	}

	dir, err := os.MkdirTemp("", "conduit-bundle-*")
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, dbSQLite)
	if err := extractZipMember(&r.Reader, dbSQLite, dbPath); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	tapePath := filepath.Join(dir, tapeJSONL)
	if err := extractZipMember(&r.Reader, tapeJSONL, tapePath); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	opened := &Opened{Meta: meta, Dir: dir, DBPath: dbPath, TapePath: tapePath}
	patchPath := filepath.Join(dir, workspacePatch)
	if err := extractZipMember(&r.Reader, workspacePatch, patchPath); err == nil {
		opened.WorkspacePatchPath = patchPath
		opened.HasWorkspacePatch = true
	}

	return opened, nil
}

func readZipMember(r *zip.Reader, name string) ([]byte, error) {
	f, err := r.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func extractZipMember(r *zip.Reader, name, destPath string) error {
	data, err := readZipMember(r, name)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, data, 0o644)
}

// PrepareDataDir extracts bundlePath and arranges its contents in the
// canonical conduit data-dir layout: conduit.db, repro/meta.json,
// repro/tape.jsonl, optional repro/workspace.patch.
func PrepareDataDir(bundlePath string) (*Opened, error) {
	opened, err := Open(bundlePath)
	if err != nil {
		return nil, err
	}

	dbOut := filepath.Join(opened.Dir, conduitDBName)
	if err := copyFile(opened.DBPath, dbOut); err != nil {
		return nil, err
	}

	reproDir := filepath.Join(opened.Dir, reproDirName)
	if err := os.MkdirAll(reproDir, 0o755); err != nil {
		return nil, err
	}

	metaBytes, err := json.MarshalIndent(opened.Meta, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(reproDir, metaJSON), metaBytes, 0o644); err != nil {
		return nil, err
	}

	tapeOut := filepath.Join(reproDir, tapeJSONL)
	if err := copyFile(opened.TapePath, tapeOut); err != nil {
		return nil, err
	}

	result := &Opened{Meta: opened.Meta, Dir: opened.Dir, DBPath: dbOut, TapePath: tapeOut}
	if opened.HasWorkspacePatch {
		patchOut := filepath.Join(reproDir, workspacePatch)
		if err := copyFile(opened.WorkspacePatchPath, patchOut); err != nil {
			return nil, err
		}
		result.WorkspacePatchPath = patchOut
		result.HasWorkspacePatch = true
	}
	return result, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
