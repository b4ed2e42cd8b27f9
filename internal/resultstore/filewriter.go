package resultstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/edgelab/appaudit/models"
)

const (
	primaryFileName  = "results.json"
	manifestFileName = "manifest.json"
	servicesDirName  = "services"
	sarifDirName     = "sarif"
)

// manifest is the small per-task index written beside the primary file so
// directory listings never need to parse the (potentially large) payload.
type manifest struct {
	TaskID       string         `json:"task_id"`
	ModelSlug    string         `json:"model_slug"`
	AppNumber    int            `json:"app_number"`
	AnalysisType string         `json:"analysis_type"`
	WrittenAt    string         `json:"written_at"`
	Files        []manifestFile `json:"files"`
}

type manifestFile struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// sanitizeSlug makes a model slug safe as a directory component.
func sanitizeSlug(slug string) string {
	slug = strings.TrimSpace(strings.ToLower(slug))
	if slug == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// shortID is the task-id fragment embedded in directory names. It keeps the
// name readable while making same-second stores for different tasks collide
// never.
func shortID(taskID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(taskID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return "task"
	}
	if len(s) > 12 {
		return s[len(s)-12:]
	}
	return s
}

func taskDirName(taskID string, ts time.Time) string {
	return fmt.Sprintf("task_%s_%s", ts.UTC().Format("20060102_150405"), shortID(taskID))
}

func (s *Store) appDir(modelSlug string, appNumber int) string {
	return filepath.Join(s.root, sanitizeSlug(modelSlug), fmt.Sprintf("app%d", appNumber))
}

// findTaskDir locates the newest on-disk directory for a task. An empty slug
// widens the search to the whole results root.
func (s *Store) findTaskDir(modelSlug string, appNumber int, taskID string) string {
	pattern := filepath.Join(s.root, "*", "app*", "task_*_"+shortID(taskID))
	if modelSlug != "" {
		pattern = filepath.Join(s.appDir(modelSlug, appNumber), "task_*_"+shortID(taskID))
	}
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	newest := ""
	var newestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = m
			newestMod = info.ModTime()
		}
	}
	return newest
}

// writeFileAtomic writes data through a temp file in the target directory and
// renames it into place, so readers only ever observe the old complete file
// or the new complete file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// writeMirror writes the filesystem view of a stored result: the primary
// file, one snapshot per service, and the manifest last so a manifest only
// ever describes files that exist.
func writeMirror(res *models.StructuredResult, taskDir string) error {
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return fmt.Errorf("creating task directory: %w", err)
	}

	blob, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result for %s: %w", res.TaskID, err)
	}
	primary := filepath.Join(taskDir, primaryFileName)
	if err := writeFileAtomic(primary, blob); err != nil {
		return err
	}
	files := []manifestFile{{Path: primaryFileName, SizeBytes: int64(len(blob))}}

	if services, ok := res.Results["services"].(map[string]any); ok && len(services) > 0 {
		svcDir := filepath.Join(taskDir, servicesDirName)
		if err := os.MkdirAll(svcDir, 0o755); err != nil {
			return fmt.Errorf("creating services directory: %w", err)
		}
		names := make([]string, 0, len(services))
		for name := range services {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			snap, err := json.MarshalIndent(services[name], "", "  ")
			if err != nil {
				continue
			}
			rel := filepath.Join(servicesDirName, sanitizeSlug(name)+".json")
			if err := writeFileAtomic(filepath.Join(taskDir, rel), snap); err != nil {
				return err
			}
			files = append(files, manifestFile{Path: rel, SizeBytes: int64(len(snap))})
		}
	}

	entries, err := os.ReadDir(filepath.Join(taskDir, sarifDirName))
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			files = append(files, manifestFile{
				Path:      filepath.Join(sarifDirName, e.Name()),
				SizeBytes: info.Size(),
			})
		}
	}

	m := manifest{
		TaskID:       res.TaskID,
		ModelSlug:    res.ModelSlug,
		AppNumber:    res.AppNumber,
		AnalysisType: res.AnalysisType,
		WrittenAt:    time.Now().UTC().Format(time.RFC3339),
		Files:        files,
	}
	mBlob, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest for %s: %w", res.TaskID, err)
	}
	return writeFileAtomic(filepath.Join(taskDir, manifestFileName), mBlob)
}
