package resultstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/edgelab/appaudit/internal/sarifx"
	"github.com/edgelab/appaudit/models"
)

// ListResultFiles returns the primary result files stored for one model/app
// pair, newest first.
func (s *Store) ListResultFiles(modelSlug string, appNumber int) ([]models.ResultFile, error) {
	pattern := filepath.Join(s.appDir(modelSlug, appNumber), "task_*", primaryFileName)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("scanning result files: %w", err)
	}

	out := make([]models.ResultFile, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		rf := models.ResultFile{
			Path:       path,
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC().Format("2006-01-02T15:04:05Z07:00"),
			TaskID:     taskIDFromManifest(filepath.Dir(path)),
		}
		out = append(out, rf)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModifiedAt != out[j].ModifiedAt {
			return out[i].ModifiedAt > out[j].ModifiedAt
		}
		return out[i].Path > out[j].Path
	})
	return out, nil
}

// taskIDFromManifest recovers the full task id from the directory's
// manifest; the directory name only carries a fragment.
func taskIDFromManifest(taskDir string) string {
	blob, err := os.ReadFile(filepath.Join(taskDir, manifestFileName))
	if err != nil {
		return ""
	}
	var m manifest
	if err := json.Unmarshal(blob, &m); err != nil {
		return ""
	}
	return m.TaskID
}

// GetSarifFiles lists the externalized SARIF documents stored for a task,
// as paths relative to the task directory.
func (s *Store) GetSarifFiles(taskID string) ([]string, error) {
	dir := s.findTaskDir("", 0, taskID)
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(filepath.Join(dir, sarifDirName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing sarif files for task %s: %w", taskID, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, filepath.Join(sarifDirName, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// LoadSarifFile reads one externalized SARIF document. The name may be a
// bare file name or a task-relative path; either way it must resolve inside
// the task's directory.
func (s *Store) LoadSarifFile(taskID, name string) ([]byte, error) {
	dir := s.findTaskDir("", 0, taskID)
	if dir == "" {
		return nil, fmt.Errorf("no result directory for task %s", taskID)
	}
	rel := name
	if !strings.ContainsRune(rel, '/') && !strings.ContainsRune(rel, filepath.Separator) {
		rel = filepath.Join(sarifDirName, rel)
	}
	abs, err := sarifx.ResolveWithin(dir, rel)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading sarif file %s for task %s: %w", rel, taskID, err)
	}
	return blob, nil
}
