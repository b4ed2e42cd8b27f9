// Package profiles manages analysis profiles — named views over stored
// results that pick an analysis type, a minimum report severity, and the
// services a reader cares about.
package profiles

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/edgelab/appaudit/models"
)

//go:embed defaults/*.md
var defaultsFS embed.FS

// Profile is a parsed analysis profile.
type Profile struct {
	// Name is the machine-readable identifier (matches the filename without .md).
	Name string `yaml:"name"`
	// Version is a monotonically increasing integer for future compatibility.
	Version int `yaml:"version"`
	// Description is a one-line human-readable summary.
	Description string `yaml:"description"`
	// AnalysisType narrows the profile to one analysis type. Empty = any.
	// Valid values: "security", "performance", "dynamic", "ai", "unified".
	AnalysisType string `yaml:"analysis_type"`
	// MinSeverity is the least severe finding still shown under this profile.
	// Valid values: "critical", "high", "medium", "low", "info", "" (all).
	MinSeverity string `yaml:"min_severity"`
	// ServiceFocus restricts which services' findings are shown. Empty = all.
	ServiceFocus []string `yaml:"service_focus"`
	// Tags are searchable labels for the profile.
	Tags []string `yaml:"tags"`
	// Body is the markdown content after the YAML frontmatter, shown as
	// reviewer guidance alongside filtered reports.
	Body string `yaml:"-"`
	// Bundled is true if this profile was loaded from the embedded defaults.
	Bundled bool `yaml:"-"`
}

// Load reads a profile by name from the user profile directory (falling back
// to bundled defaults). Returns an error if the profile does not exist.
func Load(name, profilesDir string) (*Profile, error) {
	if name == "" {
		return nil, nil
	}

	if profilesDir != "" {
		path := filepath.Join(profilesDir, name+".md")
		if data, err := os.ReadFile(path); err == nil {
			p, err := parse(data)
			if err != nil {
				return nil, fmt.Errorf("profiles: parse %q: %w", path, err)
			}
			if p.Name == "" {
				p.Name = name
			}
			return p, nil
		}
	}

	data, err := defaultsFS.ReadFile("defaults/" + name + ".md")
	if err != nil {
		return nil, fmt.Errorf("profiles: profile %q not found", name)
	}
	p, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("profiles: parse bundled %q: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	p.Bundled = true
	return p, nil
}

// List returns all profiles available — user-defined (from profilesDir)
// merged with bundled defaults. User profiles shadow bundled ones of the
// same name.
func List(profilesDir string) ([]Profile, error) {
	byName := make(map[string]Profile)

	entries, err := defaultsFS.ReadDir("defaults")
	if err != nil {
		return nil, fmt.Errorf("profiles: reading embedded defaults: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := defaultsFS.ReadFile("defaults/" + entry.Name())
		if err != nil {
			continue
		}
		p, err := parse(data)
		if err != nil {
			slog.Warn("profiles: skipping malformed bundled profile", "file", entry.Name(), "error", err)
			continue
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(entry.Name(), ".md")
		}
		p.Bundled = true
		byName[p.Name] = *p
	}

	if profilesDir != "" {
		_ = filepath.WalkDir(profilesDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			p, err := parse(data)
			if err != nil {
				slog.Warn("profiles: skipping malformed user profile", "file", path, "error", err)
				return nil
			}
			if p.Name == "" {
				p.Name = strings.TrimSuffix(d.Name(), ".md")
			}
			byName[p.Name] = *p
			return nil
		})
	}

	out := make([]Profile, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	return out, nil
}

// DefaultDir returns the default profiles directory: ~/.appaudit/profiles/.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".appaudit", "profiles")
}

// Init creates the user profiles directory and copies any missing bundled
// profiles into it. Safe to call on every startup — skips files that
// already exist.
func Init(profilesDir string) error {
	if err := os.MkdirAll(profilesDir, 0o750); err != nil {
		return fmt.Errorf("profiles: create dir %s: %w", profilesDir, err)
	}

	entries, err := defaultsFS.ReadDir("defaults")
	if err != nil {
		return fmt.Errorf("profiles: reading embedded defaults: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		dest := filepath.Join(profilesDir, entry.Name())
		if _, err := os.Stat(dest); err == nil {
			continue // already exists; don't overwrite user edits
		}
		data, err := defaultsFS.ReadFile("defaults/" + entry.Name())
		if err != nil {
			continue
		}
		if err := os.WriteFile(dest, data, 0o640); err != nil {
			slog.Warn("profiles: failed to write default profile", "file", dest, "error", err)
		}
	}
	return nil
}

// parse extracts YAML frontmatter and the markdown body from a profile file.
func parse(data []byte) (*Profile, error) {
	const delim = "---"

	data = bytes.TrimLeft(data, " \t\n\r")

	if !bytes.HasPrefix(data, []byte(delim)) {
		// No frontmatter — treat the whole file as the body.
		return &Profile{Body: strings.TrimSpace(string(data))}, nil
	}

	rest := bytes.TrimPrefix(data, []byte(delim))
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, fmt.Errorf("unterminated YAML frontmatter (missing closing ---)")
	}

	frontmatter := rest[:idx]
	body := strings.TrimSpace(string(rest[idx+len("\n"+delim):]))

	var p Profile
	if err := yaml.Unmarshal(frontmatter, &p); err != nil {
		return nil, fmt.Errorf("invalid YAML frontmatter: %w", err)
	}
	p.Body = body
	return &p, nil
}

// AllowsSeverity reports whether a finding of the given severity passes the
// profile's minimum. An empty or unrecognized minimum passes everything.
func (p *Profile) AllowsSeverity(sev models.SeverityLevel) bool {
	min := models.SeverityLevel(strings.ToLower(strings.TrimSpace(p.MinSeverity)))
	if min.Weight() == 0 {
		return true
	}
	return sev.Weight() >= min.Weight()
}

// AllowsService reports whether findings from the named service are shown.
// An empty focus list shows everything.
func (p *Profile) AllowsService(service string) bool {
	if len(p.ServiceFocus) == 0 {
		return true
	}
	for _, s := range p.ServiceFocus {
		if strings.EqualFold(s, service) {
			return true
		}
	}
	return false
}

// FilterFindingMaps applies the profile's severity floor and service focus
// to the generic finding maps embedded in a structured result. A finding
// that names no service cannot be attributed and passes the focus filter.
func (p *Profile) FilterFindingMaps(findings []any) []any {
	if p == nil {
		return findings
	}
	out := make([]any, 0, len(findings))
	for _, raw := range findings {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		sev, _ := m["severity"].(string)
		if !p.AllowsSeverity(models.NormalizeSeverity(sev, models.SeverityInfo)) {
			continue
		}
		if svc := findingService(m); svc != "" && !p.AllowsService(svc) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func findingService(m map[string]any) string {
	if svc, ok := m["service"].(string); ok {
		return svc
	}
	svc, _ := m["service_name"].(string)
	return svc
}
