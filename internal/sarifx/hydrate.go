package sarifx

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/edgelab/appaudit/models"
)

// FileResolver reads an externalized artifact by its task-relative path.
// Implementations must enforce the path-containment invariant (ResolveWithin).
type FileResolver func(rel string) ([]byte, error)

// securityTools names analyzers whose derived findings always feed the
// task-level finding list, even when the owning service block carries no
// explicit type.
var securityTools = map[string]bool{
	"bandit":     true,
	"semgrep":    true,
	"gosec":      true,
	"codeql":     true,
	"trivy":      true,
	"grype":      true,
	"safety":     true,
	"snyk":       true,
	"zap":        true,
	"trufflehog": true,
}

func securityRelevant(te toolEntry) bool {
	if strings.Contains(strings.ToLower(te.ServiceType), "sec") {
		return true
	}
	if strings.Contains(strings.ToLower(te.ServiceName), "sec") {
		return true
	}
	return securityTools[strings.ToLower(te.Tool)]
}

// Hydrate returns a new structured result in which every tool entry with an
// empty issue list but a resolvable SARIF document (externalized or inline)
// carries findings derived from that document. Security-relevant derivations
// are also appended to the top-level finding list and counted into the
// severity breakdown. Hydrating an already-hydrated result is a no-op, so
// running it twice never duplicates findings. The input is never mutated.
func Hydrate(res *models.StructuredResult, resolve FileResolver) *models.StructuredResult {
	out, err := cloneResult(res)
	if err != nil {
		slog.Warn("sarif hydration skipped: result not cloneable", "task_id", res.TaskID, "error", err)
		return res
	}
	if out.Results == nil {
		return out
	}

	derivedByTool := make(map[string][]models.Finding)
	counted := make(map[string]bool)

	for _, te := range toolEntries(out.Results) {
		if issues, ok := te.Entry["issues"].([]any); ok && len(issues) > 0 {
			continue // already hydrated or inline findings present
		}

		doc, ok := loadDocument(te, resolve)
		if !ok {
			continue
		}

		findings, cached := derivedByTool[te.Tool]
		if !cached {
			findings, err = DeriveFindings(doc, te.Tool)
			if err != nil {
				slog.Warn("skipping unparseable sarif document",
					"task_id", res.TaskID, "tool", te.Tool, "error", err)
				continue
			}
			derivedByTool[te.Tool] = findings
		}

		issueMaps := make([]any, len(findings))
		for i := range findings {
			issueMaps[i] = findings[i].ToMap()
		}
		te.Entry["issues"] = issueMaps
		te.Entry["total_issues"] = len(findings)

		if len(findings) > 0 && securityRelevant(te) && !counted[te.Tool] {
			counted[te.Tool] = true
			appendFindings(out, findings)
		}
	}
	return out
}

// loadDocument fetches the SARIF bytes for a tool entry: an externalized
// reference wins; an inline document still present is used as-is. Containment
// violations and read failures degrade to a skip, never an error.
func loadDocument(te toolEntry, resolve FileResolver) ([]byte, bool) {
	if rel, ok := artifactRef(te.Entry); ok {
		if resolve == nil {
			return nil, false
		}
		doc, err := resolve(rel)
		if err != nil {
			slog.Warn("skipping unresolvable sarif reference", "tool", te.Tool, "path", rel, "error", err)
			return nil, false
		}
		return doc, true
	}
	if inline, ok := inlineSarif(te.Entry); ok {
		doc, err := json.Marshal(inline)
		if err != nil {
			return nil, false
		}
		return doc, true
	}
	return nil, false
}

// DeriveFindings parses a SARIF document and converts its results into
// canonical findings. Levels map error→high, warning→medium, note→low,
// none→info; rule display names and help URLs are merged in when the run's
// rule index resolves them.
func DeriveFindings(doc []byte, tool string) ([]models.Finding, error) {
	var report sarif.Report
	if err := json.Unmarshal(doc, &report); err != nil {
		return nil, fmt.Errorf("parsing sarif document: %w", err)
	}

	var out []models.Finding
	for _, run := range report.Runs {
		if run == nil {
			continue
		}
		version := ""
		rules := map[string]*sarif.ReportingDescriptor{}
		if run.Tool.Driver != nil {
			if run.Tool.Driver.SemanticVersion != nil {
				version = *run.Tool.Driver.SemanticVersion
			}
			for _, r := range run.Tool.Driver.Rules {
				if r != nil && r.ID != "" {
					rules[r.ID] = r
				}
			}
		}

		for _, res := range run.Results {
			if res == nil {
				continue
			}
			f := models.Finding{
				Tool:        tool,
				ToolVersion: version,
				Title:       "Finding",
				CreatedAt:   time.Now().UTC(),
			}
			ruleID := ""
			if res.RuleID != nil {
				ruleID = *res.RuleID
			}
			f.RuleID = ruleID
			if ruleID != "" {
				f.Title = ruleID
			}

			level := ""
			if res.Level != nil {
				level = *res.Level
			}
			rule := rules[ruleID]
			if level == "" && rule != nil && rule.DefaultConfiguration != nil {
				level = rule.DefaultConfiguration.Level
			}
			f.Severity = models.MapSarifLevel(level)

			if res.Message.Text != nil {
				f.Message = *res.Message.Text
			}
			if rule != nil {
				if rule.Name != nil && strings.TrimSpace(*rule.Name) != "" {
					f.Title = strings.TrimSpace(*rule.Name)
				} else if rule.ShortDescription != nil && rule.ShortDescription.Text != nil &&
					strings.TrimSpace(*rule.ShortDescription.Text) != "" {
					f.Title = strings.TrimSpace(*rule.ShortDescription.Text)
				}
				if rule.HelpURI != nil && *rule.HelpURI != "" {
					if blob, err := json.Marshal([]string{*rule.HelpURI}); err == nil {
						f.Recommendations = string(blob)
					}
				}
			}
			if f.Message == "" {
				f.Message = f.Title
			}

			if len(res.Locations) > 0 && res.Locations[0] != nil && res.Locations[0].PhysicalLocation != nil {
				pl := res.Locations[0].PhysicalLocation
				if pl.ArtifactLocation != nil && pl.ArtifactLocation.URI != nil {
					f.FilePath = *pl.ArtifactLocation.URI
				}
				if pl.Region != nil {
					if pl.Region.StartLine != nil {
						f.Line = *pl.Region.StartLine
					}
					if pl.Region.StartColumn != nil {
						f.Column = *pl.Region.StartColumn
					}
				}
			}
			out = append(out, f)
		}
	}
	return out, nil
}

// appendFindings adds derived findings to the result's top-level finding
// list and bumps the severity-breakdown summary.
func appendFindings(out *models.StructuredResult, findings []models.Finding) {
	existing, _ := out.Results["findings"].([]any)
	for i := range findings {
		existing = append(existing, findings[i].ToMap())
	}
	out.Results["findings"] = existing

	if out.Summary == nil {
		out.Summary = map[string]any{}
	}
	breakdown := map[string]int{}
	if prev, ok := out.Summary["severity_breakdown"].(map[string]any); ok {
		for k, v := range prev {
			breakdown[k] = toInt(v)
		}
	}
	for _, s := range models.AllSeverities() {
		if _, ok := breakdown[s.String()]; !ok {
			breakdown[s.String()] = 0
		}
	}
	for i := range findings {
		breakdown[findings[i].Severity.String()]++
	}
	asAny := make(map[string]any, len(breakdown))
	for k, v := range breakdown {
		asAny[k] = v
	}
	out.Summary["severity_breakdown"] = asAny
	out.Summary["total_issues"] = toInt(out.Summary["total_issues"]) + len(findings)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

func cloneResult(res *models.StructuredResult) (*models.StructuredResult, error) {
	blob, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var out models.StructuredResult
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
