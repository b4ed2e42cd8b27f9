package normalize

import (
	"fmt"

	"github.com/edgelab/appaudit/models"
)

// DeriveIssuesFromService converts pre-structured service summaries into
// canonical findings for tools that never emit a generic findings array.
// Recognized blocks: vulnerability-scan entries, open-port notices, and
// missing-security-header notices. Unrecognized blocks yield nothing.
func DeriveIssuesFromService(serviceType, toolName string, block map[string]any) []models.Finding {
	if len(block) == 0 {
		return nil
	}
	var out []models.Finding
	out = append(out, deriveVulnerabilities(serviceType, toolName, block)...)
	out = append(out, deriveOpenPorts(serviceType, toolName, block)...)
	out = append(out, deriveMissingHeaders(serviceType, toolName, block)...)
	return out
}

func deriveVulnerabilities(serviceType, toolName string, block map[string]any) []models.Finding {
	entries, ok := block["vulnerabilities"].([]any)
	if !ok {
		return nil
	}
	out := make([]models.Finding, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		f := Normalize(m, toolName, models.SeverityMedium)
		if f.Category == "" {
			f.Category = serviceType
		}
		if f.Title == defaultTitle {
			if id := firstString(m, "id", "cve", "vulnerability_id"); id != "" {
				f.Title = id
			}
		}
		out = append(out, f)
	}
	return out
}

func deriveOpenPorts(serviceType, toolName string, block map[string]any) []models.Finding {
	entries, ok := block["open_ports"].([]any)
	if !ok {
		return nil
	}
	out := make([]models.Finding, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		port := firstInt(m, "port", "port_number")
		svc := firstString(m, "service", "protocol", "name")
		title := fmt.Sprintf("Open port %d", port)
		if svc != "" {
			title = fmt.Sprintf("Open port %d (%s)", port, svc)
		}
		f := Normalize(m, toolName, models.SeverityLow)
		f.Title = title
		if f.Message == defaultTitle || f.Message == "" {
			f.Message = title
		}
		if f.Category == "" {
			f.Category = serviceType
		}
		out = append(out, f)
	}
	return out
}

func deriveMissingHeaders(serviceType, toolName string, block map[string]any) []models.Finding {
	entries, ok := block["missing_headers"].([]any)
	if !ok {
		return nil
	}
	out := make([]models.Finding, 0, len(entries))
	for _, e := range entries {
		var header, msg string
		var base map[string]any
		switch v := e.(type) {
		case string:
			header = v
			base = map[string]any{}
		case map[string]any:
			header = firstString(v, "header", "name")
			msg = firstString(v, "message", "description")
			base = v
		default:
			continue
		}
		if header == "" {
			continue
		}
		f := Normalize(base, toolName, models.SeverityMedium)
		f.Title = "Missing security header: " + header
		if msg != "" {
			f.Message = msg
		} else {
			f.Message = fmt.Sprintf("Response is missing the %s header", header)
		}
		if f.Category == "" {
			f.Category = serviceType
		}
		out = append(out, f)
	}
	return out
}
