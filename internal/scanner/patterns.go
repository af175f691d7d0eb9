package scanner

import (
	"regexp"

	"github.com/patchpilot/patchpilot/pkg/models"
)

// Pattern is one static-analysis rule with a fixed severity.
type Pattern struct {
	ID          string
	Name        string
	Regex       *regexp.Regexp
	Severity    string
	Description string
}

// Patterns compiled once at package init, evaluated in order per line.
var patterns = []Pattern{
	{
		ID:          "hardcoded_secret",
		Name:        "Hardcoded Secret/Key",
		Regex:       regexp.MustCompile(`(?i)(api_key|secret_key|access_token|password|passwd|pwd)\s*=\s*['"][a-zA-Z0-9_\-]{10,}['"]`),
		Severity:    models.SeverityCritical,
		Description: "Potential hardcoded secret found. Store secrets in environment variables.",
	},
	{
		ID:          "sql_injection",
		Name:        "Potential SQL Injection",
		Regex:       regexp.MustCompile(`(?i)(execute|cursor\.execute)\s*\(\s*['"].*%s.*['"]\s*%`),
		Severity:    models.SeverityHigh,
		Description: "Potential SQL injection using string formatting. Use parameterized queries.",
	},
	{
		ID:          "eval_usage",
		Name:        "Dangerous eval() usage",
		Regex:       regexp.MustCompile(`(?i)\beval\s*\(`),
		Severity:    models.SeverityHigh,
		Description: "Usage of eval() is dangerous and can lead to RCE.",
	},
	{
		ID:          "debug_enabled",
		Name:        "Debug Mode Enabled",
		Regex:       regexp.MustCompile(`(?i)debug\s*=\s*true`),
		Severity:    models.SeverityMedium,
		Description: "Debug mode enabled in code. Ensure this is disabled in production.",
	},
	{
		ID:          "hardcoded_ip",
		Name:        "Hardcoded IP Address",
		Regex:       regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
		Severity:    models.SeverityLow,
		Description: "Hardcoded IP address found. Use configuration or DNS.",
	},
}

// skippedExtensions are binary and asset files the scanner never reads.
var skippedExtensions = map[string]bool{
	".pyc":   true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".gif":   true,
	".ico":   true,
	".css":   true,
	".pdf":   true,
	".zip":   true,
	".gz":    true,
	".so":    true,
	".exe":   true,
	".woff":  true,
	".woff2": true,
}
