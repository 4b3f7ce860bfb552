package masking

import "regexp"

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns is the fixed sweep applied to every tool result: the
// common shapes of credentials a remediation tool's stdout/JSON might
// echo back (cloud access keys, bearer tokens, generic API keys,
// connection-string passwords). Unlike tarsy's per-MCP-server
// pattern-group configuration, every declared tool gets the same sweep —
// spec.md's tool declarations (config.ToolYAML) carry no per-tool
// masking policy, so there is nothing to key a narrower selection on.
var builtinPatterns = []*CompiledPattern{
	{
		Name:        "aws_access_key",
		Regex:       regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		Replacement: "[MASKED_AWS_ACCESS_KEY]",
	},
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`),
		Replacement: "Bearer [MASKED_TOKEN]",
	},
	{
		Name:        "generic_api_key",
		Regex:       regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|secret|token)\b\s*[:=]\s*['"]?[A-Za-z0-9\-._~+/]{12,}['"]?`),
		Replacement: "$1=[MASKED]",
	},
	{
		Name:        "connection_string_password",
		Regex:       regexp.MustCompile(`(?i)(password|pwd)=([^;&\s]+)`),
		Replacement: "$1=[MASKED]",
	},
	{
		Name:        "private_key_block",
		Regex:       regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
		Replacement: "[MASKED_PRIVATE_KEY]",
	},
}
