package strategist

import "embed"

// EmailFS holds the email templates, one directory per template with an
// html.tmpl and a plaintext.tmpl.
//
//go:embed templates/emails
var EmailFS embed.FS

// DefaultAgentCatalog is used when AGENT_CATALOG is not set.
//
//go:embed agents.yaml
var DefaultAgentCatalog []byte
