package classifier

// BuiltinPatterns returns the fixed detector catalog: personal data, secret
// credentials, and tokens. Extended beyond the spec's minimum set (email,
// phone, SSN, credit card, API key prefixes, generic token) with AWS secret
// keys, GCP/Azure key shapes, PEM private key headers, and database
// connection strings carrying a password — patterns harvested from a
// static-analysis secret scanner in the same pack and re-tagged onto the
// hierarchical tag set used here.
func BuiltinPatterns() []Pattern {
	return []Pattern{
		{Name: "email", Tag: "personal.pii", Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
		{Name: "phone", Tag: "personal.pii", Pattern: `\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`},
		{Name: "ssn", Tag: "personal.pii", Pattern: `\b\d{3}-\d{2}-\d{4}\b`},
		{Name: "credit_card", Tag: "personal.financial", Pattern: `\b(?:\d[ -]*?){13,19}\b`},

		{Name: "openai_key", Tag: "secret.credential", Pattern: `\bsk-[A-Za-z0-9]{20,}\b`},
		{Name: "aws_access_key", Tag: "secret.credential", Pattern: `\bAKIA[0-9A-Z]{16}\b`},
		{Name: "aws_secret_key", Tag: "secret.credential", Pattern: `(?:aws[_-]?secret[_-]?access[_-]?key)\s*[:=]\s*["']?[A-Za-z0-9/+]{40}["']?`},
		{Name: "gcp_api_key", Tag: "secret.credential", Pattern: `(?:gcp|google|gcloud)[_-]?(?:api[_-]?key|key)\s*[:=]\s*["']?[A-Za-z0-9_-]{20,}["']?`},
		{Name: "azure_account_key", Tag: "secret.credential", Pattern: `(?:account[_-]?key)\s*[:=]\s*["']?[A-Za-z0-9/+]{40,}["']?`},
		{Name: "private_key_block", Tag: "secret.credential", Pattern: `-----BEGIN\s+(?:RSA\s+)?PRIVATE\s+KEY-----`},
		{Name: "db_connection_password", Tag: "secret.credential", Pattern: `(?:connection[_-]?string|conn[_-]?string)\s*[:=]\s*["'][^"']*(?:password|pwd)=[^;&\s"']+[^"']*["']`},
		{Name: "generic_token", Tag: "secret.token", Pattern: `\b(?:token|api[_-]?key|secret)\s*[:=]\s*[A-Za-z0-9_\-]{12,}\b`},
	}
}
