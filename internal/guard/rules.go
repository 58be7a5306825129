package guard

import "regexp"

func builtinRules() []Rule {
	return []Rule{
		{Name: "private_key", Pattern: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY(?: BLOCK)?-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY(?: BLOCK)?-----`)},
		{Name: "aws_access_key_id", Pattern: regexp.MustCompile(`(?:^|[^A-Z0-9])((?:A3T[A-Z0-9]|AKIA|ABIA|ACCA|AGPA|AIDA|AIPA|ANPA|ANVA|APKA|AROA|ASCA|ASIA)[A-Z0-9]{16})(?:[^A-Z0-9]|$)`)},
		{Name: "aws_secret_key", Pattern: regexp.MustCompile(`(?i)aws[_-]?secret[_-]?(?:access[_-]?)?key['":\s=]+['"]?([A-Za-z0-9/+=]{40})`)},
		{Name: "github_token", Pattern: regexp.MustCompile(`(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9]{22}_[A-Za-z0-9]{59}`)},
		{Name: "slack_token", Pattern: regexp.MustCompile(`xox[bpas]-[0-9A-Za-z-]{10,}|xapp-[0-9]+-[A-Z0-9]+-[0-9]+-[A-Za-z0-9]+`)},
		{Name: "slack_webhook", Pattern: regexp.MustCompile(`https://hooks\.slack\.com/services/T[A-Z0-9]{8,}/B[A-Z0-9]{8,}/[A-Za-z0-9]{24}`)},
		{Name: "stripe_key", Pattern: regexp.MustCompile(`(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{24,}`)},
		{Name: "google_api_key", Pattern: regexp.MustCompile(`AIza[A-Za-z0-9_-]{35}`)},
		{Name: "jwt", Pattern: regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`)},
		{Name: "bearer_token", Pattern: regexp.MustCompile(`(?i)bearer\s+([A-Za-z0-9._~+/-]{20,}=*)`)},
		{Name: "password_in_url", Pattern: regexp.MustCompile(`://[^:/\s]+:([^@/\s]{3,})@[^/\s]+`)},
		{
			Name:       "generic_secret",
			Pattern:    regexp.MustCompile(`(?i)(?:api[_-]?key|secret|password|passwd|pwd|token)['"]?\s*[:=]\s*['"]?([A-Za-z0-9!@#$%^&*()_+\-=/.]{8,64})`),
			MinEntropy: 3.0,
		},
	}
}
