package ingress

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/bffless/bffless/internal/domain"
)

// RenderInput is everything needed to render one domain's virtual host.
type RenderInput struct {
	Host           string
	SSLEnabled     bool
	CertPath       string
	KeyPath        string
	WWWBehavior    string
	RedirectTarget string
	UpstreamURL    string
	AliasName      string
	PathRedirects  []domain.PathRedirect
	ProxyRules     []domain.ProxyRule
}

const vhostTemplate = `# managed by bffless; regenerated on routing changes
server {
{{- if .SSLEnabled }}
    listen 443 ssl;
    listen [::]:443 ssl;
    ssl_certificate {{ .CertPath }};
    ssl_certificate_key {{ .KeyPath }};
{{- else }}
    listen 80;
    listen [::]:80;
{{- end }}
    server_name {{ .Host }};
{{- if .RedirectTarget }}

    location / {
        return 301 {{ .RedirectTarget }};
    }
{{- else }}
{{- if eq .WWWBehavior "redirect_to_www" }}

    if ($host !~* ^www\.) {
        return 301 $scheme://www.{{ .Host }}$request_uri;
    }
{{- end }}
{{- if eq .WWWBehavior "redirect_to_apex" }}

    if ($host ~* ^www\.(?<apex>.+)$) {
        return 301 $scheme://$apex$request_uri;
    }
{{- end }}
{{- range .PathRedirects }}

    location = {{ .FromPath }} {
        return {{ .StatusCode }} {{ .ToPath }};
    }
{{- end }}
{{- range .ProxyRules }}

    location {{ .PathPattern }} {
{{- if eq .AuthTransform.Type "header" }}
        proxy_set_header {{ .AuthTransform.HeaderName }} "{{ .AuthTransform.HeaderValue }}";
{{- end }}
{{- if eq .AuthTransform.Type "basic" }}
        proxy_set_header Authorization "Basic {{ .AuthTransform.HeaderValue }}";
{{- end }}
{{- if eq .AuthTransform.Type "strip" }}
        proxy_set_header Authorization "";
        proxy_set_header Cookie "";
{{- end }}
        proxy_set_header Host $host;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_pass {{ .TargetURL }};
    }
{{- end }}

    location / {
        proxy_set_header Host $host;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_pass {{ .UpstreamURL }}/public/subdomain-alias/{{ .AliasName }}$request_uri;
    }
{{- end }}
}
`

var vhostTmpl = template.Must(template.New("vhost").Parse(vhostTemplate))

// GenerateConfig renders the nginx virtual-host block for one domain. Only
// proxy rules carrying an auth transform become edge location blocks; the
// rest are handled by the serving pipeline.
func GenerateConfig(in RenderInput) (string, error) {
	if strings.TrimSpace(in.Host) == "" {
		return "", fmt.Errorf("host required")
	}

	rules := make([]domain.ProxyRule, 0, len(in.ProxyRules))
	for _, rule := range in.ProxyRules {
		if rule.AuthTransform != nil {
			rules = append(rules, rule)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Position < rules[j].Position })
	in.ProxyRules = rules

	redirects := append([]domain.PathRedirect(nil), in.PathRedirects...)
	sort.SliceStable(redirects, func(i, j int) bool { return redirects[i].Priority < redirects[j].Priority })
	in.PathRedirects = redirects

	var b strings.Builder
	if err := vhostTmpl.Execute(&b, in); err != nil {
		return "", fmt.Errorf("render vhost for %s: %w", in.Host, err)
	}
	return b.String(), nil
}
