package ingress

import (
	"fmt"
	"strings"
)

// RuleParams feeds the server block template for one subdomain.
type RuleParams struct {
	Subdomain    string
	BaseDomain   string
	UpstreamHost string
	UpstreamPort int
	TLSCertPath  string
	TLSKeyPath   string
}

func (p RuleParams) host() string {
	return p.Subdomain + "." + p.BaseDomain
}

// renderRule emits the nginx server blocks for a project: a plain-HTTP
// redirect to HTTPS and a TLS terminator proxying to the loopback upstream.
func renderRule(p RuleParams) string {
	host := p.host()
	var b strings.Builder
	fmt.Fprintf(&b, "server {\n")
	fmt.Fprintf(&b, "    listen 80;\n")
	fmt.Fprintf(&b, "    server_name %s;\n", host)
	fmt.Fprintf(&b, "    return 301 https://$host$request_uri;\n")
	fmt.Fprintf(&b, "}\n\n")
	fmt.Fprintf(&b, "server {\n")
	fmt.Fprintf(&b, "    listen 443 ssl;\n")
	fmt.Fprintf(&b, "    server_name %s;\n\n", host)
	fmt.Fprintf(&b, "    ssl_certificate %s;\n", p.TLSCertPath)
	fmt.Fprintf(&b, "    ssl_certificate_key %s;\n\n", p.TLSKeyPath)
	fmt.Fprintf(&b, "    location / {\n")
	fmt.Fprintf(&b, "        proxy_pass http://%s:%d;\n", p.UpstreamHost, p.UpstreamPort)
	fmt.Fprintf(&b, "        proxy_http_version 1.1;\n")
	fmt.Fprintf(&b, "        proxy_set_header Host $host;\n")
	fmt.Fprintf(&b, "        proxy_set_header X-Real-IP $remote_addr;\n")
	fmt.Fprintf(&b, "        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	fmt.Fprintf(&b, "        proxy_set_header X-Forwarded-Proto $scheme;\n")
	fmt.Fprintf(&b, "        proxy_set_header Upgrade $http_upgrade;\n")
	fmt.Fprintf(&b, "        proxy_set_header Connection \"upgrade\";\n")
	fmt.Fprintf(&b, "    }\n")
	fmt.Fprintf(&b, "}\n")
	return b.String()
}

func ruleFileName(subdomain string) string {
	return subdomain + ".conf"
}
