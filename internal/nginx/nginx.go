// Package nginx builds reverse-proxy configuration documents and writes
// them in nginx's config syntax.
package nginx

import (
	"fmt"
	"strconv"

	crossplane "github.com/nginxinc/nginx-go-crossplane"
)

// Location returns the first location block inside the first server block.
func Location(c crossplane.Config) (*crossplane.Directive, bool) {
	for _, server := range c.Parsed {
		if server.Directive != "server" {
			continue
		}
		for _, d := range server.Block {
			if d.Directive == "location" {
				return d, true
			}
		}
	}
	return nil, false
}

// Lookup returns the arguments of the first directive called name inside d's block.
func Lookup(d *crossplane.Directive, name string) ([]string, bool) {
	for _, child := range d.Block {
		if child.Directive == name {
			return child.Args, true
		}
	}
	return nil, false
}

// ProxyPass returns the upstream URL the container is reached at on the instance.
func ProxyPass(port int, endpoint string) string {
	return fmt.Sprintf("http://127.0.0.1:%s/%s", strconv.Itoa(port), endpoint)
}

func directive(name string, args ...string) *crossplane.Directive {
	if args == nil {
		args = []string{}
	}
	return &crossplane.Directive{Directive: name, Args: args}
}

func block(name string, args []string, children ...*crossplane.Directive) *crossplane.Directive {
	d := directive(name, args...)
	d.Block = crossplane.Directives(children)
	return d
}

// Build returns a document with one server block on port 80 (IPv4 and
// IPv6) answering for subdomains, and one location /<endpoint> proxied to
// the local port. The forwarded-header directives keep their $variables
// literal so nginx expands them at request time.
func Build(file string, subdomains []string, endpoint string, port int) crossplane.Config {
	location := block("location", []string{"/" + endpoint},
		directive("proxy_pass", ProxyPass(port, endpoint)),
		directive("proxy_set_header", "Host", "$host"),
		directive("proxy_set_header", "X-Real-IP", "$remote_addr"),
		directive("proxy_set_header", "X-Forwarded-For", "$proxy_add_x_forwarded_for"),
		directive("proxy_set_header", "X-Forwarded-Proto", "$scheme"),
	)

	server := block("server", nil,
		directive("listen", "80"),
		directive("listen", "[::]:80"),
		directive("server_name", append([]string(nil), subdomains...)...),
		location,
	)

	return crossplane.Config{
		File:   file,
		Parsed: crossplane.Directives{server},
	}
}
