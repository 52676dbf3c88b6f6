package tools

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

const dnsLookupTimeout = 5 * time.Second

// NewDNSLookupTool creates the dns_lookup tool. No mutex key: independent
// read-only queries are freely parallel.
func NewDNSLookupTool() *Tool {
	return &Tool{
		Name:        "dns_lookup",
		DisplayName: "DNS Lookup",
		Description: "Resolve DNS records for a name. Supported record types: A, MX, TXT, NS, CNAME.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Hostname or domain to resolve",
				},
				"record_type": map[string]interface{}{
					"type":        "string",
					"description": "Record type: A, MX, TXT, NS or CNAME. Defaults to A.",
					"default":     "A",
				},
			},
			"required": []string{"name"},
		},
		Execute: executeDNSLookup,
	}
}

func executeDNSLookup(ctx context.Context, req Request) (string, error) {
	name, ok := req.Args["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("name argument is required")
	}
	name = strings.TrimSpace(name)

	recordType := "A"
	if rt, ok := req.Args["record_type"].(string); ok && rt != "" {
		recordType = strings.ToUpper(strings.TrimSpace(rt))
	}

	ctx, cancel := context.WithTimeout(ctx, dnsLookupTimeout)
	defer cancel()

	var resolver net.Resolver
	var records []string

	switch recordType {
	case "A":
		addrs, err := resolver.LookupHost(ctx, name)
		if err != nil {
			return "", fmt.Errorf("lookup failed: %w", err)
		}
		records = addrs
	case "MX":
		mxs, err := resolver.LookupMX(ctx, name)
		if err != nil {
			return "", fmt.Errorf("lookup failed: %w", err)
		}
		for _, mx := range mxs {
			records = append(records, fmt.Sprintf("%s (pref %d)", mx.Host, mx.Pref))
		}
	case "TXT":
		txts, err := resolver.LookupTXT(ctx, name)
		if err != nil {
			return "", fmt.Errorf("lookup failed: %w", err)
		}
		records = txts
	case "NS":
		nss, err := resolver.LookupNS(ctx, name)
		if err != nil {
			return "", fmt.Errorf("lookup failed: %w", err)
		}
		for _, ns := range nss {
			records = append(records, ns.Host)
		}
	case "CNAME":
		cname, err := resolver.LookupCNAME(ctx, name)
		if err != nil {
			return "", fmt.Errorf("lookup failed: %w", err)
		}
		records = []string{cname}
	default:
		return "", fmt.Errorf("unsupported record type %q", recordType)
	}

	if len(records) == 0 {
		return fmt.Sprintf("No %s records for %s", recordType, name), nil
	}
	return fmt.Sprintf("%s records for %s:\n- %s", recordType, name, strings.Join(records, "\n- ")), nil
}
