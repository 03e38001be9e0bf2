package commands

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var emailCheck = validator.New()

// Domains that never receive mail from the public internet.
var specialUseTLDs = map[string]bool{
	"arpa": true, "invalid": true, "local": true, "localhost": true, "onion": true, "test": true,
}

// deliverableEmail reports whether raw is a bare address whose domain could
// receive an invite: a syntactically valid address with a dotted public host.
func deliverableEmail(raw string) bool {
	if emailCheck.Var(raw, "required,email") != nil {
		return false
	}
	at := strings.LastIndexByte(raw, '@')
	host := strings.ToLower(raw[at+1:])
	if emailCheck.Var(host, "fqdn") != nil {
		return false
	}
	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	for _, l := range labels {
		if l == "" || strings.HasPrefix(l, "-") || strings.HasSuffix(l, "-") {
			return false
		}
	}
	return !specialUseTLDs[labels[len(labels)-1]]
}
