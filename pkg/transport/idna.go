package transport

import "golang.org/x/net/idna"

// IDNAHostEncoder converts internationalized hostnames to their ASCII
// (punycode) form via golang.org/x/net/idna, satisfying the
// encode_hostname collaborator from spec §6. ASCII hosts pass through
// unchanged.
type IDNAHostEncoder struct{}

// Encode implements HostEncoder.
func (IDNAHostEncoder) Encode(host string) (string, error) {
	return idna.Lookup.ToASCII(host)
}

// IdentityHostEncoder returns the host unchanged; useful for tests and for
// the punycode-off feature toggle from spec §6.
type IdentityHostEncoder struct{}

// Encode implements HostEncoder.
func (IdentityHostEncoder) Encode(host string) (string, error) {
	return host, nil
}
