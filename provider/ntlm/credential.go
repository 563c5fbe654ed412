// SPDX-License-Identifier: Apache-2.0

package ntlm

import (
	"errors"

	"github.com/Azure/go-ntlmssp"
)

// Config holds the inputs to NewCredential.
type Config struct {
	// Username is DOMAIN\user, a UPN (user@domain) or a bare user name
	Username    string
	Password    string
	Workstation string
}

// Credential is a user name and password.
type Credential struct {
	principal    string
	user         string
	domain       string
	domainNeeded bool
	password     string
	workstation  string
}

// NewCredential splits the domain from cfg.Username.  Anonymous NTLM is not
// supported so both the user name and the password must be set.
func NewCredential(cfg Config) (*Credential, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("ntlm: user name and password are required")
	}

	user, domain, domainNeeded := ntlmssp.GetDomain(cfg.Username)

	return &Credential{
		principal:    cfg.Username,
		user:         user,
		domain:       domain,
		domainNeeded: domainNeeded,
		password:     cfg.Password,
		workstation:  cfg.Workstation,
	}, nil
}

func (c *Credential) Package() string {
	return Name
}

func (c *Credential) Principal() string {
	return c.principal
}
