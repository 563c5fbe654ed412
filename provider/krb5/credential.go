// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Config selects the Kerberos configuration and the source of the client
// credentials.  The first of KeytabPath, CCachePath and Password that is set
// is used;  with none set the credentials cache named by KRB5CCNAME is used.
type Config struct {
	// Krb5ConfPath is the path to krb5.conf, defaulting to $KRB5_CONFIG or /etc/krb5.conf
	Krb5ConfPath string

	// KeytabPath is a client keytab.  Principal is required.
	KeytabPath string

	// CCachePath is a credentials cache file
	CCachePath string

	// Principal is the client principal, as user@REALM.  Required with a
	// keytab or a password.
	Principal string

	// Password authenticates Principal to the KDC
	Password string

	// DisableFAST turns off RFC 6113 armoring for KDCs that do not support it
	DisableFAST bool
}

// ticketSource obtains service tickets;  *client.Client is the only
// implementation outside of tests
type ticketSource interface {
	GetServiceTicket(spn string) (messages.Ticket, types.EncryptionKey, error)
}

// Credential holds a Kerberos client logged in to its realm.
type Credential struct {
	cname    types.PrincipalName
	realm    string
	tickets  ticketSource
	client   *client.Client
	lifetime time.Duration
}

// NewCredential loads the Kerberos configuration and client credentials
// and checks that a TGT can be obtained.
func NewCredential(cfg Config) (*Credential, error) {
	if cfg.Krb5ConfPath == "" {
		cfg.Krb5ConfPath = krbConfFile()
	}

	conf, err := config.Load(cfg.Krb5ConfPath)
	if err != nil {
		return nil, fmt.Errorf("krb5: loading krb5.conf: %w", err)
	}

	opts := []func(*client.Settings){
		client.DisablePAFXFAST(cfg.DisableFAST),
	}

	var cl *client.Client

	switch {
	case cfg.KeytabPath != "":
		user, realm, err := splitPrincipal(cfg.Principal)
		if err != nil {
			return nil, err
		}
		kt, err := keytab.Load(cfg.KeytabPath)
		if err != nil {
			return nil, fmt.Errorf("krb5: loading keytab: %w", err)
		}
		cl = client.NewWithKeytab(user, realm, kt, conf, opts...)
	case cfg.Password != "":
		user, realm, err := splitPrincipal(cfg.Principal)
		if err != nil {
			return nil, err
		}
		cl = client.NewWithPassword(user, realm, cfg.Password, conf, opts...)
	default:
		ccPath := cfg.CCachePath
		if ccPath == "" {
			ccPath = krbCCFile()
		}
		ccache, err := credentials.LoadCCache(ccPath)
		if err != nil {
			return nil, fmt.Errorf("krb5: loading credentials cache: %w", err)
		}
		cl, err = client.NewFromCCache(ccache, conf, opts...)
		if err != nil {
			return nil, fmt.Errorf("krb5: creating krb5 client: %w", err)
		}
	}

	if err := cl.AffirmLogin(); err != nil {
		return nil, fmt.Errorf("krb5: checking TGT: %w", err)
	}

	return &Credential{
		cname:    cl.Credentials.CName(),
		realm:    cl.Credentials.Domain(),
		tickets:  cl,
		client:   cl,
		lifetime: conf.LibDefaults.TicketLifetime,
	}, nil
}

func (c *Credential) Package() string {
	return Name
}

func (c *Credential) Principal() string {
	return c.cname.PrincipalNameString() + "@" + c.realm
}

// Release destroys the client and its cached tickets
func (c *Credential) Release() {
	if c.client != nil {
		c.client.Destroy()
	}
}

func splitPrincipal(principal string) (user, realm string, err error) {
	user, realm, ok := strings.Cut(principal, "@")
	if !ok || user == "" || realm == "" {
		return "", "", fmt.Errorf("krb5: invalid principal '%s', should be formatted as user@REALM", principal)
	}

	return user, realm, nil
}

var errNoCredentials = errors.New("krb5: credential was not issued by this package")

func krbConfFile() string {
	cfgFile, ok := os.LookupEnv("KRB5_CONFIG")
	if !ok {
		cfgFile = "/etc/krb5.conf"
	}

	return cfgFile
}

func krbCCFile() string {
	ccFile, ok := os.LookupEnv("KRB5CCNAME")
	if !ok {
		ccFile = fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
	}

	return strings.TrimPrefix(ccFile, "FILE:")
}
