// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/golang-auth/go-sspi"
	"github.com/golang-auth/go-sspi/provider/krb5"
	"github.com/golang-auth/go-sspi/provider/memory"
	"github.com/golang-auth/go-sspi/provider/ntlm"
	"github.com/golang-auth/go-sspi/provider/winsspi"
)

// passwordReader reads a password for the prompt
type passwordReader func(prompt string) (string, error)

// terminalPassword prompts on stderr and reads without echo from a
// terminal, or reads one line from piped input
func terminalPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		passBytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(passBytes), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// needsPassword reports whether the provider cannot authenticate without a password
func (o *Options) needsPassword() bool {
	if o.Password != "" {
		return false
	}

	switch o.Provider {
	case memory.Name, ntlm.Name:
		return true
	case krb5.Name:
		return o.Principal != "" && o.Keytab == "" && o.CCache == ""
	case winsspi.Name:
		return o.Principal != ""
	}

	return false
}

// credential acquires the client credential for the configured provider.
// The returned function releases it.
func (o *Options) credential(readPassword passwordReader) (sspi.Credential, func(), error) {
	if o.needsPassword() {
		password, err := readPassword(fmt.Sprintf("Password for %s: ", o.Principal))
		if err != nil {
			return nil, nil, err
		}
		o.Password = password
	}

	noop := func() {}

	switch o.Provider {
	case memory.Name:
		cred, err := memory.NewCredential(o.Principal, o.Password)
		return cred, noop, err

	case krb5.Name:
		cred, err := krb5.NewCredential(krb5.Config{
			Krb5ConfPath: o.Krb5Conf,
			KeytabPath:   o.Keytab,
			CCachePath:   o.CCache,
			Principal:    o.Principal,
			Password:     o.Password,
		})
		if err != nil {
			return nil, nil, err
		}
		return cred, cred.Release, nil

	case ntlm.Name:
		cred, err := ntlm.NewCredential(ntlm.Config{
			Username:    o.Principal,
			Password:    o.Password,
			Workstation: o.Workstation,
		})
		return cred, noop, err

	case winsspi.Name:
		cred, err := winsspi.NewCredential(winsspi.Config{
			Package:  o.Package,
			Username: o.Principal,
			Domain:   o.Domain,
			Password: o.Password,
		})
		if err != nil {
			return nil, nil, err
		}
		return cred, func() { _ = cred.Release() }, nil
	}

	return nil, nil, fmt.Errorf("%w: %q", sspi.ErrProviderNotFound, o.Provider)
}
