// SPDX-License-Identifier: Apache-2.0

// Package commands implements the negotiate command line client.
package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
)

// Options is the merged configuration of flags, NEGOTIATE_* environment
// variables and the optional config file, in that order of precedence.
type Options struct {
	Provider    string `mapstructure:"provider"`
	Principal   string `mapstructure:"principal"`
	Password    string `mapstructure:"password"`
	Domain      string `mapstructure:"domain"`
	Workstation string `mapstructure:"workstation"`
	Package     string `mapstructure:"package"`
	Keytab      string `mapstructure:"keytab"`
	CCache      string `mapstructure:"ccache"`
	Krb5Conf    string `mapstructure:"krb5-conf"`
	Verbose     bool   `mapstructure:"verbose"`
}

// NewRootCmd returns the negotiate command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "negotiate",
		Short: "HTTP Negotiate client",
		Long: `negotiate performs HTTP requests authenticated with the Negotiate scheme
using one of the registered security providers.

Every flag can also be set with a NEGOTIATE_ environment variable, for
example NEGOTIATE_PROVIDER=ntlm, or in a YAML config file given with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Config file (YAML)")
	flags.StringP("provider", "p", "kerberos", "Security provider (see 'negotiate providers')")
	flags.StringP("principal", "u", "", "Client principal or user name")
	flags.String("password", "", "Password (prompted for when needed and not set)")
	flags.String("domain", "", "Windows domain of the user (windows provider)")
	flags.String("workstation", "", "Workstation name sent with NTLM")
	flags.String("package", "", "Windows security package: Negotiate, Kerberos or NTLM")
	flags.String("keytab", "", "Kerberos client keytab")
	flags.String("ccache", "", "Kerberos credentials cache")
	flags.String("krb5-conf", "", "Path to krb5.conf")
	flags.BoolP("verbose", "v", false, "Log the HTTP exchange and handshake to stderr")

	root.AddCommand(newGetCmd())
	root.AddCommand(newProvidersCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// Execute runs the command line client
func Execute() error {
	return NewRootCmd().Execute()
}

// loadOptions merges the flags of cmd with the environment and config file
func loadOptions(cmd *cobra.Command) (*Options, error) {
	v := viper.New()
	v.SetEnvPrefix("NEGOTIATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			bindErr = errors.Join(bindErr, err)
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &opts, nil
}

// logger returns a debug logger writing to w when verbose, otherwise nil
func (o *Options) logger(w io.Writer) *slog.Logger {
	if !o.Verbose {
		return nil
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Exit prints err and exits with code 1
func Exit(err error) {
	fmt.Fprintf(os.Stderr, "negotiate: %v\n", err)
	os.Exit(1)
}
