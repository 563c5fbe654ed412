// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/spf13/cobra"

	"github.com/golang-auth/go-sspi"
	nhttp "github.com/golang-auth/go-sspi/http"
)

type getFlags struct {
	opportunistic  bool
	mutual         bool
	delegate       bool
	spn            string
	channelBinding string
	expect100      int64
	include        bool
	fail           bool
}

var channelBindingDispositions = map[string]nhttp.ChannelBindingDisposition{
	nhttp.ChannelBindingDispositionIgnore.String():      nhttp.ChannelBindingDispositionIgnore,
	nhttp.ChannelBindingDispositionIfAvailable.String(): nhttp.ChannelBindingDispositionIfAvailable,
	nhttp.ChannelBindingDispositionRequire.String():     nhttp.ChannelBindingDispositionRequire,
}

func newGetCmd() *cobra.Command {
	var gf getFlags

	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Perform an authenticated GET request",
		Long: `Perform a GET request, answering Negotiate challenges with a security
context from the selected provider, and print the response.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(cmd)
			if err != nil {
				return err
			}
			return runGet(cmd, opts, &gf, args[0], terminalPassword)
		},
	}

	cmd.Flags().BoolVar(&gf.opportunistic, "opportunistic", false, "Send the first token without waiting for a challenge")
	cmd.Flags().BoolVar(&gf.mutual, "mutual", false, "Require mutual authentication")
	cmd.Flags().BoolVar(&gf.delegate, "delegate", false, "Require credential delegation")
	cmd.Flags().StringVar(&gf.spn, "spn", "", "Service principal name (default HTTP@host)")
	cmd.Flags().StringVar(&gf.channelBinding, "channel-binding", "if-available", "TLS channel bindings: ignore, if-available or require")
	cmd.Flags().Int64Var(&gf.expect100, "expect100-threshold", 0, "Use Expect: 100-continue for bodies larger than this")
	cmd.Flags().BoolVarP(&gf.include, "include", "i", false, "Print the response headers")
	cmd.Flags().BoolVarP(&gf.fail, "fail", "f", false, "Fail on HTTP status 400 and above")

	return cmd
}

func (gf *getFlags) transportOptions(cmd *cobra.Command, opts *Options) ([]nhttp.ClientOption, error) {
	disposition, ok := channelBindingDispositions[gf.channelBinding]
	if !ok {
		return nil, fmt.Errorf("unknown channel binding disposition %q", gf.channelBinding)
	}

	options := []nhttp.ClientOption{
		nhttp.WithChannelBindingDisposition(disposition),
		nhttp.WithExpect100Threshold(gf.expect100),
	}

	if gf.opportunistic {
		options = append(options, nhttp.WithOpportunistic())
	}
	if gf.mutual {
		options = append(options, nhttp.WithMutual())
	}
	if gf.delegate {
		options = append(options, nhttp.WithDelegationPolicy(nhttp.DelegationPolicyAlways))
	}
	if gf.spn != "" {
		spn := gf.spn
		options = append(options, nhttp.WithSpnFunc(func(url.URL) string { return spn }))
	}

	if logger := opts.logger(cmd.ErrOrStderr()); logger != nil {
		stderr := cmd.ErrOrStderr()
		options = append(options,
			nhttp.WithLogger(logger),
			nhttp.WithHttpLogging(),
			nhttp.WithLogFunc(func(format string, args ...interface{}) {
				fmt.Fprintf(stderr, format+"\n", args...)
			}),
		)
	}

	return options, nil
}

func runGet(cmd *cobra.Command, opts *Options, gf *getFlags, target string, readPassword passwordReader) error {
	if _, err := url.ParseRequestURI(target); err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	prov, err := sspi.NewProvider(opts.Provider)
	if err != nil {
		return err
	}

	cred, release, err := opts.credential(readPassword)
	if err != nil {
		return err
	}
	defer release()

	options, err := gf.transportOptions(cmd, opts)
	if err != nil {
		return err
	}

	client := nhttp.NewClient(prov, cred, nil, options...)

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	out := cmd.OutOrStdout()
	if gf.include {
		fmt.Fprintf(out, "%s %s\n", resp.Proto, resp.Status)
		printHeaders(out, resp.Header)
		fmt.Fprintln(out)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if gf.fail && resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	return nil
}

func printHeaders(w io.Writer, h http.Header) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(w, "%s: %s\n", k, v)
		}
	}
}
