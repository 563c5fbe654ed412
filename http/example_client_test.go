// SPDX-License-Identifier: Apache-2.0

package http_test

import (
	"fmt"
	"log"

	"github.com/golang-auth/go-sspi"
	nhttp "github.com/golang-auth/go-sspi/http"
	"github.com/golang-auth/go-sspi/provider/krb5"
)

func ExampleNewClient() {
	p, err := sspi.NewProvider(krb5.Name)
	if err != nil {
		log.Fatalf("Failed to create provider: %v", err)
	}

	// use the default credentials cache
	cred, err := krb5.NewCredential(krb5.Config{})
	if err != nil {
		log.Fatalf("Failed to acquire credentials: %v", err)
	}

	client := nhttp.NewClient(p, cred, nil, nhttp.WithMutual())
	resp, err := client.Get("http://localhost:1234/")
	if err != nil {
		log.Fatalf("Failed to get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	fmt.Println(resp.Status)
}
