// Package fakes provides test doubles for the vault SDK clients and the
// source interface.
//
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior.
//
// Usage:
//
//	client := fakes.NewFakeAzureKeyVaultClient("https://test-vault.vault.azure.net/")
//	client.AddSecret("db-password", "s3cret", map[string]string{
//	    "k8s_secret_name": "database",
//	    "k8s_secret_key":  "password",
//	})
//	src, _ := vault.NewAzureKeyVaultSource(cfg, logger, vault.WithAzureKeyVaultClient(client))
package fakes
