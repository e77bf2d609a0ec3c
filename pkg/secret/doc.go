// Package secret turns tagged vault entries into Kubernetes Secrets.
//
// This package is the transformation and reconciliation engine of
// keyvault2kube. It knows nothing about vault SDKs or the Kubernetes API
// server: sources hand it VaultEntry values, and the sync loop hands its
// decisions to a cluster client.
//
// # Pipeline
//
//	VaultEntry ──Build──► Record ──Merge──► Record per target
//	                                         │
//	                       ExpandNamespaces ─┤
//	                                         ▼
//	                 Plan(record, namespace, current) ──► Decision
//	                                         │
//	                                      Render ──► *corev1.Secret
//
// # Tags
//
// A vault entry takes part in syncing when it carries the k8s_secret_name
// tag. The remaining tags shape the result:
//
//   - k8s_secret_key: data field for a plain (non structured) value
//   - k8s_namespaces: comma separated target namespaces, "*" for all
//   - k8s_type: Secret type, "Opaque" by default
//   - k8s_convert: "dockerconfigjson" or "file:<path>.yaml"
//
// An entry with a content type of application/json or text/x-yaml is
// decoded into one data field per top-level key. Otherwise the value is
// stored under k8s_secret_key.
//
// # Provenance
//
// Every entry adds three annotations to the Secret it contributes to:
// last_updated, version and vault, keyed by the entry name. Plan compares
// only the version annotations, so a Secret is patched when any source
// version moves and left alone otherwise.
//
// # Errors
//
// Failures are scoped. Build errors are *EntryError and affect one entry.
// Merge errors are *MergeError and affect one target secret. Use errors.Is
// with the Err* sentinels to classify them.
//
// Everything in this package is pure apart from the TemplateLoader used by
// file: conversions, and is safe to call from multiple goroutines.
package secret
