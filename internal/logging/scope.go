package logging

// Scope identifies what an operation is working on. It is a value type:
// the With* methods return modified copies.
type Scope struct {
	Vault     string
	Secret    string
	Namespace string
}

// WithVault returns a copy of the scope for the given vault.
func (s Scope) WithVault(vault string) Scope {
	s.Vault = vault
	return s
}

// WithSecret returns a copy of the scope for the given target secret.
func (s Scope) WithSecret(name string) Scope {
	s.Secret = name
	return s
}

// WithNamespace returns a copy of the scope for the given namespace.
func (s Scope) WithNamespace(namespace string) Scope {
	s.Namespace = namespace
	return s
}

// Fields returns the non-empty identifiers as key/value pairs.
func (s Scope) Fields() []interface{} {
	var fields []interface{}
	if s.Vault != "" {
		fields = append(fields, "vault", s.Vault)
	}
	if s.Secret != "" {
		fields = append(fields, "secret", s.Secret)
	}
	if s.Namespace != "" {
		fields = append(fields, "namespace", s.Namespace)
	}
	return fields
}
