package secretmgr

import (
	"fmt"
	"os"
)

// EnvBackend resolves secrets from process environment variables. It is
// always preinstalled under the name "env".
type EnvBackend struct{}

// Get returns os.LookupEnv(key), wrapped as ErrSecretNotFound when unset.
func (EnvBackend) Get(key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}
