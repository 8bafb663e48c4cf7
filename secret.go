package approver

import (
	"context"
	"fmt"
	"strings"

	"github.com/viant/scy"
	"github.com/viant/scy/cred"
)

// resolveDSN expands ${Username} and ${Password} in the configured DSN with
// a basic credential decrypted from SecretURL. A plain text secret replaces
// the DSN entirely.
func resolveDSN(ctx context.Context, config *StoreConfig) (string, error) {
	if config.SecretURL == "" {
		return config.DSN, nil
	}
	target, err := cred.TargetType("basic")
	if err != nil {
		return "", err
	}
	resource := scy.NewResource(target, config.SecretURL, config.SecretKey)
	secret, err := scy.New().Load(ctx, resource)
	if err != nil {
		return "", fmt.Errorf("failed to load secret %v: %w", config.SecretURL, err)
	}
	if basic, ok := secret.Target.(*cred.Basic); ok && config.DSN != "" {
		return strings.NewReplacer("${Username}", basic.Username, "${Password}", basic.Password).Replace(config.DSN), nil
	}
	return strings.TrimSpace(secret.String()), nil
}
