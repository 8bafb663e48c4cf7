package rule

import (
	"os"
	"regexp"
)

var envReference = regexp.MustCompile(`\$\{env\.([A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${env.NAME} references with environment values so
// thresholds and roles can differ per deployment. Unset variables expand to
// an empty string; malformed references are left as is.
func expandEnv(data []byte) []byte {
	return envReference.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envReference.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}
