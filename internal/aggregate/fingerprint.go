package aggregate

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
)

// Fingerprint is a content hash of an artifact's code bodies combined with
// the extraction context (vocabulary version and known classes). When it is
// unchanged since the last run, the persisted DependencySet can be reused.
//
// Body hashes are sorted before combining: aggregation does not depend on
// body order, so neither does the fingerprint.
func Fingerprint(bodies []artifact.CodeBody, context string) string {
	hashes := make([]string, 0, len(bodies))
	for _, b := range bodies {
		hashes = append(hashes, hashString(b.Encoding+"\x00"+b.Text))
	}
	sort.Strings(hashes)
	return computeComposite(hashString(context), hashes)
}

// extractionContext identifies everything besides the code that influences
// extraction output.
func extractionContext(vocabVersion string, classes []string) string {
	sorted := append([]string(nil), classes...)
	sort.Strings(sorted)
	return vocabVersion + "\x00" + strings.Join(sorted, ",")
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func computeComposite(head string, parts []string) string {
	all := make([]string, 0, 1+len(parts))
	all = append(all, head)
	all = append(all, parts...)
	return hashString(strings.Join(all, "|"))
}
