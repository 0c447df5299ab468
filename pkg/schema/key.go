package schema

import (
	"fmt"
	"strings"
)

// AutomationKey is the stable identifier linking a logical test to a
// remote case across runs. It is derived purely from the local record
// and never regenerated from remote data.
type AutomationKey string

// keySeparator joins the feature and scenario parts of a key. Scenario
// names may contain dots, so a dedicated separator avoids aliasing.
const keySeparator = "::"

// DeriveKey maps (feature, scenario, example row) to an AutomationKey.
// Both name parts are normalized (trimmed, lowercased, internal
// whitespace collapsed) so cosmetic edits to scenario text do not
// create duplicate remote cases. The example index, when present, is
// appended to keep each parametrized row distinct.
func DeriveKey(featureName, scenarioName string, exampleIndex *int) AutomationKey {
	key := normalizeName(featureName) + keySeparator + normalizeName(scenarioName)

	if exampleIndex != nil {
		key = fmt.Sprintf("%s#%d", key, *exampleIndex)
	}

	return AutomationKey(key)
}

// normalizeName trims, lowercases, and collapses runs of whitespace to
// a single space.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
