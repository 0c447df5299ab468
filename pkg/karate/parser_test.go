package karate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaops/railsync/pkg/schema"
)

const singleFeatureJSON = `[
  {
    "name": "Users API",
    "elements": [
      {
        "type": "scenario",
        "name": "Get user by id",
        "tags": [{"name": "@smoke"}, {"name": "@Users"}, {"name": "@smoke"}],
        "steps": [
          {"keyword": "Given ", "name": "url baseUrl", "result": {"status": "passed", "duration": 1000000}},
          {"keyword": "When ", "name": "method get", "result": {"status": "passed", "duration": 250000000}},
          {"keyword": "Then ", "name": "status 200", "result": {"status": "passed", "duration": 500000}}
        ]
      },
      {
        "type": "background",
        "name": "",
        "steps": [
          {"keyword": "Given ", "name": "configure headers", "result": {"status": "passed", "duration": 100}}
        ]
      },
      {
        "type": "scenario",
        "name": "Delete missing user",
        "tags": [{"name": "@regression"}],
        "steps": [
          {"keyword": "When ", "name": "method delete", "result": {"status": "passed", "duration": 80000000}},
          {"keyword": "Then ", "name": "status 404", "result": {"status": "failed", "duration": 1000000, "error_message": "status code was: 500, expected: 404"}},
          {"keyword": "And ", "name": "match response.error == 'not found'", "result": {"status": "skipped", "duration": 0}}
        ]
      }
    ]
  }
]`

const outlineJSON = `[
  {
    "name": "Posts API",
    "elements": [
      {
        "type": "scenario",
        "name": "Create post",
        "tags": [{"name": "@posts"}],
        "steps": [
          {"keyword": "When ", "name": "method post", "result": {"status": "passed", "duration": 10000000}}
        ]
      },
      {
        "type": "scenario",
        "name": "Create post",
        "tags": [{"name": "@posts"}, {"name": "@boundary"}],
        "steps": [
          {"keyword": "When ", "name": "method post", "result": {"status": "passed", "duration": 12000000}}
        ]
      },
      {
        "type": "scenario",
        "name": "Create post",
        "tags": [{"name": "@posts"}],
        "steps": [
          {"keyword": "When ", "name": "method post", "result": {"status": "passed", "duration": 9000000}}
        ]
      },
      {
        "type": "scenario",
        "name": "List posts",
        "steps": [
          {"keyword": "When ", "name": "method get", "result": {"status": "passed", "duration": 5000000}}
        ]
      }
    ]
  }
]`

func TestParse_SingleFeature(t *testing.T) {
	records, err := Parse([]byte(singleFeatureJSON))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "Users API", first.FeatureName)
	assert.Equal(t, "Get user by id", first.ScenarioName)
	assert.Nil(t, first.ExampleIndex)
	assert.Equal(t, schema.StatusPassed, first.Status)
	assert.Empty(t, first.ErrorMessage)
	assert.InDelta(t, 251.5, first.DurationMS, 0.001)
	// Tags are deduplicated, lowercased, and stripped of the "@" prefix.
	assert.Equal(t, []string{"smoke", "users"}, first.Tags)
	require.Len(t, first.Steps, 3)
	assert.Equal(t, "Given", first.Steps[0].Keyword)

	second := records[1]
	assert.Equal(t, schema.StatusFailed, second.Status)
	assert.Equal(t, "status code was: 500, expected: 404", second.ErrorMessage)
	// The skipped step after the failure does not override the message.
	assert.Equal(t, schema.StatusFailed, second.Steps[2].Status)
}

func TestParse_OutlineRowsGetExampleIndexes(t *testing.T) {
	records, err := Parse([]byte(outlineJSON))
	require.NoError(t, err)
	require.Len(t, records, 4)

	keys := make(map[schema.AutomationKey]struct{})

	for i := 0; i < 3; i++ {
		require.NotNil(t, records[i].ExampleIndex, "row %d should be indexed", i)
		assert.Equal(t, i, *records[i].ExampleIndex)
		keys[records[i].Key()] = struct{}{}
	}

	assert.Len(t, keys, 3, "each example row derives a distinct key")

	// The non-parametrized scenario stays unindexed.
	assert.Nil(t, records[3].ExampleIndex)
}

func TestParse_RecordCountMatchesScenarios(t *testing.T) {
	// 2 plain scenarios + 3 outline rows + 1 plain scenario = 6 records.
	combined := `[` + singleFeatureJSON[1:len(singleFeatureJSON)-1] + `,` +
		outlineJSON[1:len(outlineJSON)-1] + `]`

	records, err := Parse([]byte(combined))
	require.NoError(t, err)
	assert.Len(t, records, 6)
}

func TestParse_TopLevelShapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		count int
	}{
		{
			name:  "wrapper object with features key",
			input: `{"features": ` + outlineJSON + `}`,
			count: 4,
		},
		{
			name: "single feature object",
			input: `{"name": "Ping", "elements": [
				{"type": "scenario", "name": "ping", "steps": [
					{"keyword": "When ", "name": "method get", "result": {"status": "passed", "duration": 100}}
				]}
			]}`,
			count: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := Parse([]byte(tt.input))
			require.NoError(t, err)
			assert.Len(t, records, tt.count)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{
			name:   "not json",
			input:  `{{{`,
			reason: "not valid JSON",
		},
		{
			name:   "unrecognized structure",
			input:  `{"something": "else"}`,
			reason: "unrecognized document structure",
		},
		{
			name:   "missing feature name",
			input:  `[{"elements": [{"type": "scenario", "name": "x", "steps": []}]}]`,
			reason: "missing feature name",
		},
		{
			name:   "missing scenario name",
			input:  `[{"name": "F", "elements": [{"type": "scenario", "steps": []}]}]`,
			reason: "scenario element missing name",
		},
		{
			name:   "step without result",
			input:  `[{"name": "F", "elements": [{"type": "scenario", "name": "s", "steps": [{"keyword": "When ", "name": "method get"}]}]}]`,
			reason: "has no result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.Nil(t, records, "partial results must not be returned")

			var malformed *MalformedResultError
			require.ErrorAs(t, err, &malformed)
			assert.Contains(t, malformed.Error(), tt.reason)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "karate.json")
	require.NoError(t, os.WriteFile(path, []byte(singleFeatureJSON), 0o644))

	records, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
