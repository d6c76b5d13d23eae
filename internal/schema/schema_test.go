package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-ingest/internal/models"
)

const gatewaySchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"meter_0": {
			"type": "object",
			"properties": {
				"energy": {"type": "number"},
				"power": {"type": "number"}
			}
		},
		"uptime": {"type": "integer"}
	},
	"required": ["meter_0"]
}`

const gatewayRules = `[
	// status of the device itself
	{
		"target": "DEVICE",
		"name": "DAILY_STATUS",
		"least_one_field_list": ["energy", "uptime"],
		"fields": [
			{"target": "energy", "type": "calculated", "source": "meter_0.energy or lastValue__.energy", "multiplier": 0.001},
			{"target": "uptime", "type": "raw", "source": ".uptime"},
		]
	}
]`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadRegistry(t *testing.T) {
	schemaDir := t.TempDir()
	rulesDir := t.TempDir()

	writeFile(t, schemaDir, "iot-gw-v2.json", gatewaySchema)
	writeFile(t, schemaDir, "README.md", "not a schema")
	writeFile(t, rulesDir, "iot-gw-v2.jsonc", gatewayRules)
	writeFile(t, rulesDir, "orphan.json", `[{"target": "X", "fields": []}]`)

	registry, err := LoadRegistry(schemaDir, rulesDir, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"IOT-GW-V2"}, registry.Types())

	s, rules, ok := registry.Lookup("iot-gw-v2")
	require.True(t, ok)
	require.NotNil(t, s)
	require.Len(t, rules, 1)

	rule := rules[0]
	assert.Equal(t, "DAILY_STATUS", rule.Key())
	assert.Equal(t, []string{"energy", "uptime"}, rule.LeastOneFieldList)
	require.Len(t, rule.Fields, 2)
	assert.Equal(t, FieldCalculated, rule.Fields[0].Type)
	assert.Equal(t, 0.001, rule.Fields[0].Multiplier)
	assert.Equal(t, FieldRaw, rule.Fields[1].Type)
	assert.Equal(t, 1.0, rule.Fields[1].Multiplier)
	assert.Equal(t, 0.0, rule.Fields[1].Offset)

	_, _, ok = registry.Lookup("ORPHAN")
	assert.False(t, ok, "rules without schema must not register a type")

	_, _, ok = registry.Lookup("unknown")
	assert.False(t, ok)
}

func TestLoadRegistry_MissingDir(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "nope"), "", nil)
	require.Error(t, err)
}

func TestLoadRegistry_DuplicateDeviceType(t *testing.T) {
	schemaDir := t.TempDir()
	writeFile(t, schemaDir, "meter.json", `{"type": "object"}`)
	writeFile(t, schemaDir, "METER.jsonc", `{"type": "object", "required": ["power"]}`)

	_, err := LoadRegistry(schemaDir, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "METER.jsonc")
	assert.Contains(t, err.Error(), "meter.json")
}

func TestNewRegistry_SchemaWithoutRules(t *testing.T) {
	registry, err := NewRegistry(map[string][]byte{"meter": []byte(`{"type": "object"}`)}, nil, nil)
	require.NoError(t, err)

	s, rules, ok := registry.Lookup("Meter")
	require.True(t, ok)
	assert.NotNil(t, s)
	assert.Empty(t, rules)
}

func TestNewRegistry_BadDocuments(t *testing.T) {
	_, err := NewRegistry(map[string][]byte{"x": []byte(`{"type": 12}`)}, nil, nil)
	require.Error(t, err)

	_, err = NewRegistry(
		map[string][]byte{"x": []byte(`{"type": "object"}`)},
		map[string][]byte{"x": []byte(`[{"target": "T", "fields": [{"target": "a", "type": "eval", "source": "x"}]}]`)},
		nil,
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidRule))
}

func TestParseRules(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    int
		wantErr bool
	}{
		{name: "list", doc: `[{"target": "A", "fields": []}, {"name": "B"}]`, want: 2},
		{name: "single object", doc: `{"target": "A", "fields": [{"target": "x", "type": "raw", "source": "a.b"}]}`, want: 1},
		{name: "comments and trailing commas", doc: "[\n// c\n{\"target\": \"A\",},\n]", want: 1},
		{name: "missing key", doc: `[{"fields": []}]`, wantErr: true},
		{name: "missing field target", doc: `[{"target": "A", "fields": [{"type": "raw"}]}]`, wantErr: true},
		{name: "missing field type", doc: `[{"target": "A", "fields": [{"target": "x"}]}]`, wantErr: true},
		{name: "not json", doc: `target: A`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := ParseRules([]byte(tt.doc))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, rules, tt.want)
		})
	}
}

func TestParseRules_MatchKey(t *testing.T) {
	rules, err := ParseRules([]byte(`[{"target": "METER", "fields": [
		{"target": "power", "type": "raw", "source": "meter_1.power", "sourceMatchKey": "meter_1.typCfg", "sourceMatchKeyValue": "WAC[0,1]", "offset": 2}
	]}]`))
	require.NoError(t, err)

	field := rules[0].Fields[0]
	assert.True(t, field.HasSourceMatch())
	assert.Equal(t, "WAC[0,1]", field.SourceMatchKeyValue)
	assert.Equal(t, 2.0, field.Offset)
	assert.Equal(t, 1.0, field.Multiplier)
}

func TestValidate(t *testing.T) {
	s, err := CompileSchema("iot-gw-v2", []byte(gatewaySchema))
	require.NoError(t, err)
	assert.Equal(t, "IOT-GW-V2", s.Type)

	valid := map[string]any{"meter_0": map[string]any{"energy": 12.5, "power": 300.0}, "uptime": 42.0}
	assert.NoError(t, Validate(s, valid))
	assert.True(t, Valid(s, valid))

	invalid := map[string]any{"meter_0": map[string]any{"energy": "lots"}}
	err = Validate(s, invalid)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSchemaValidation))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.NotEmpty(t, verr.Details)
	assert.False(t, Valid(s, map[string]any{"uptime": 1.0}))
}

func TestRegistry_Require(t *testing.T) {
	registry, err := NewRegistry(map[string][]byte{"iot-gw-v2": []byte(gatewaySchema)}, nil, nil)
	require.NoError(t, err)

	s, rules, err := registry.Require(" iot-gw-v2 ")
	require.NoError(t, err)
	assert.Equal(t, "IOT-GW-V2", s.Type)
	assert.Empty(t, rules)

	_, _, err = registry.Require("legacy")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSchemaNotFound))
}
