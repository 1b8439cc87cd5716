package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestHandleUnmarshalYAML(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want Handle
	}{
		{"integer", "h: 3", Handle{Kind: HandleFixed, Value: 3, Raw: "3"}},
		{"hex integer", "h: 0x10", Handle{Kind: HandleFixed, Value: 16, Raw: "0x10"}},
		{"auto", "h: auto", Handle{Kind: HandleAuto, Raw: "auto"}},
		{"quoted auto", `h: "auto"`, Handle{Kind: HandleAuto, Raw: "auto"}},
		{"other string", "h: first", Handle{Kind: HandleInvalid, Raw: "first"}},
		{"quoted integer", `h: "3"`, Handle{Kind: HandleInvalid, Raw: "3"}},
		{"float", "h: 1.5", Handle{Kind: HandleInvalid, Raw: "1.5"}},
		{"sequence", "h: [1]", Handle{Kind: HandleInvalid, Raw: "<sequence>"}},
		{"absent", "other: 1", Handle{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v struct {
				H Handle `yaml:"h"`
			}
			require.NoError(t, yaml.Unmarshal([]byte(tt.yaml), &v))
			assert.Equal(t, tt.want, v.H)
		})
	}
}

func TestHandleIsAuto(t *testing.T) {
	assert.True(t, Handle{}.IsAuto())
	assert.True(t, AutoHandle().IsAuto())
	assert.False(t, FixedHandle(2).IsAuto())
	assert.False(t, Handle{Kind: HandleInvalid}.IsAuto())
}

func TestHandleMarshalYAML(t *testing.T) {
	type wrapper struct {
		H Handle `yaml:"h,omitempty"`
	}

	out, err := yaml.Marshal(wrapper{H: FixedHandle(4)})
	require.NoError(t, err)
	assert.Equal(t, "h: 4\n", string(out))

	out, err = yaml.Marshal(wrapper{H: AutoHandle()})
	require.NoError(t, err)
	assert.Equal(t, "h: auto\n", string(out))

	out, err = yaml.Marshal(wrapper{})
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(out))
}
