package platform

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Profile is a TOML platform description. Constants are keyed by macro
// name so a profile can stand in for the SPM header:
//
//	name = "an521"
//
//	[constants]
//	STATIC_HANDLE_NUM_LIMIT = 32
//	STATIC_HANDLE_IDX_BIT_WIDTH = 5
type Profile struct {
	Name      string         `toml:"name"`
	Constants map[string]int `toml:"constants"`
}

// LoadProfile reads a platform profile.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return nil, fmt.Errorf("platform profile parse failed (%s): %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("platform profile %s: unknown keys %v", path, undecoded)
	}
	return &p, nil
}

// Int returns a constant from the profile.
func (p *Profile) Int(name string) (int, error) {
	v, ok := p.Constants[name]
	if !ok {
		return 0, fmt.Errorf("platform profile %s: %s not defined", p.Name, name)
	}
	return v, nil
}

// Overlay resolves constants from the first lookup that defines them.
type Overlay []Lookup

// Int returns the first definition of name, or the last error.
func (o Overlay) Int(name string) (int, error) {
	err := fmt.Errorf("%s not defined", name)
	for _, l := range o {
		if l == nil {
			continue
		}
		v, lerr := l.Int(name)
		if lerr == nil {
			return v, nil
		}
		err = lerr
	}
	return 0, err
}
