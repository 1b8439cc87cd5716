package loader

import (
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
)

// varRe matches $NAME and ${NAME} references.
var varRe = regexp.MustCompile(`\$(\w+|\{[^}]*\})`)

// Environment resolves variables referenced by manifest and output paths.
// Values from a dotenv file take precedence over the process environment.
type Environment struct {
	overlay map[string]string
	lookup  func(string) (string, bool)
}

// ProcessEnvironment resolves variables from the process environment only.
func ProcessEnvironment() *Environment {
	return &Environment{lookup: os.LookupEnv}
}

// NewEnvironment overlays the variables of the given dotenv files on the
// process environment. Later files win.
func NewEnvironment(envFiles ...string) (*Environment, error) {
	env := ProcessEnvironment()
	if len(envFiles) == 0 {
		return env, nil
	}
	overlay, err := godotenv.Read(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	env.overlay = overlay
	return env, nil
}

// WithValues returns an Environment that resolves only from values.
func WithValues(values map[string]string) *Environment {
	return &Environment{
		overlay: values,
		lookup:  func(string) (string, bool) { return "", false },
	}
}

// Lookup returns the value of a variable.
func (e *Environment) Lookup(name string) (string, bool) {
	if v, ok := e.overlay[name]; ok {
		return v, true
	}
	return e.lookup(name)
}

// Expand substitutes $NAME and ${NAME} references. Unknown variables are
// left as written.
func (e *Environment) Expand(s string) string {
	return varRe.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[1:]
		if len(name) > 1 && name[0] == '{' {
			name = name[1 : len(name)-1]
		}
		if v, ok := e.Lookup(name); ok {
			return v
		}
		return ref
	})
}
