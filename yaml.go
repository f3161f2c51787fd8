package corral

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// OptionsFromYAML reads the declarative subset of Options from YAML: key
// names, modes, scope, trace strategy and context. Function-valued fields
// (Clock, IDGenerator, Logger) cannot be expressed in a file and are attached
// by the caller afterwards. Unknown fields are rejected.
func OptionsFromYAML(r io.Reader) (Options, error) {
	var opts Options
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		if errors.Is(err, io.EOF) {
			return Options{}, nil
		}
		return Options{}, ErrConfig{Reason: fmt.Sprintf("parsing options yaml: %v", err)}
	}
	return opts, nil
}
