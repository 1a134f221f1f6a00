// Package conf holds value types shared by every section of the TOML
// configuration file.
package conf

import (
	"time"

	"github.com/pkg/errors"
)

// Duration is a time.Duration written as "250ms" in the config file.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(text))
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
