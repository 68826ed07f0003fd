package cli

import (
	"github.com/spf13/pflag"

	"github.com/ppiankov/lockwatch/internal/model"
)

// levelValue is a pflag.Value accepting restricted, baseline or privileged.
type levelValue struct {
	level *model.PolicyLevel
}

var _ pflag.Value = levelValue{}

func newLevelValue(def model.PolicyLevel, p *model.PolicyLevel) levelValue {
	*p = def
	return levelValue{level: p}
}

func (v levelValue) String() string {
	if v.level == nil {
		return ""
	}
	return v.level.String()
}

func (v levelValue) Set(s string) error {
	l, err := model.ParseLevel(s)
	if err != nil {
		return err
	}
	*v.level = l
	return nil
}

func (v levelValue) Type() string { return "level" }
