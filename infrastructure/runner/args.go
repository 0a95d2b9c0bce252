package runner

import (
	"strconv"
)

// FlagBuilder constructs "--name value" argument lists for the Python-side tools
type FlagBuilder struct {
	args []string
}

func NewFlagBuilder(base ...string) *FlagBuilder {
	return &FlagBuilder{args: append([]string(nil), base...)}
}

func (b *FlagBuilder) String(name, value string) *FlagBuilder {
	b.args = append(b.args, "--"+name, value)
	return b
}

func (b *FlagBuilder) Int(name string, value int) *FlagBuilder {
	return b.String(name, strconv.Itoa(value))
}

// Bool renders booleans as true/false, the form the scripts expect.
func (b *FlagBuilder) Bool(name string, value bool) *FlagBuilder {
	return b.String(name, strconv.FormatBool(value))
}

// Switch appends a bare flag when on is set.
func (b *FlagBuilder) Switch(name string, on bool) *FlagBuilder {
	if on {
		b.args = append(b.args, "--"+name)
	}
	return b
}

func (b *FlagBuilder) Build() []string {
	return append([]string(nil), b.args...)
}
