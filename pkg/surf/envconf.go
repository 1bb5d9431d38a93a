package surf

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"
)

// EnvConf reads configuration values from environment variables. Every
// lookup is remembered together with its fallback and description, so that
// PrintHelp can list all supported variables.
type EnvConf struct {
	lookup func(string) (string, bool)
	vars   []variable
	errs   []error
}

type variable struct {
	name     string
	fallback string
	desc     string
}

// NewEnvConf returns configuration instance that use environment variable for
// configuration.
func NewEnvConf() *EnvConf {
	return &EnvConf{lookup: os.LookupEnv}
}

// NewEnvConfFrom returns configuration instance reading values from given
// map instead of the process environment.
func NewEnvConfFrom(env map[string]string) *EnvConf {
	return &EnvConf{
		lookup: func(name string) (string, bool) {
			v, ok := env[name]
			return v, ok
		},
	}
}

// Err returns the first parse error encountered, if any. Variables that
// cannot be parsed resolve to their fallback value.
func (c *EnvConf) Err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs[0]
}

func (c *EnvConf) PrintHelp(out io.Writer) {
	fmt.Fprintln(out, "Supported environment variables:")
	w := tabwriter.NewWriter(out, 1, 2, 1, ' ', tabwriter.TabIndent)
	defer w.Flush()
	for _, v := range c.vars {
		io.WriteString(w, v.name)
		io.WriteString(w, "\t")
		io.WriteString(w, v.fallback)
		if len(v.desc) > 0 {
			io.WriteString(w, "\t")
			io.WriteString(w, v.desc)
		}
		io.WriteString(w, "\n")
	}
}

func (c *EnvConf) remember(name, fallback, desc string) (string, bool) {
	c.vars = append(c.vars, variable{
		name:     name,
		fallback: fallback,
		desc:     desc,
	})
	return c.lookup(name)
}

func (c *EnvConf) Str(name, fallback, description string) string {
	if v, ok := c.remember(name, fallback, description); ok {
		return v
	}
	return fallback
}

// Secret works like Str but never exposes the fallback value in help output.
func (c *EnvConf) Secret(name, fallback, description string) string {
	if v, ok := c.remember(name, "<secret>", description); ok {
		return v
	}
	return fallback
}

func (c *EnvConf) Int(name string, fallback int, description string) int {
	v, ok := c.remember(name, strconv.Itoa(fallback), description)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s: cannot parse integer: %s", name, err))
		return fallback
	}
	return n
}

func (c *EnvConf) Bool(name string, fallback bool, description string) bool {
	v, ok := c.remember(name, fmt.Sprint(fallback), description)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s: cannot parse boolean: %s", name, err))
		return fallback
	}
	return b
}

func (c *EnvConf) Duration(name string, fallback time.Duration, description string) time.Duration {
	v, ok := c.remember(name, fallback.String(), description)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.errs = append(c.errs, fmt.Errorf("%s: cannot parse duration: %s", name, err))
		return fallback
	}
	return d
}
