package util

import (
	"runtime"
	"strconv"

	_ "go.uber.org/automaxprocs"
)

// ConcurrencyLimit is a flag value for a number of workers. "auto"
// selects GOMAXPROCS; values below one are raised to one.
type ConcurrencyLimit int

func (c *ConcurrencyLimit) String() string {
	if *c == 0 {
		return "auto"
	}
	return strconv.Itoa(int(*c))
}

func (c *ConcurrencyLimit) Set(v string) error {
	p := runtime.GOMAXPROCS(-1)
	if v != "" && v != "auto" {
		var err error
		if p, err = strconv.Atoi(v); err != nil {
			return err
		}
	}
	*c = ConcurrencyLimit(max(p, 1))
	return nil
}

func (c *ConcurrencyLimit) UnmarshalText(text []byte) error {
	return c.Set(string(text))
}

func (c ConcurrencyLimit) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
