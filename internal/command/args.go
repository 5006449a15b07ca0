package command

import (
	"fmt"
	"strconv"
)

// SnapshotID returns the snapshot id from flag name, or from the first
// positional argument when the flag is unset.
func (c *Context) SnapshotID(flag string) (int64, error) {
	if c.Flags != nil && c.Flags.Changed(flag) {
		id, err := c.Flags.GetInt64(flag)
		if err != nil {
			return 0, err
		}
		return checkID(id)
	}
	if len(c.Args) == 0 {
		return 0, fmt.Errorf("--%s is required", flag)
	}
	id, err := strconv.ParseInt(c.Args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snapshot id %q", c.Args[0])
	}
	return checkID(id)
}

func checkID(id int64) (int64, error) {
	if id <= 0 {
		return 0, fmt.Errorf("invalid snapshot id %d", id)
	}
	return id, nil
}

// StringOrArg returns the value of flag, or the first positional argument
// when the flag is empty.
func (c *Context) StringOrArg(flag string) (string, error) {
	v, _ := c.Flags.GetString(flag)
	if v == "" && len(c.Args) > 0 {
		v = c.Args[0]
	}
	if v == "" {
		return "", fmt.Errorf("--%s is required", flag)
	}
	return v, nil
}
