package template

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const alphaNumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// predefined holds generators for the $-prefixed dynamic variables. They are
// consulted only when the scope has no entry with the same key.
var predefined = map[string]func() string{
	"$guid":       func() string { return uuid.NewString() },
	"$randomUUID": func() string { return uuid.NewString() },
	"$timestamp": func() string {
		return strconv.FormatInt(time.Now().Unix(), 10)
	},
	"$isoTimestamp": func() string {
		return time.Now().UTC().Format(time.RFC3339Nano)
	},
	"$randomInt": func() string {
		return strconv.Itoa(rand.IntN(1001))
	},
	"$randomBoolean": func() string {
		return strconv.FormatBool(rand.IntN(2) == 1)
	},
	"$randomAlphaNumeric": func() string {
		return string(alphaNumeric[rand.IntN(len(alphaNumeric))])
	},
}

// IsPredefined reports whether key names a dynamic variable.
func IsPredefined(key string) bool {
	_, ok := predefined[key]
	return ok
}
