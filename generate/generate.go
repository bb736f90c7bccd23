// Package generate produces default and unique field values.
package generate

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/nasdf/zing/value"

	"github.com/google/uuid"
)

// ErrExhausted is returned when no unused value could be generated.
var ErrExhausted = errors.New("unique value space exhausted")

// Default function names.
const (
	FuncUUID       = "uuid"
	FuncRandom     = "random"
	FuncUserPrefix = "userprefix"
)

const (
	randomAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
	randomLength    = 8
	attemptsPerSize = 8
	maxGrowth       = 8
	maxUserSuffix   = 9
)

// Env is the environment default functions run in.
type Env struct {
	User string
	Rand *rand.Rand
}

// Func generates a default value.
type Func func(env Env) (value.Value, error)

var funcs = map[string]Func{
	FuncUUID: func(env Env) (value.Value, error) {
		return value.String(uuid.NewString()), nil
	},
	FuncRandom: func(env Env) (value.Value, error) {
		return value.String(RandomString(env.Rand, randomAlphabet, randomLength)), nil
	},
	FuncUserPrefix: func(env Env) (value.Value, error) {
		return value.String(ShortPrefix(env.User, 2) + "-" + RandomString(env.Rand, "0123456789", 4)), nil
	},
}

// Lookup returns the default function with the given name.
func Lookup(name string) (Func, bool) {
	fn, ok := funcs[name]
	return fn, ok
}

// Run runs the named default function.
func Run(name string, env Env) (value.Value, error) {
	fn, ok := funcs[name]
	if !ok {
		return nil, fmt.Errorf("unknown default function %q", name)
	}
	return fn(env)
}

// RandomString returns a string of the given length drawn from the alphabet.
func RandomString(r *rand.Rand, alphabet string, length int) string {
	chars := []rune(alphabet)
	var b strings.Builder
	for range length {
		var i int
		if r != nil {
			i = r.IntN(len(chars))
		} else {
			i = rand.IntN(len(chars))
		}
		b.WriteRune(chars[i])
	}
	return b.String()
}

// ShortPrefix returns the first n lower case letters and digits of the user name.
func ShortPrefix(user string, n int) string {
	var out []rune
	for _, r := range strings.ToLower(user) {
		if len(out) >= n {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "u"
	}
	return string(out)
}

// Taken reports whether a candidate value is already in use.
type Taken func(candidate string) (bool, error)

// AppendRandom appends a random suffix to base until an unused value is found.
//
// The suffix grows by one character after repeated collisions. Suffixes and
// values in the blacklist are never returned.
func AppendRandom(r *rand.Rand, base, alphabet string, length int, blacklist []string, taken Taken) (string, error) {
	for size := length; size < length+maxGrowth; size++ {
		for range attemptsPerSize {
			suffix := RandomString(r, alphabet, size)
			candidate := base + suffix
			if slices.Contains(blacklist, suffix) || slices.Contains(blacklist, candidate) {
				continue
			}
			used, err := taken(candidate)
			if err != nil {
				return "", err
			}
			if !used {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrExhausted, base)
}

// AppendUserPrefix appends the user's short prefix and a numeric suffix to base.
//
// The prefix is extended by one character after every suffix collided.
func AppendUserPrefix(base, user string, taken Taken) (string, error) {
	full := []rune(ShortPrefix(user, len(user)))
	for n := 1; n <= len(full); n++ {
		prefix := string(full[:n])
		for i := 1; i <= maxUserSuffix; i++ {
			candidate := base + prefix + strconv.Itoa(i)
			used, err := taken(candidate)
			if err != nil {
				return "", err
			}
			if !used {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrExhausted, base)
}
