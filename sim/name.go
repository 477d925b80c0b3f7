package sim

import (
	"log"
	"strings"
)

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// NameMustBeValid panics if the given name cannot serve as an element name.
// Names are dot-separated tokens of letters, digits, underscores, and
// dashes, such as "LSU.RS" or "Bank0.ReadReq".
func NameMustBeValid(name string) {
	if name == "" {
		log.Panic("name must not be empty")
	}

	for _, token := range strings.Split(name, ".") {
		if token == "" {
			log.Panicf("name %q has an empty token", name)
		}

		for _, r := range token {
			if !isNameRune(r) {
				log.Panicf("invalid character %q in name %q", r, name)
			}
		}
	}
}

func isNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}

	return false
}
