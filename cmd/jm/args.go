package main

import (
	"fmt"
	"strings"
)

// parseArgs splits the positional arguments spec.md section 6 describes:
// a run of "key=value" tokens, then a module path, then everything
// after the module path verbatim as the module's own argv (margv).
// cobra handles -h/--help and the "at least one argument" check; this
// function only implements the spec's own flat grammar.
func parseArgs(args []string) (tokens []string, modulePath string, margv []string, err error) {
	i := 0
	for ; i < len(args); i++ {
		if !looksLikeKeyValue(args[i]) {
			break
		}
		tokens = append(tokens, args[i])
	}
	if i >= len(args) {
		return nil, "", nil, fmt.Errorf("missing module path")
	}
	modulePath = args[i]
	if i+1 < len(args) {
		margv = args[i+1:]
	}
	return tokens, modulePath, margv, nil
}

// looksLikeKeyValue reports whether tok has the form "key=value" with a
// non-empty key preceding the first '='. A module path never contains
// an '=' before its first path separator in practice, but the real
// discriminator the original grammar relies on is position: once a
// token fails this test, it and everything after it is the module path
// and margv, even if a later token would otherwise parse as key=value.
func looksLikeKeyValue(tok string) bool {
	idx := strings.IndexByte(tok, '=')
	return idx > 0
}
