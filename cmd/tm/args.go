package main

import (
	"fmt"
	"strings"
)

// parseArgs mirrors cmd/jm's grammar: a run of "key=value" tokens, then
// a module path, then the module's own argv. tm only forwards the
// module path and module argv to NewWorker; see spec.md section 6.
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
	margv = args[i+1:]
	return tokens, modulePath, margv, nil
}

func looksLikeKeyValue(tok string) bool {
	idx := strings.IndexByte(tok, '=')
	return idx > 0
}
