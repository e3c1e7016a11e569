package examplejob

import "spits/lib/module"

// InprocessName is the module path that selects the bundled example
// job: inprocess:concat.
const InprocessName = "concat"

func init() {
	module.Register(InprocessName, New(nil))
}
