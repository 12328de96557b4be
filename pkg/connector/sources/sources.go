// Package sources links every built-in source connector into the binary.
package sources

import (
	// Import all source connectors to trigger init() registration
	_ "github.com/ajitpratap0/finlake/pkg/connector/sources/anbima"
	_ "github.com/ajitpratap0/finlake/pkg/connector/sources/b3"
	_ "github.com/ajitpratap0/finlake/pkg/connector/sources/bcb"
	_ "github.com/ajitpratap0/finlake/pkg/connector/sources/cvm"
	_ "github.com/ajitpratap0/finlake/pkg/connector/sources/fred"
)

// Names lists the built-in source ids.
var Names = []string{"anbima", "b3", "bcb", "cvm", "fred"}
