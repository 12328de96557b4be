// Package connector groups the source connector framework of finlake.
//
// # Architecture Overview
//
// The connector package is organized into several sub-packages:
//
//   - core: Defines the Source interface, the Result a fetch returns and the
//     Deps a connector is built with. A fetch never returns a Go error;
//     failures are reported as a Result with StatusError so an ingestion run
//     can continue with the remaining datasets.
//
//   - registry: Implements a factory pattern for connector discovery and
//     instantiation. Connectors self-register during initialization together
//     with a ConnectorInfo describing their datasets and credentials.
//
//   - sources: Contains the built-in connectors (bcb, fred, b3, cvm, anbima).
//     Importing the sources package links all of them into a binary.
//
//   - shared/tabular: Turns decoded JSON records and CSV rows into typed
//     tables, inferring column types.
//
// # Core Concepts
//
// Connectors are thin. They build requests, hand them to the protected
// fetcher from Deps (cache, rate limit, jitter, retry) and translate the
// payload into a table or a set of raw files. A connector is created once
// per source per run, so per-run state such as the limiter window never
// leaks between runs.
//
// # Example Usage
//
// Creating and using a source connector:
//
//	src, err := registry.CreateSource("bcb", core.Deps{
//		Fetcher: fetcher,
//		HTTP:    httpClient,
//		Logger:  logger,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	res := src.Fetch(ctx, "ipca", start, end)
//	if res.Status == core.StatusError {
//		log.Printf("fetch failed: %s", res.Error)
//	}
//
// # Writing a Connector
//
// 1. Implement core.Source and register a factory in init()
// 2. Route every request through Deps.Fetcher
// 3. Return core.UnknownDataset for names ListDatasets does not offer
// 4. Return StatusNoData, not an empty success, when the period has no data
// 5. Read credentials with Deps.Env so tests can inject them
package connector
