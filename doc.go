// Package finlake ingests Brazilian and US financial data into a local,
// partitioned data lake.
//
// Every upstream request goes through a protected fetch path: a response
// cache, a sliding-window rate limiter, a jittered delay and a retrier with
// exponential backoff. Fetched datasets are written to the lake as raw files
// and curated Parquet (or Arrow) tables, and every successful dataset
// ingestion leaves a JSON manifest listing the files written with their
// SHA-256 hashes.
//
// # Sources
//
//	bcb     - Banco Central do Brasil SGS series (Selic, IPCA, USD/BRL, ...)
//	fred    - Federal Reserve Economic Data (requires FRED_API_KEY)
//	b3      - B3 COTAHIST yearly quote files (raw only)
//	cvm     - CVM open data: company and fund registers, DFP and ITR filings
//	anbima  - ANBIMA funds, fixed income and indices (OAuth2 client credentials)
//
// # Quick Start
//
//	finlake config init
//	finlake ingest --source bcb --from 2024-01-01 --to 2024-06-30
//	finlake status
//	finlake verify
//	finlake sync --backend s3 --bucket my-lake --dry-run
//
// # Key Packages
//
//	internal/pipeline    - Ingestion runs: per-source fetchers, lake writes, manifests
//	pkg/clients          - HTTP client, rate limiter, delayer, retrier, protected fetcher
//	pkg/cache            - TTL response cache with compressed entries
//	pkg/connector        - Source contract, registry and the built-in connectors
//	pkg/lake             - Partition layout, curated tables, manifests and verification
//	pkg/formats/columnar - Parquet and Arrow IPC encoding of tables
//	pkg/catalog          - SQL index of manifests for run history
//	pkg/remote           - Sync of curated files to S3, GCS, Google Drive or a directory
//	pkg/config           - YAML and environment configuration
//
// # Layout
//
//	data/
//	  raw/<source>/<year>/<month>/<file>
//	  curated/<domain>/<dataset>/year=<Y>/month=<M>/<dataset>_<YYYYMMDD>.parquet
//	  manifests/<domain>/<dataset>/<source>_<YYYYMMDD_HHMMSS>.json
//
// Domains are macro, market_data and fundamentals.
package finlake
