// Package config defines the application configuration structure and
// loading. A single loader serves the API server, the task worker and the
// beat scheduler, which is what keeps the broker hostname and database
// connection contracts identical across all three processes.
package config
