package types

type RunMode string

const (
	// ModeLocal is the mode for running the API server with in-memory collaborators
	ModeLocal RunMode = "local"
	// ModeAPI is the mode for running the API server against postgres
	ModeAPI RunMode = "api"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LedgerStore selects the persistence backend of the stored-value ledger
type LedgerStore string

const (
	LedgerStorePostgres LedgerStore = "postgres"
	LedgerStoreMemory   LedgerStore = "memory"
)

// PubSubBackend selects the transport for the ledger transaction stream
type PubSubBackend string

const (
	PubSubBackendMemory PubSubBackend = "memory"
	PubSubBackendKafka  PubSubBackend = "kafka"
)
